// Package store implements C1 (WorkerStore): a durable, cached,
// per-worker-serialized view over worker profiles, plus the shared KV
// abstraction every durable-record component (store, activity, auction)
// is built on.
package store

import (
	"context"
	"fmt"
	"net/http"

	nc "github.com/dataparency-dev/natsclient"
)

// KV is the opaque-record durable store contract from spec §6: conditional
// put, point read, addressed by domain/entity/aspect. The core never
// depends on a specific vendor beyond this interface.
type KV interface {
	Put(ctx context.Context, domain, entity, aspect string, data []byte) error
	Get(ctx context.Context, domain, entity, aspect string) ([]byte, error)
}

// NatsKV implements KV on top of the teacher's natsclient package, using
// the exact domain/entity/aspect/RDID addressing its own storeData/
// retrieveData helpers used.
type NatsKV struct {
	server string
	token  nc.APIToken
}

func NewNatsKV(server string, token nc.APIToken) *NatsKV {
	return &NatsKV{server: server, token: token}
}

func (k *NatsKV) Put(ctx context.Context, domain, entity, aspect string, data []byte) error {
	rdid, status := nc.RelationRetrieve(k.server, entity, k.token)
	if status != http.StatusOK {
		rdid, status = nc.RelationRegister(k.server, entity, k.token, "write")
		if status != http.StatusOK {
			return fmt.Errorf("%w: cannot establish RDID for %s/%s (status %d)", errStorageUnavailable, domain, entity, status)
		}
	}

	dflags := make(map[string]interface{})
	nc.SetDomain(dflags, domain)
	nc.SetEntity(dflags, entity)
	nc.SetRDID(dflags, rdid)
	nc.SetAspect(dflags, aspect)

	rsp := nc.Post(k.server, data, dflags, k.token)
	if rsp.Header.Status != http.StatusOK {
		return fmt.Errorf("%w: store %s/%s/%s: %s (status %d)", errStorageUnavailable, domain, entity, aspect, rsp.Header.ErrorStr, rsp.Header.Status)
	}
	return nil
}

func (k *NatsKV) Get(ctx context.Context, domain, entity, aspect string) ([]byte, error) {
	rdid, status := nc.RelationRetrieve(k.server, entity, k.token)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, domain, entity)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: no RDID for %s/%s (status %d)", errStorageUnavailable, domain, entity, status)
	}

	dflags := make(map[string]interface{})
	nc.SetDomain(dflags, domain)
	nc.SetEntity(dflags, entity)
	nc.SetRDID(dflags, rdid)
	nc.SetAspect(dflags, aspect)
	nc.SetTag(dflags, "data")
	nc.SetTimestamp(dflags, "latest")

	rsp := nc.Get(k.server, dflags, k.token)
	if rsp.Header.Status != http.StatusOK {
		return nil, fmt.Errorf("%w: retrieve %s/%s/%s: %s (status %d)", errStorageUnavailable, domain, entity, aspect, rsp.Header.ErrorStr, rsp.Header.Status)
	}
	return rsp.Response, nil
}
