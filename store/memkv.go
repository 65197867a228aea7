package store

import (
	"context"
	"fmt"
	"sync"
)

// MemKV is an in-process KV used by tests and the demo entrypoint, so the
// rest of the package can be exercised without a live NATS/natsclient
// backend.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func key(domain, entity, aspect string) string {
	return domain + "/" + entity + "/" + aspect
}

func (m *MemKV) Put(ctx context.Context, domain, entity, aspect string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key(domain, entity, aspect)] = cp
	return nil
}

func (m *MemKV) Get(ctx context.Context, domain, entity, aspect string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key(domain, entity, aspect)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, domain, entity, aspect)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}
