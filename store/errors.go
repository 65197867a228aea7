package store

import (
	"errors"

	"github.com/dataparency-dev/verification-core/types"
)

var errStorageUnavailable = types.ErrStorageUnavailable

// ErrNotFound signals a Get for a key that simply doesn't exist yet,
// distinct from a transient storage failure; callers map it to a
// domain-specific not-found error (e.g. types.ErrWorkerNotFound).
var ErrNotFound = errors.New("record not found")
