// Package lock serialises writers on a string key within one process or,
// with redis configured, across processes.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyKey   = errors.New("lock_key_empty")
	ErrInvalidTTL = errors.New("lock_ttl_invalid")
)

// Release gives the lock back. It is safe to call more than once.
type Release func()

// Locker blocks until key is held or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}
