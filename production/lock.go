package production

import (
	"context"
	"sync"
)

// Locker serialises reviewers working on the same batch. It is an
// optimisation that saves a losing confirm from deriving entries; the
// store's compare-and-set remains the correctness guard.
type Locker interface {
	// Acquire returns ErrBatchBusy if the key is already held.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is a process-local Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrBatchBusy
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// LockKey is the lock name for a batch.
func LockKey(id BatchID) string {
	return "production-batch:" + string(id)
}
