// Package locks serializes lifecycle transitions per workflow id.
package locks

import (
	"context"
	"errors"
	"sync"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker grants exclusive access to a key until the returned Unlock is called
// or ctx ends while waiting.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
	Acquire(ctx context.Context, key string) (*Lease, error)
}

// Lease is a held lock. Lost is closed when the holder stops owning the key
// without having released it, for example after a Redis lock expired.
type Lease struct {
	release  Unlock
	lost     chan struct{}
	lostOnce sync.Once
}

func newLease(release Unlock) *Lease {
	return &Lease{release: release, lost: make(chan struct{})}
}

// Release gives the key up. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.release()
}

// Lost is closed once ownership of the key can no longer be guaranteed.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

func (l *Lease) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}
