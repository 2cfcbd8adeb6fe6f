// Package lock serialises campaign apply, revert and recovery across
// goroutines and replicas with an expiring lease.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAcquired is returned when the lock stayed busy for the whole
	// wait budget.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrLeaseLost is returned by Refresh and Release when the lease expired
	// and someone else may now hold the lock.
	ErrLeaseLost = errors.New("lease lost")
)

// Lease is a held lock.
type Lease interface {
	// Refresh extends the lease by its TTL.
	Refresh(ctx context.Context) error
	// Release gives the lock up. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// Locker hands out the single campaign lease.
type Locker interface {
	// Acquire blocks until the lease is held, ctx is done or wait elapses.
	Acquire(ctx context.Context, wait time.Duration) (Lease, error)
}

// Local is an in-process Locker for single-replica deployments.
type Local struct {
	sem chan struct{}
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, wait time.Duration) (Lease, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return &localLease{sem: l.sem}, nil
	default:
	}

	select {
	case l.sem <- struct{}{}:
		return &localLease{sem: l.sem}, nil
	case <-timer.C:
		return nil, ErrNotAcquired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localLease struct {
	sem      chan struct{}
	released bool
}

func (l *localLease) Refresh(context.Context) error {
	if l.released {
		return ErrLeaseLost
	}
	return nil
}

func (l *localLease) Release(context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	<-l.sem
	return nil
}
