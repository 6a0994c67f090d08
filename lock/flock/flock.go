package flock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/projecteru2/bootwatch/lock"
)

const retryDelay = 100 * time.Millisecond

var _ lock.Locker = (*Lock)(nil)

// Lock is an flock(2) lock on a sidecar file.
//
// The size-1 channel serialises holders inside this process without a
// syscall; the flock fd excludes other processes. A fresh fd is opened per
// acquisition because flock locks are per open file description.
type Lock struct {
	path  string
	token chan struct{}
	held  *flock.Flock
}

// New creates a Lock backed by path. The file is created on first acquisition.
func New(path string) *Lock {
	return &Lock{path: path, token: make(chan struct{}, 1)}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Lock blocks until the lock is acquired or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.token <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
	}
	ok, err := l.acquire(func(fl *flock.Flock) (bool, error) {
		return fl.TryLockContext(ctx, retryDelay)
	})
	switch {
	case err != nil:
		return fmt.Errorf("acquire flock %s: %w", l.path, err)
	case !ok:
		return fmt.Errorf("acquire flock %s: %w", l.path, ctx.Err())
	}
	return nil
}

// TryLock acquires without blocking; (false, nil) means someone else holds it.
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	select {
	case l.token <- struct{}{}:
	default:
		return false, nil
	}
	return l.acquire(func(fl *flock.Flock) (bool, error) {
		return fl.TryLock()
	})
}

// Unlock releases the lock. Unlocking an unheld Lock is a no-op.
func (l *Lock) Unlock(_ context.Context) error {
	var err error
	if l.held != nil {
		err = l.held.Unlock()
		l.held = nil
	}
	select {
	case <-l.token:
	default:
	}
	if err != nil {
		return fmt.Errorf("release flock %s: %w", l.path, err)
	}
	return nil
}

// acquire runs fn on a fresh fd; on failure the in-process token is returned
// so every successful Lock/TryLock pairs with exactly one Unlock.
func (l *Lock) acquire(fn func(*flock.Flock) (bool, error)) (bool, error) {
	fl := flock.New(l.path)
	ok, err := fn(fl)
	if err != nil || !ok {
		<-l.token
		return false, err
	}
	l.held = fl
	return true, nil
}
