// Package lock serializes work on a single key, typically one position.
//
// LocalLocker is enough for a single instance. RedisLocker coordinates
// several instances (an API replica and a grading worker, say) through a
// SETNX lock with a TTL.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockHeld is returned when a lock could not be acquired before the
// caller's deadline.
var ErrLockHeld = errors.New("lock: already held")

// Locker acquires an exclusive lock on key. The returned unlock function
// must be called exactly once; calling it again is a no-op.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex. Waiters are served as the
// runtime schedules them; entries are dropped once no one holds or waits.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // buffered(1): a token in the channel means free
	refs int
}

// NewLocalLocker creates an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case <-e.ch:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, errors.Join(ErrLockHeld, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *LocalLocker) release(key string, e *entry, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held {
		e.ch <- struct{}{}
	}
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
