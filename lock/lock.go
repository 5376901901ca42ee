// Package lock serializes writers of the same filesystem name, within one
// process (LocalLocker) or across daemons sharing an etcd cluster (EtcdLocker).
package lock

import (
	"context"
	"sync"
)

// Locker blocks until the named lock is acquired or ctx is done
type Locker interface {
	Lock(ctx context.Context, name string) (Unlocker, error)
}

// Unlocker releases an acquired lock
type Unlocker interface {
	Unlock() error
}

// LocalLocker keeps one mutex per name
type LocalLocker struct {
	m     sync.Mutex
	locks map[string]*namedLock
}

type namedLock struct {
	ch   chan struct{} // buffered(1): holding the token means holding the lock
	refs int
}

// NewLocalLocker returns a process local Locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*namedLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, name string) (Unlocker, error) {
	l.m.Lock()
	nl, found := l.locks[name]
	if !found {
		nl = &namedLock{ch: make(chan struct{}, 1)}
		l.locks[name] = nl
	}
	nl.refs++
	l.m.Unlock()

	select {
	case nl.ch <- struct{}{}:
		return &localUnlocker{locker: l, name: name, nl: nl}, nil
	case <-ctx.Done():
		l.release(name, nl)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(name string, nl *namedLock) {
	l.m.Lock()
	defer l.m.Unlock()
	nl.refs--
	if nl.refs == 0 {
		delete(l.locks, name)
	}
}

type localUnlocker struct {
	locker *LocalLocker
	name   string
	nl     *namedLock
	once   sync.Once
}

func (u *localUnlocker) Unlock() error {
	u.once.Do(func() {
		<-u.nl.ch
		u.locker.release(u.name, u.nl)
	})
	return nil
}
