package namedlocker

import (
	"sync"
)

type namedLock struct {
	mu   sync.RWMutex
	refs int
}

// NamedLocker serializes work per name (an account id or a queue id).
// Locks are created lazily and dropped once nobody holds or waits on them,
// so the set does not grow with every id ever touched.
type NamedLocker struct {
	guard sync.Mutex
	locks map[string]*namedLock
}

// NewNamedLocker creates a new named locker
func NewNamedLocker() *NamedLocker {
	return &NamedLocker{
		locks: make(map[string]*namedLock),
	}
}

func (nl *NamedLocker) acquire(name string) *namedLock {
	nl.guard.Lock()
	defer nl.guard.Unlock()
	l, ok := nl.locks[name]
	if !ok {
		l = &namedLock{}
		nl.locks[name] = l
	}
	l.refs++
	return l
}

func (nl *NamedLocker) release(name string) *namedLock {
	nl.guard.Lock()
	defer nl.guard.Unlock()
	l, ok := nl.locks[name]
	if !ok {
		panic("namedlocker: unlock of unlocked name " + name)
	}
	l.refs--
	if l.refs == 0 {
		delete(nl.locks, name)
	}
	return l
}

// Lock locks the named lock for write access
func (nl *NamedLocker) Lock(name string) {
	nl.acquire(name).mu.Lock()
}

// Unlock unlocks the named lock for write access, panics on non existence
func (nl *NamedLocker) Unlock(name string) {
	nl.release(name).mu.Unlock()
}

// RLock locks the named lock for read access
func (nl *NamedLocker) RLock(name string) {
	nl.acquire(name).mu.RLock()
}

// RUnlock unlocks the named lock for read access, panics on non existence
func (nl *NamedLocker) RUnlock(name string) {
	nl.release(name).mu.RUnlock()
}

// WithLock runs fn while holding the write lock for name.
func (nl *NamedLocker) WithLock(name string, fn func() error) error {
	nl.Lock(name)
	defer nl.Unlock(name)
	return fn()
}

// Len returns the number of names currently locked or awaited.
func (nl *NamedLocker) Len() int {
	nl.guard.Lock()
	defer nl.guard.Unlock()
	return len(nl.locks)
}
