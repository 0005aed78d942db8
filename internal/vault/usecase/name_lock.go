package usecase

import "sync"

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// NameLocker serializes operations on the same entry name. Locks for different names are
// independent, and a name's mutex is released from the map once nobody holds or waits on it.
type NameLocker struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

// NewNameLocker creates an empty NameLocker.
func NewNameLocker() *NameLocker {
	return &NameLocker{locks: make(map[string]*nameLock)}
}

// Lock blocks until the lock for name is held and returns the function that releases it.
func (l *NameLocker) Lock(name string) (unlock func()) {
	l.mu.Lock()
	lock, ok := l.locks[name]
	if !ok {
		lock = &nameLock{}
		l.locks[name] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

func (l *NameLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
