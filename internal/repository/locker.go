package repository

import (
	"sync"
)

// sessionLocker provides per-session write locks backed by sync.Map, so
// appends to the same session are always serialized even when the calling
// goroutines race each other for the first write.
type sessionLocker struct {
	locks sync.Map // map[string]*sync.Mutex
}

func (l *sessionLocker) getOrCreate(sessionID string) *sync.Mutex {
	if m, ok := l.locks.Load(sessionID); ok {
		return m.(*sync.Mutex)
	}
	actual, _ := l.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Lock blocks until sessionID's write lock is acquired and returns a
// release function.
func (l *sessionLocker) Lock(sessionID string) func() {
	m := l.getOrCreate(sessionID)
	m.Lock()
	return m.Unlock
}
