package service

import (
	"sync"

	"github.com/google/uuid"
)

// instanceLocks serialises operations on one instance. Entries are dropped
// when the instance is deleted.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *instanceLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (l *instanceLocks) forget(id uuid.UUID) {
	l.mu.Lock()
	delete(l.locks, id)
	l.mu.Unlock()
}
