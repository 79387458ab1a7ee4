package domain

import "sync"

// OwnerLocks serializes work per owner: one holder per owner at a time,
// different owners run in parallel. Idle entries are dropped.
type OwnerLocks struct {
	mu    sync.Mutex
	slots map[string]*ownerSlot
}

type ownerSlot struct {
	mu   sync.Mutex
	refs int
}

func NewOwnerLocks() *OwnerLocks {
	return &OwnerLocks{slots: make(map[string]*ownerSlot)}
}

// Lock blocks until the owner's slot is free and returns its release func.
func (l *OwnerLocks) Lock(owner string) (unlock func()) {
	l.mu.Lock()
	s, ok := l.slots[owner]
	if !ok {
		s = &ownerSlot{}
		l.slots[owner] = s
	}
	s.refs++
	l.mu.Unlock()

	s.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Unlock()
			l.mu.Lock()
			s.refs--
			if s.refs == 0 {
				delete(l.slots, owner)
			}
			l.mu.Unlock()
		})
	}
}

func (l *OwnerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
