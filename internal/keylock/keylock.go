// Package keylock serialises work per key while letting distinct keys
// proceed in parallel.
package keylock

import "sync"

// Set is a collection of reference-counted mutexes keyed by string.
// The zero value is ready to use.
type Set struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock function.
func (s *Set) Lock(key string) (unlock func()) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*entry)
	}
	e, ok := s.locks[key]
	if !ok {
		e = &entry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
