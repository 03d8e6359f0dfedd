// Package registry provides the process-local claim and dedup sets shared by
// the polling and event-driven paths. Both are rebuilt empty on restart.
package registry

import "sync"

// InFlight tracks keys that currently have an active sequence.
type InFlight[K comparable] struct {
	mu   sync.Mutex
	keys map[K]struct{}
}

func NewInFlight[K comparable]() *InFlight[K] {
	return &InFlight[K]{keys: make(map[K]struct{})}
}

// TryClaim atomically claims k. It returns false when k is already claimed.
func (r *InFlight[K]) TryClaim(k K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[k]; ok {
		return false
	}
	r.keys[k] = struct{}{}
	return true
}

func (r *InFlight[K]) Release(k K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, k)
}

func (r *InFlight[K]) Has(k K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[k]
	return ok
}

func (r *InFlight[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Reset drops every claim.
func (r *InFlight[K]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = make(map[K]struct{})
}

// Set is a concurrency-safe membership set, used for processed ids.
type Set[K comparable] struct {
	mu   sync.RWMutex
	keys map[K]struct{}
}

func NewSet[K comparable]() *Set[K] {
	return &Set[K]{keys: make(map[K]struct{})}
}

// Add inserts k and reports whether it was newly added.
func (s *Set[K]) Add(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = struct{}{}
	return true
}

func (s *Set[K]) Has(k K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[k]
	return ok
}

func (s *Set[K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *Set[K]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[K]struct{})
}
