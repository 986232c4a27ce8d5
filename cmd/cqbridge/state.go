package main

import "sync"

// ToggleStore is the bridge's in-memory record of operator intent: one
// boolean per controllable, all false on process start. It is not persisted
// and never confirmed against the console (there is no read-back channel);
// it tracks what the operator asked for, not what the console actually did.
//
// Mutations happen on the dispatcher's event path only, but reads can come
// from the IPC and state hub goroutines, so access is mutex-guarded.
type ToggleStore struct {
	mu     sync.Mutex
	values map[string]bool
}

// NewToggleStore creates a store with every listed controllable off.
func NewToggleStore(ids ...string) *ToggleStore {
	values := make(map[string]bool, len(ids))
	for _, id := range ids {
		values[id] = false
	}
	return &ToggleStore{values: values}
}

// Get returns the current value for id (false if unknown).
func (s *ToggleStore) Get(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[id]
}

// Set stores an explicit value for id.
func (s *ToggleStore) Set(id string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = value
}

// Toggle flips id and returns the new value.
func (s *ToggleStore) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = !s.values[id]
	return s.values[id]
}

// Snapshot returns a copy of all toggle values.
func (s *ToggleStore) Snapshot() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.values))
	for id, v := range s.values {
		out[id] = v
	}
	return out
}
