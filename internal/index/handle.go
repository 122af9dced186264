package index

import "sync/atomic"

// Handle is the swappable reference to the active Store. Rebuild produces a
// replacement store and the handle swaps it in atomically, so readers always
// see either the old aggregate or the new one, never a mix.
type Handle struct {
	ptr atomic.Pointer[Store]
}

// NewHandle wraps an initial store.
func NewHandle(s *Store) *Handle {
	h := &Handle{}
	h.ptr.Store(s)
	return h
}

// Load returns the active store.
func (h *Handle) Load() *Store {
	return h.ptr.Load()
}

// Swap installs a new store and returns the previous one.
func (h *Handle) Swap(s *Store) *Store {
	return h.ptr.Swap(s)
}
