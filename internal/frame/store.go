package frame

import (
	"sync/atomic"
	"time"
)

// Store is the single shared slot between the acquisition loop and the
// display. It holds at most one Result; the latest write always wins.
type Store struct {
	result atomic.Pointer[Result]

	// unread is set by Set and cleared by Get. A Set that finds it still set
	// replaced a result no reader ever saw.
	unread     atomic.Bool
	overwrites atomic.Uint64
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current result, or nil if there is none.
// The returned Result must be treated as read-only.
func (s *Store) Get() *Result {
	r := s.result.Load()
	if r != nil {
		s.unread.Store(false)
	}
	return r
}

// Set atomically replaces the current result.
func (s *Store) Set(r *Result) {
	if r == nil {
		s.Clear()
		return
	}
	s.result.Store(r)
	if s.unread.Swap(true) {
		s.overwrites.Add(1)
	}
}

// Clear atomically empties the slot.
func (s *Store) Clear() {
	s.result.Store(nil)
	s.unread.Store(false)
}

// Overwrites returns how many results were replaced before any reader loaded them.
func (s *Store) Overwrites() uint64 {
	return s.overwrites.Load()
}

// AgeSeconds returns the age of the current result in seconds.
// Returns -1 if the slot is empty.
func (s *Store) AgeSeconds() float64 {
	r := s.result.Load()
	if r == nil {
		return -1
	}
	return time.Since(r.FetchedAt).Seconds()
}
