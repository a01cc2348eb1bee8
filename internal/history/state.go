package history

import (
	"sync"

	"wallet-engine/internal/models"
)

// QueryState tracks the history shown by one view. Loading gates new
// fetches so manual and timer refreshes never overlap.
type QueryState struct {
	mu        sync.Mutex
	fetched   bool
	loading   bool
	transfers models.Transfers
	lastErr   error

	// generation is bumped by Reset; a fetch begun in an older generation
	// is discarded when it finishes.
	generation uint64
	fetchGen   uint64
}

// Snapshot is a point-in-time copy of a QueryState.
type Snapshot struct {
	Fetched   bool
	Loading   bool
	Transfers models.Transfers
	Err       error
}

// TryBegin marks a fetch as started. It reports false when one is already
// in flight.
func (s *QueryState) TryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return false
	}
	s.loading = true
	s.fetchGen = s.generation
	return true
}

// Finish records the outcome of the fetch started by TryBegin. A failed
// fetch keeps the previous transfers but exposes the error so the view can
// offer a retry. It reports false when a Reset superseded the fetch.
func (s *QueryState) Finish(transfers models.Transfers, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if s.fetchGen != s.generation {
		return false
	}
	s.lastErr = err
	if err != nil {
		return true
	}
	s.transfers = transfers
	s.fetched = true
	return true
}

func (s *QueryState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Fetched:   s.fetched,
		Loading:   s.loading,
		Transfers: s.transfers,
		Err:       s.lastErr,
	}
}

// Reset clears the state, e.g. when the history dialog closes. An in-flight
// fetch keeps its loading guard but its result is dropped.
func (s *QueryState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.fetched = false
	s.transfers = models.Transfers{}
	s.lastErr = nil
}
