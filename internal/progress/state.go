package progress

import (
	"slices"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// State is the in-memory checkpoint shared by the store backends. It is not
// safe for concurrent use; callers hold their own lock.
type State struct {
	completed map[string]struct{}
	lastPage  int
	errors    []crawler.ErrorRecord
}

// NewState returns an empty checkpoint.
func NewState() *State {
	return &State{completed: make(map[string]struct{})}
}

// Contains reports whether id was completed.
func (s *State) Contains(id string) bool {
	_, ok := s.completed[id]
	return ok
}

// MarkCompleted adds id and reports whether it was new.
func (s *State) MarkCompleted(id string) bool {
	if id == "" || s.Contains(id) {
		return false
	}
	s.completed[id] = struct{}{}
	return true
}

// AdvancePage moves the checkpoint forward. It never moves backwards.
func (s *State) AdvancePage(page int) bool {
	if page <= s.lastPage {
		return false
	}
	s.lastPage = page
	return true
}

// RecordError appends rec to the error list.
func (s *State) RecordError(rec crawler.ErrorRecord) {
	s.errors = append(s.errors, rec)
}

// LastPage returns the last fully processed page, 0 when none.
func (s *State) LastPage() int {
	return s.lastPage
}

// Completed returns the completed IDs in sorted order.
func (s *State) Completed() []string {
	ids := make([]string, 0, len(s.completed))
	for id := range s.completed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Errors returns a copy of the error list.
func (s *State) Errors() []crawler.ErrorRecord {
	return slices.Clone(s.errors)
}

// Snapshot summarizes the state.
func (s *State) Snapshot() crawler.ProgressSnapshot {
	return crawler.ProgressSnapshot{
		LastPage:  s.lastPage,
		Completed: len(s.completed),
		Errors:    len(s.errors),
	}
}
