package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/local"
)

// TimestampLayout is the UTC wall-clock format used for error timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

var errMissingCompleted = errors.New("missing scraped_judgments")

type document struct {
	ScrapedJudgments *[]string   `json:"scraped_judgments"`
	LastPage         int         `json:"last_page"`
	Errors           []errorJSON `json:"errors"`
}

type errorJSON struct {
	Timestamp string  `json:"timestamp"`
	Message   string  `json:"message"`
	URL       *string `json:"url"`
}

// FileStore keeps the checkpoint in a single JSON document.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	state *State

	// flushMu spans snapshot and write so an older state never overwrites a newer one.
	flushMu sync.Mutex
}

var _ crawler.ProgressStore = (*FileStore)(nil)

// Open loads the checkpoint at path. A missing file yields an empty state; an
// unreadable or corrupt file is logged and also yields an empty state.
func Open(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &FileStore{path: path, logger: logger, state: NewState()}
	state, err := Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("No progress file, starting fresh", zap.String("path", path))
	case err != nil:
		logger.Warn("Could not load progress, starting fresh", zap.String("path", path), zap.Error(err))
	default:
		store.state = state
		logger.Info("Loaded progress",
			zap.String("path", path),
			zap.Int("completed", len(state.completed)),
			zap.Int("last_page", state.lastPage),
		)
	}
	return store
}

// OpenFresh returns a store at path that ignores any existing checkpoint. The
// file is replaced on the first Flush.
func OpenFresh(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger, state: NewState()}
}

// Load decodes the checkpoint document at path.
func Load(path string) (*State, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	if doc.ScrapedJudgments == nil {
		return nil, errMissingCompleted
	}
	state := NewState()
	for _, id := range *doc.ScrapedJudgments {
		state.MarkCompleted(id)
	}
	state.AdvancePage(doc.LastPage)
	for _, e := range doc.Errors {
		rec := crawler.ErrorRecord{Time: parseTimestamp(e.Timestamp), Message: e.Message}
		if e.URL != nil {
			rec.URL = *e.URL
		}
		state.RecordError(rec)
	}
	return state, nil
}

// Path returns the checkpoint location.
func (s *FileStore) Path() string {
	return s.path
}

// Contains reports whether id was completed.
func (s *FileStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Contains(id)
}

// MarkCompleted records id as completed.
func (s *FileStore) MarkCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MarkCompleted(id)
}

// AdvancePage moves the page checkpoint forward.
func (s *FileStore) AdvancePage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AdvancePage(page)
}

// RecordError appends rec to the error list.
func (s *FileStore) RecordError(rec crawler.ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RecordError(rec)
}

// LastPage returns the last fully processed page.
func (s *FileStore) LastPage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LastPage()
}

// Snapshot summarizes the current state.
func (s *FileStore) Snapshot() crawler.ProgressSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Snapshot()
}

// Flush writes the whole checkpoint atomically. The write is local and quick,
// so it is not abandoned when ctx is already done.
func (s *FileStore) Flush(_ context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	doc := encode(s.state)
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := local.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

func encode(state *State) document {
	completed := state.Completed()
	doc := document{
		ScrapedJudgments: &completed,
		LastPage:         state.LastPage(),
		Errors:           make([]errorJSON, 0, len(state.errors)),
	}
	for _, rec := range state.errors {
		entry := errorJSON{Timestamp: rec.Time.UTC().Format(TimestampLayout), Message: rec.Message}
		if rec.URL != "" {
			u := rec.URL
			entry.URL = &u
		}
		doc.Errors = append(doc.Errors, entry)
	}
	return doc
}

func parseTimestamp(raw string) time.Time {
	if ts, err := time.ParseInLocation(TimestampLayout, raw, time.UTC); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	return time.Time{}
}
