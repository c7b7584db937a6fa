// Package worker fetches and persists a single judgment.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/metrics"
	"github.com/JakeFAU/kenyalaw-crawler/internal/parser"
)

// Config controls Worker behavior.
type Config struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	ContentType string
	// Topic receives a judgment.saved notification per saved item; empty disables it.
	Topic string
	// Readability enables the readability fallback for content extraction.
	Readability bool
}

// Deps are the collaborators a Worker needs. Publisher, Hasher, Metrics and
// Logger are optional.
type Deps struct {
	Fetcher   crawler.Fetcher
	Progress  crawler.ProgressStore
	Errors    crawler.ErrorSink
	Metadata  crawler.MetadataSink
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Sleeper   crawler.Sleeper
	Random    crawler.Random
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Worker implements crawler.Processor.
type Worker struct {
	deps       Deps
	cfg        Config
	strategies []parser.ContentStrategy
	logger     *zap.Logger
}

var _ crawler.Processor = (*Worker)(nil)

// SavedNotification is the payload published for every saved judgment.
type SavedNotification struct {
	Event     string    `json:"event"`
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Court     string    `json:"court"`
	Category  string    `json:"category"`
	Filename  string    `json:"filename"`
	URI       string    `json:"uri"`
	SHA256    string    `json:"sha256,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
	RunID     string    `json:"run_id,omitempty"`
}

// New constructs a Worker.
func New(deps Deps, cfg Config) (*Worker, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Progress == nil:
		return nil, errors.New("progress store is required")
	case deps.Errors == nil:
		return nil, errors.New("error sink is required")
	case deps.Metadata == nil:
		return nil, errors.New("metadata sink is required")
	case deps.Blobs == nil:
		return nil, errors.New("blob store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if deps.Sleeper == nil {
		deps.Sleeper = crawler.TimerSleeper{}
	}
	if deps.Random == nil {
		deps.Random = crawler.NewRandom(0)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{
		deps:       deps,
		cfg:        cfg,
		strategies: parser.DefaultContentStrategies(cfg.Readability),
		logger:     deps.Logger.Named("worker"),
	}, nil
}

// Process fetches one judgment and persists it. Failures are recorded and
// reported through the outcome; they never propagate.
func (w *Worker) Process(ctx context.Context, item crawler.ItemDescriptor) crawler.Outcome {
	start := time.Now()
	out := w.process(ctx, item)
	out.ID, out.URL = item.ID, item.URL
	out.Duration = time.Since(start)
	return out
}

func (w *Worker) process(ctx context.Context, item crawler.ItemDescriptor) crawler.Outcome {
	if w.deps.Progress.Contains(item.ID) {
		w.logger.Debug("Skipping already scraped judgment", zap.String("id", item.ID))
		return crawler.Outcome{Status: crawler.StatusSkipped}
	}

	w.deps.Metrics.IncActiveWorkers()
	defer w.deps.Metrics.DecActiveWorkers()

	delay := crawler.Jitter(w.deps.Random, w.cfg.MinDelay, w.cfg.MaxDelay)
	if err := w.deps.Sleeper.Sleep(ctx, delay); err != nil {
		return crawler.Outcome{Status: crawler.StatusSkipped, Err: err}
	}

	resp, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: item.URL})
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Outcome{Status: crawler.StatusSkipped, Err: err}
		}
		w.logger.Error("Failed to fetch judgment", zap.String("id", item.ID), zap.String("url", item.URL), zap.Error(err))
		w.deps.Errors.LogError(fmt.Sprintf("Failed to fetch judgment %s", item.ID), item.URL)
		return crawler.Outcome{Status: crawler.StatusFailed, Err: err}
	}

	out, err := w.persist(ctx, item, resp)
	if err != nil {
		if errors.Is(err, crawler.ErrNoContent) {
			w.logger.Warn("Could not find judgment content", zap.String("url", item.URL))
			w.deps.Errors.LogError(fmt.Sprintf("Could not find judgment content for %s", item.ID), item.URL)
			out.Status, out.Err = crawler.StatusNoContent, err
			return out
		}
		w.logger.Error("Error saving judgment", zap.String("id", item.ID), zap.String("url", item.URL), zap.Error(err))
		w.deps.Errors.LogError(fmt.Sprintf("Error saving judgment %s: %v", item.ID, errors.Unwrap(err)), item.URL)
		out.Status, out.Err = crawler.StatusError, err
		return out
	}
	out.Status = crawler.StatusSuccess
	w.logger.Info("Successfully saved judgment", zap.String("id", item.ID), zap.String("filename", out.Filename))
	return out
}

// persist returns ErrNoContent or a *crawler.PersistenceError on failure.
func (w *Worker) persist(
	ctx context.Context,
	item crawler.ItemDescriptor,
	resp crawler.FetchResponse,
) (out crawler.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &crawler.PersistenceError{ID: item.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	doc, err := parser.ParseDocument(resp.Body)
	if err != nil {
		return out, &crawler.PersistenceError{ID: item.ID, Err: err}
	}
	merged := item.Merge(parser.Metadata(doc.Selection, parser.DetailMetadataStrategies))
	merged.Metadata = parser.ResolveFields(merged.Metadata, merged.Title)
	court := merged.Field(crawler.FieldCourt)
	out.Category = Classify(court)
	out.Filename = Filename(merged.Field(crawler.FieldCaseNumber), item.ID)

	pageURL, err := url.Parse(item.URL)
	if err != nil {
		return out, &crawler.PersistenceError{ID: item.ID, Err: err}
	}
	content, ok := parser.ExtractContent(doc, pageURL, w.strategies)
	if !ok {
		return out, crawler.ErrNoContent
	}
	w.logger.Debug("Extracted judgment content", zap.String("id", item.ID), zap.String("strategy", content.Strategy))

	data := []byte(content.HTML)
	out.URI, err = w.deps.Blobs.PutObject(ctx, path.Join(out.Category, out.Filename), w.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return out, &crawler.PersistenceError{ID: item.ID, Err: fmt.Errorf("write artifact: %w", err)}
	}

	scrapedAt := w.deps.Clock.Now()
	if err := w.deps.Metadata.Append(ctx, crawler.MetadataRecord{
		ID:         item.ID,
		CaseNumber: merged.Field(crawler.FieldCaseNumber),
		Title:      merged.Title,
		Court:      court,
		Date:       merged.Field(crawler.FieldDate),
		Judges:     merged.Field(crawler.FieldJudges),
		Parties:    merged.Field(crawler.FieldParties),
		Filename:   out.Filename,
		URL:        item.URL,
		ScrapedAt:  scrapedAt,
	}); err != nil {
		return out, &crawler.PersistenceError{ID: item.ID, Err: fmt.Errorf("append metadata: %w", err)}
	}

	w.deps.Progress.MarkCompleted(item.ID)
	// The page-level flush retries a failed write.
	if err := w.deps.Progress.Flush(ctx); err != nil {
		w.logger.Warn("Progress flush failed", zap.String("id", item.ID), zap.Error(err))
	}

	w.publish(ctx, SavedNotification{
		Event:     "judgment.saved",
		ID:        item.ID,
		URL:       item.URL,
		Court:     court,
		Category:  out.Category,
		Filename:  out.Filename,
		URI:       out.URI,
		ScrapedAt: scrapedAt,
	}, data)
	return out, nil
}

func (w *Worker) publish(ctx context.Context, note SavedNotification, data []byte) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	if w.deps.Hasher != nil {
		if sum, err := w.deps.Hasher.Hash(data); err == nil {
			note.SHA256 = sum
		}
	}
	if runID := crawler.RunIDFrom(ctx); runID != uuid.Nil {
		note.RunID = runID.String()
	}
	msgID, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, note)
	if err != nil {
		w.logger.Warn("Publish failed", zap.String("id", note.ID), zap.Error(err))
		return
	}
	w.logger.Debug("Judgment published", zap.String("id", note.ID), zap.String("message_id", msgID))
}
