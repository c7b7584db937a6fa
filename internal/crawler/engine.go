package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/events"
)

const defaultDedupWindow = 100_000

// EngineConfig controls the page loop.
type EngineConfig struct {
	// MaxPages caps the crawl extent when > 0.
	MaxPages int
	// StartPage is the first page when not resuming (default 1).
	StartPage int
	// Resume continues after the last fully processed page.
	Resume bool
	// MinDelay and MaxDelay bound the pause between page batches.
	MinDelay time.Duration
	MaxDelay time.Duration
	// DedupWindow bounds the set of IDs already dispatched in this run.
	DedupWindow int
}

// EngineStatus is a point-in-time view of a running crawl.
type EngineStatus struct {
	RunID      string        `json:"run_id,omitempty"`
	Running    bool          `json:"running"`
	Page       int           `json:"page"`
	StartPage  int           `json:"start_page"`
	TotalPages int           `json:"total_pages"`
	Stats      RunStatistics `json:"stats"`
}

// Engine drives listing pages through the batch runner and keeps the run
// statistics.
type Engine struct {
	cfg      EngineConfig
	enum     Enumerator
	runner   BatchRunner
	proc     Processor
	progress ProgressStore

	summary SummaryWriter
	errors  ErrorSink
	emitter events.Emitter
	clock   Clock
	ids     IDGenerator
	sleeper Sleeper
	random  Random
	logger  *zap.Logger

	mu     sync.RWMutex
	status EngineStatus
}

// EngineOption customizes optional Engine collaborators.
type EngineOption func(*Engine)

// WithSummaryWriter sets where the final summary is written.
func WithSummaryWriter(w SummaryWriter) EngineOption {
	return func(e *Engine) { e.summary = w }
}

// WithErrorSink sets the sink for page-level failures. By default they are
// only recorded in the progress store.
func WithErrorSink(s ErrorSink) EngineOption {
	return func(e *Engine) { e.errors = s }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(em events.Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// WithClock overrides the time source.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithSleeper overrides the pacing sleeper.
func WithSleeper(s Sleeper) EngineOption {
	return func(e *Engine) { e.sleeper = s }
}

// WithRandom overrides the pacing random source.
func WithRandom(r Random) EngineOption {
	return func(e *Engine) { e.random = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine wires an Engine. Enumerator, runner, processor and progress store
// are required.
func NewEngine(
	cfg EngineConfig,
	enum Enumerator,
	runner BatchRunner,
	proc Processor,
	progress ProgressStore,
	opts ...EngineOption,
) (*Engine, error) {
	switch {
	case enum == nil:
		return nil, errors.New("enumerator is required")
	case runner == nil:
		return nil, errors.New("batch runner is required")
	case proc == nil:
		return nil, errors.New("processor is required")
	case progress == nil:
		return nil, errors.New("progress store is required")
	}
	if cfg.StartPage < 1 {
		cfg.StartPage = 1
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	e := &Engine{
		cfg:      cfg,
		enum:     enum,
		runner:   runner,
		proc:     proc,
		progress: progress,
		emitter:  events.Discard{},
		clock:    utcClock{},
		ids:      v7IDs{},
		sleeper:  TimerSleeper{},
		random:   NewRandom(0),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.errors == nil {
		e.errors = progressErrorSink{progress: progress, clock: e.clock}
	}
	e.logger = e.logger.Named("engine")
	return e, nil
}

// Status returns a snapshot of the current run.
func (e *Engine) Status() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Run crawls every page from the start page to the resolved total. It only
// fails with ErrFatalDiscovery (or when no run ID can be generated); every
// other failure is recorded and the crawl moves on. Cancellation between pages
// ends the loop and the summary is still written.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	runID, err := e.ids.NewRawID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx = ContextWithRunID(ctx, runID)
	startedAt := e.clock.Now()
	logger := e.logger.With(zap.String("run_id", runID.String()))
	e.emit(events.Event{RunID: runID, Stage: events.StageRunStart})

	total := e.enum.TotalPages(ctx)
	if total <= 0 {
		logger.Error("Could not determine total pages. Exiting.")
		return Summary{}, ErrFatalDiscovery
	}
	if e.cfg.MaxPages > 0 && total > e.cfg.MaxPages {
		total = e.cfg.MaxPages
	}
	start := e.cfg.StartPage
	if e.cfg.Resume {
		start = max(e.progress.LastPage()+1, start)
	}

	e.mu.Lock()
	e.status = EngineStatus{RunID: runID.String(), Running: true, StartPage: start, TotalPages: total}
	e.mu.Unlock()
	logger.Info("Starting crawl", zap.Int("start_page", start), zap.Int("total_pages", total))

	seen, err := lru.New[string, struct{}](e.cfg.DedupWindow)
	if err != nil {
		return Summary{}, fmt.Errorf("create dedup window: %w", err)
	}
	for page := start; page <= total; page++ {
		if ctx.Err() != nil {
			logger.Info("Crawl interrupted", zap.Int("page", page))
			break
		}
		e.runPage(ctx, logger, page, total, seen)
		if page == total {
			break
		}
		if err := e.sleeper.Sleep(ctx, Jitter(e.random, e.cfg.MinDelay, e.cfg.MaxDelay)); err != nil {
			logger.Info("Crawl interrupted", zap.Int("page", page))
			break
		}
	}

	e.mu.Lock()
	e.status.Running = false
	stats := e.status.Stats
	e.mu.Unlock()

	summary := Summary{
		RunID:               runID.String(),
		StartedAt:           startedAt,
		TotalPagesScraped:   max(total-start+1, 0),
		TotalJudgmentsFound: stats.Discovered,
		TotalSaved:          stats.Success,
		Failed:              stats.Failed,
		NoContent:           stats.NoContent,
		Errors:              stats.Errors,
		Skipped:             stats.Skipped,
		CompletedAt:         e.clock.Now(),
	}
	if e.summary != nil {
		if err := e.summary.WriteSummary(context.WithoutCancel(ctx), summary); err != nil {
			logger.Error("Failed to write summary", zap.Error(err))
		}
	}
	e.emit(events.Event{RunID: runID, Stage: events.StageRunDone, Dur: summary.CompletedAt.Sub(startedAt)})
	logger.Info("Scraping completed",
		zap.Int("found", summary.TotalJudgmentsFound),
		zap.Int("saved", summary.TotalSaved),
		zap.Int("failed", summary.Failed),
		zap.Int("no_content", summary.NoContent),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

func (e *Engine) runPage(ctx context.Context, logger *zap.Logger, page, total int, seen *lru.Cache[string, struct{}]) {
	runID := RunIDFrom(ctx)
	pageStart := e.clock.Now()
	e.mu.Lock()
	e.status.Page = page
	e.mu.Unlock()
	e.emit(events.Event{RunID: runID, Stage: events.StagePageStart, Page: page})
	logger.Info("Processing page", zap.Int("page", page), zap.Int("total_pages", total))

	items, err := e.enum.ListItems(ctx, page)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Error processing page", zap.Int("page", page), zap.Error(err))
			e.errors.LogError(fmt.Sprintf("Error processing page %d: %v", page, err), "")
		}
		return
	}
	if len(items) == 0 {
		logger.Info("No judgments found on page", zap.Int("page", page))
		return
	}

	batch := make([]ItemDescriptor, 0, len(items))
	for _, item := range items {
		if _, dup, _ := seen.PeekOrAdd(item.ID, struct{}{}); dup {
			logger.Debug("Dropping item already dispatched in this run", zap.String("id", item.ID))
			continue
		}
		batch = append(batch, item)
	}
	logger.Info("Found judgments on page", zap.Int("page", page), zap.Int("count", len(items)), zap.Int("dispatched", len(batch)))

	outcomes := e.runner.RunBatch(ctx, batch, e.proc.Process)

	e.mu.Lock()
	e.status.Stats.Discovered += len(items)
	for _, out := range outcomes {
		e.status.Stats.Record(out.Status)
	}
	e.mu.Unlock()
	for _, out := range outcomes {
		// Unsaved items may be retried if the catalog shifts them to a later page.
		switch out.Status {
		case StatusFailed, StatusNoContent, StatusError:
			seen.Remove(out.ID)
		}
	}
	for _, out := range outcomes {
		evt := events.Event{
			RunID:  runID,
			Stage:  events.StageItemDone,
			Page:   page,
			ItemID: out.ID,
			URL:    out.URL,
			Status: string(out.Status),
			Dur:    out.Duration,
		}
		if out.Err != nil {
			evt.Note = ErrorKind(out.Err) + ": " + out.Err.Error()
		}
		e.emit(evt)
	}

	if ctx.Err() != nil {
		return
	}
	e.progress.AdvancePage(page)
	if err := e.progress.Flush(ctx); err != nil {
		logger.Warn("Failed to flush progress", zap.Int("page", page), zap.Error(err))
	}
	e.emit(events.Event{RunID: runID, Stage: events.StagePageDone, Page: page, Dur: e.clock.Now().Sub(pageStart)})
}

func (e *Engine) emit(evt events.Event) {
	if evt.TS.IsZero() {
		evt.TS = e.clock.Now()
	}
	e.emitter.Emit(evt)
}

type progressErrorSink struct {
	progress ProgressStore
	clock    Clock
}

func (s progressErrorSink) LogError(message, url string) {
	s.progress.RecordError(ErrorRecord{Time: s.clock.Now(), Message: message, URL: url})
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

type v7IDs struct{}

func (v7IDs) NewRawID() (uuid.UUID, error) { return uuid.NewV7() }
