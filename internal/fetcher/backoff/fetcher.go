// Package backoff wraps a single-attempt Fetcher with header rotation,
// exponential backoff and Retry-After handling.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/events"
	"github.com/JakeFAU/kenyalaw-crawler/internal/metrics"
)

// Config controls the retry schedule.
type Config struct {
	// MaxAttempts is the total number of attempts per logical request.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseDelay is the first backoff wait; later waits grow by Factor.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	Factor    float64       `mapstructure:"factor"`
	// DefaultRetryAfter applies to 429 responses without a usable Retry-After.
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after"`
}

// DefaultConfig returns the production retry schedule.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		BaseDelay:         time.Second,
		Factor:            2,
		DefaultRetryAfter: 60 * time.Second,
	}
}

// Limiter gates each attempt.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// RetryState tracks one logical fetch across attempts.
type RetryState struct {
	Attempts int
	// Backoffs counts failures that grew the exponential wait.
	Backoffs   int
	Waited     time.Duration
	LastStatus int
	LastErr    error
}

// Fetcher retries a transport Fetcher.
type Fetcher struct {
	transport  crawler.Fetcher
	cfg        Config
	identities []http.Header
	random     crawler.Random
	sleeper    crawler.Sleeper
	now        func() time.Time
	limiter    Limiter
	metrics    *metrics.Metrics
	emitter    events.Emitter
	errs       crawler.ErrorSink
	logger     *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithIdentities replaces the header sets rotated per call.
func WithIdentities(ids []http.Header) Option {
	return func(f *Fetcher) {
		if len(ids) > 0 {
			f.identities = ids
		}
	}
}

// WithRandom sets the identity selection source.
func WithRandom(r crawler.Random) Option {
	return func(f *Fetcher) { f.random = r }
}

// WithSleeper sets how waits are performed.
func WithSleeper(s crawler.Sleeper) Option {
	return func(f *Fetcher) { f.sleeper = s }
}

// WithClock sets the clock used to evaluate Retry-After dates.
func WithClock(c crawler.Clock) Option {
	return func(f *Fetcher) { f.now = c.Now }
}

// WithLimiter gates every attempt through l.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithMetrics records every attempt.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithEmitter publishes FETCH_RETRY events.
func WithEmitter(e events.Emitter) Option {
	return func(f *Fetcher) { f.emitter = e }
}

// WithErrorSink records every request that runs out of attempts.
func WithErrorSink(s crawler.ErrorSink) Option {
	return func(f *Fetcher) { f.errs = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New wraps transport.
func New(transport crawler.Fetcher, cfg Config, opts ...Option) *Fetcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Factor < 1 {
		cfg.Factor = def.Factor
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = def.DefaultRetryAfter
	}
	f := &Fetcher{
		transport:  transport,
		cfg:        cfg,
		identities: DefaultIdentities(),
		random:     crawler.NewRandom(0),
		sleeper:    crawler.TimerSleeper{},
		now:        time.Now,
		emitter:    events.Discard{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("fetcher")
	return f
}

// Fetch performs one logical request. Statuses below 400 are returned as is;
// exhausted retries yield a *crawler.FetchFailure.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	attempt := request
	attempt.Headers = f.headersFor(request.Headers)

	var state RetryState
	for state.Attempts < f.cfg.MaxAttempts {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, request.URL); err != nil {
				state.LastErr = err
				return crawler.FetchResponse{}, failure(request, state)
			}
		}
		state.Attempts++
		start := time.Now()
		resp, err := f.transport.Fetch(ctx, attempt)
		f.metrics.ObserveFetch(request.URL, resp.StatusCode, len(resp.Body), time.Since(start))

		var wait time.Duration
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				state.LastErr = ctxErr
				return crawler.FetchResponse{}, failure(request, state)
			}
			state.LastStatus, state.LastErr = 0, err
			wait = f.backoff(state.Backoffs)
			state.Backoffs++
		case resp.StatusCode == http.StatusTooManyRequests:
			state.LastStatus, state.LastErr = resp.StatusCode, nil
			wait = f.retryAfter(resp.Headers.Get("Retry-After"))
		case resp.StatusCode >= http.StatusBadRequest:
			state.LastStatus, state.LastErr = resp.StatusCode, nil
			wait = f.backoff(state.Backoffs)
			state.Backoffs++
		default:
			return resp, nil
		}

		if state.Attempts >= f.cfg.MaxAttempts {
			break
		}
		reason := metrics.AttemptOutcome(state.LastStatus)
		f.logger.Warn("Retrying request",
			zap.String("url", request.URL),
			zap.Int("attempt", state.Attempts),
			zap.Int("status", state.LastStatus),
			zap.String("reason", reason),
			zap.Duration("wait", wait),
			zap.Error(state.LastErr),
		)
		f.emitter.Emit(events.Event{
			TS:      time.Now().UTC(),
			Stage:   events.StageFetchRetry,
			URL:     request.URL,
			Status:  reason,
			Attempt: state.Attempts,
			Dur:     wait,
		})
		if err := f.sleeper.Sleep(ctx, wait); err != nil {
			state.LastErr = err
			return crawler.FetchResponse{}, failure(request, state)
		}
		state.Waited += wait
	}

	message := fmt.Sprintf("Failed to fetch after %d retries", state.Attempts)
	f.logger.Error(message,
		zap.String("url", request.URL),
		zap.Int("status", state.LastStatus),
		zap.Duration("waited", state.Waited),
		zap.Error(state.LastErr),
	)
	if f.errs != nil {
		f.errs.LogError(message, request.URL)
	}
	return crawler.FetchResponse{}, failure(request, state)
}

func failure(request crawler.FetchRequest, state RetryState) error {
	return &crawler.FetchFailure{
		URL:        request.URL,
		Attempts:   state.Attempts,
		LastStatus: state.LastStatus,
		Err:        state.LastErr,
	}
}

// headersFor picks one identity and overlays caller headers.
func (f *Fetcher) headersFor(extra http.Header) http.Header {
	base := f.identities[f.random.IntN(len(f.identities))]
	out := base.Clone()
	for key, values := range extra {
		out[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return out
}

func (f *Fetcher) backoff(n int) time.Duration {
	return time.Duration(float64(f.cfg.BaseDelay) * math.Pow(f.cfg.Factor, float64(n)))
}

func (f *Fetcher) retryAfter(raw string) time.Duration {
	d, err := ParseRetryAfter(raw, f.now())
	if err != nil {
		return f.cfg.DefaultRetryAfter
	}
	return d
}

var errNoRetryAfter = errors.New("retry-after header missing")

// ParseRetryAfter interprets a Retry-After value given as delta-seconds or an
// HTTP date. Dates in the past yield zero.
func ParseRetryAfter(raw string, now time.Time) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errNoRetryAfter
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative retry-after %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	at, err := http.ParseTime(raw)
	if err != nil {
		return 0, fmt.Errorf("parse retry-after %q: %w", raw, err)
	}
	if d := at.Sub(now); d > 0 {
		return d, nil
	}
	return 0, nil
}
