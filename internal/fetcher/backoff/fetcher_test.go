package backoff

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/events"
)

type step struct {
	status int
	header http.Header
	err    error
}

type scriptedTransport struct {
	mu       sync.Mutex
	steps    []step
	requests []crawler.FetchRequest
}

func (s *scriptedTransport) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("ok")}, nil
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	if next.err != nil {
		return crawler.FetchResponse{}, next.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: next.status, Headers: next.header, Body: []byte("body")}, nil
}

type recordingSleeper struct {
	waits []time.Duration
	err   error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return s.err
}

type fixedRandom struct{ n int }

func (r fixedRandom) Float64() float64 { return 0 }
func (r fixedRandom) IntN(int) int     { return r.n }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *recordingEmitter) Emit(evt events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

type errorRecorder struct {
	mu      sync.Mutex
	entries [][2]string
}

func (r *errorRecorder) LogError(message, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, [2]string{message, url})
}

func newTestFetcher(transport crawler.Fetcher, sleeper crawler.Sleeper, opts ...Option) *Fetcher {
	opts = append([]Option{WithSleeper(sleeper), WithRandom(fixedRandom{})}, opts...)
	return New(transport, DefaultConfig(), opts...)
}

func TestFetchRetriesServerErrorsWithGrowingWaits(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{steps: []step{{status: 500}, {status: 500}, {status: 500}}}
	sleeper := &recordingSleeper{}
	emitter := &recordingEmitter{}
	f := newTestFetcher(transport, sleeper, WithEmitter(emitter))

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/j/1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, transport.requests, 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.waits)

	require.Len(t, emitter.events, 3)
	for i, evt := range emitter.events {
		require.NoError(t, evt.Validate())
		assert.Equal(t, events.StageFetchRetry, evt.Stage)
		assert.Equal(t, i+1, evt.Attempt)
		assert.Equal(t, "status_5xx", evt.Status)
	}
}

func TestFetchHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{steps: []step{
		{status: http.StatusTooManyRequests, header: http.Header{"Retry-After": {"5"}}},
	}}
	sleeper := &recordingSleeper{}
	f := newTestFetcher(transport, sleeper)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/j/1"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeper.waits)
}

func TestFetchRateLimitDoesNotGrowBackoff(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{steps: []step{
		{status: 503},
		{status: http.StatusTooManyRequests},
		{status: 503},
	}}
	sleeper := &recordingSleeper{}
	f := newTestFetcher(transport, sleeper)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/j/1"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 60 * time.Second, 2 * time.Second}, sleeper.waits)
}

func TestFetchExhaustsAttempts(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{steps: []step{
		{status: 502}, {status: 502}, {status: 502}, {status: 502}, {status: 404},
	}}
	sleeper := &recordingSleeper{}
	errs := &errorRecorder{}
	f := newTestFetcher(transport, sleeper, WithErrorSink(errs))

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/j/1"})
	assert.Equal(t, [][2]string{{"Failed to fetch after 5 retries", "https://example.test/j/1"}}, errs.entries)
	var failure *crawler.FetchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 5, failure.Attempts)
	assert.Equal(t, http.StatusNotFound, failure.LastStatus)
	assert.Equal(t, "https://example.test/j/1", failure.URL)
	// No wait after the final attempt.
	assert.Len(t, sleeper.waits, 4)
	assert.Equal(t, "fetch_failure", crawler.ErrorKind(err))
}

func TestFetchTransportErrorsBackOff(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	transport := &scriptedTransport{steps: []step{{err: boom}, {err: boom}}}
	sleeper := &recordingSleeper{}
	f := New(transport, Config{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, Factor: 3},
		WithSleeper(sleeper), WithRandom(fixedRandom{}))

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, sleeper.waits)
}

func TestFetchStopsWhenSleepInterrupted(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{steps: []step{{status: 500}}}
	sleeper := &recordingSleeper{err: context.Canceled}
	errs := &errorRecorder{}
	f := newTestFetcher(transport, sleeper, WithErrorSink(errs))

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, transport.requests, 1)
	assert.Empty(t, errs.entries)
}

func TestFetchRotatesIdentityAndKeepsCallerHeaders(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{}
	ids := DefaultIdentities()
	f := New(transport, DefaultConfig(), WithRandom(fixedRandom{n: 3}), WithSleeper(&recordingSleeper{}))

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     "https://example.test/",
		Headers: http.Header{"referer": {"https://example.test/search"}},
	})
	require.NoError(t, err)
	require.Len(t, transport.requests, 1)
	got := transport.requests[0].Headers
	assert.Equal(t, ids[3].Get("User-Agent"), got.Get("User-Agent"))
	assert.Equal(t, "en-US,en;q=0.5", got.Get("Accept-Language"))
	assert.Equal(t, "https://example.test/search", got.Get("Referer"))
	assert.Empty(t, got.Get("Accept-Encoding"))
}

type denyLimiter struct{}

func (denyLimiter) Wait(context.Context, string) error { return context.DeadlineExceeded }

func TestFetchLimiterErrorAborts(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{}
	f := newTestFetcher(transport, &recordingSleeper{}, WithLimiter(denyLimiter{}))
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, transport.requests)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", raw: "5", want: 5 * time.Second},
		{name: "padded", raw: " 12 ", want: 12 * time.Second},
		{name: "http date", raw: "Mon, 01 Jan 2024 12:00:30 GMT", want: 30 * time.Second},
		{name: "past date", raw: "Mon, 01 Jan 2024 11:00:00 GMT", want: 0},
		{name: "empty", raw: "", wantErr: true},
		{name: "negative", raw: "-1", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRetryAfter(tc.raw, now)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRetryAfterUsesClockAndDefault(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := New(&scriptedTransport{}, DefaultConfig(), WithClock(fixedClock{t: now}))
	assert.Equal(t, 10*time.Second, f.retryAfter("Mon, 01 Jan 2024 12:00:10 GMT"))
	assert.Equal(t, 60*time.Second, f.retryAfter("later"))
}
