package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/publisher/memory"
)

var longText = strings.Repeat("The court finds for the petitioner. ", 10)

func detailPage(meta, body string) string {
	return `<html><body><div class="case-metadata">` + meta + `</div>` + body + `</body></html>`
}

func TestWorkerSuccessFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Topic: "judgments"})
	h.fetcher.pages["https://example.test/akn/1"] = detailPage(
		`<span class="metadata-item">Court: Supreme Court of Kenya</span>`+
			`<span class="metadata-item">Date: 2023-05-01</span>`,
		`<div id="judgment-content"><p>`+longText+`</p></div>`,
	)
	item := crawler.ItemDescriptor{
		ID:    "1",
		URL:   "https://example.test/akn/1",
		Title: "A v B",
		Page:  1,
		Metadata: map[string]string{
			crawler.FieldCaseNumber: "Petition 3/2023",
			crawler.FieldCourt:      "High Court",
			crawler.FieldParties:    "A v B",
		},
	}

	runID := uuid.MustParse("0190b0a8-0000-7000-8000-000000000001")
	out := h.worker.Process(crawler.ContextWithRunID(context.Background(), runID), item)
	require.NoError(t, out.Err)
	assert.Equal(t, crawler.StatusSuccess, out.Status)
	assert.Equal(t, SupremeCourt, out.Category)
	assert.Equal(t, "Petition_3_2023_1.html", out.Filename)
	assert.Equal(t, "mem://supreme_court/Petition_3_2023_1.html", out.URI)

	blob := h.blobs.objects["supreme_court/Petition_3_2023_1.html"]
	assert.True(t, strings.HasPrefix(blob, `<div id="judgment-content">`))

	require.Len(t, h.metadata.records, 1)
	rec := h.metadata.records[0]
	assert.Equal(t, "Supreme Court of Kenya", rec.Court)
	assert.Equal(t, "2023-05-01", rec.Date)
	assert.Equal(t, "Petition 3/2023", rec.CaseNumber)
	assert.Equal(t, h.clock.now, rec.ScrapedAt)

	assert.True(t, h.progress.Contains("1"))
	assert.Equal(t, 1, h.progress.flushes)
	assert.Empty(t, h.errs.messages)
	assert.Equal(t, time.Second, h.sleeper.total())

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "judgments", msgs[0].Topic)
	note, ok := msgs[0].Payload.(SavedNotification)
	require.True(t, ok)
	assert.Equal(t, "judgment.saved", note.Event)
	assert.Equal(t, "sha-of-content", note.SHA256)
	assert.Equal(t, runID.String(), note.RunID)
}

func TestWorkerSkipsCompleted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.progress.MarkCompleted("7")

	out := h.worker.Process(context.Background(), crawler.ItemDescriptor{ID: "7", URL: "https://example.test/akn/7"})
	assert.Equal(t, crawler.StatusSkipped, out.Status)
	assert.Zero(t, h.fetcher.calls)
	assert.Zero(t, h.sleeper.total())
}

func TestWorkerFetchFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	out := h.worker.Process(context.Background(), crawler.ItemDescriptor{ID: "9", URL: "https://example.test/akn/9"})
	assert.Equal(t, crawler.StatusFailed, out.Status)
	assert.Equal(t, []string{"Failed to fetch judgment 9"}, h.errs.messages)
	assert.False(t, h.progress.Contains("9"))
}

func TestWorkerNoContent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.pages["https://example.test/akn/2"] = `<html><body><div class="judgment-content">too short</div></body></html>`

	out := h.worker.Process(context.Background(), crawler.ItemDescriptor{ID: "2", URL: "https://example.test/akn/2"})
	assert.Equal(t, crawler.StatusNoContent, out.Status)
	require.ErrorIs(t, out.Err, crawler.ErrNoContent)
	assert.Equal(t, []string{"Could not find judgment content for 2"}, h.errs.messages)
	assert.Empty(t, h.metadata.records)
	assert.False(t, h.progress.Contains("2"))
}

func TestWorkerFallbackContainerAccepted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.pages["https://example.test/akn/3"] = `<html><body><main>brief ruling</main></body></html>`

	out := h.worker.Process(context.Background(), crawler.ItemDescriptor{ID: "3", URL: "https://example.test/akn/3"})
	assert.Equal(t, crawler.StatusSuccess, out.Status)
	assert.Equal(t, OtherCourts, out.Category)
	assert.Equal(t, "3.html", out.Filename)
	assert.Equal(t, "<main>brief ruling</main>", h.blobs.objects["other_courts/3.html"])
}

func TestWorkerPersistenceError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.blobs.err = errors.New("disk full")
	h.fetcher.pages["https://example.test/akn/4"] = detailPage("", `<article>`+longText+`</article>`)

	out := h.worker.Process(context.Background(), crawler.ItemDescriptor{ID: "4", URL: "https://example.test/akn/4"})
	assert.Equal(t, crawler.StatusError, out.Status)
	var perr *crawler.PersistenceError
	require.ErrorAs(t, out.Err, &perr)
	require.Len(t, h.errs.messages, 1)
	assert.Equal(t, "Error saving judgment 4: write artifact: disk full", h.errs.messages[0])
	assert.False(t, h.progress.Contains("4"))
}

func TestWorkerCanceledDuringDelay(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.sleeper.err = context.Canceled

	out := h.worker.Process(context.Background(), crawler.ItemDescriptor{ID: "5", URL: "https://example.test/akn/5"})
	assert.Equal(t, crawler.StatusSkipped, out.Status)
	assert.Zero(t, h.fetcher.calls)
	assert.Empty(t, h.errs.messages)
}

func TestWorkerPublishFailureKeepsSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Topic: "judgments"})
	h.publisher.Err = errors.New("pubsub down")
	h.fetcher.pages["https://example.test/akn/6"] = detailPage("", `<article>`+longText+`</article>`)

	out := h.worker.Process(context.Background(), crawler.ItemDescriptor{ID: "6", URL: "https://example.test/akn/6"})
	assert.Equal(t, crawler.StatusSuccess, out.Status)
	assert.True(t, h.progress.Contains("6"))
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
}

type harness struct {
	worker    *Worker
	fetcher   *fakeFetcher
	progress  *fakeProgress
	errs      *fakeErrors
	metadata  *fakeMetadata
	blobs     *fakeBlobStore
	publisher *memory.Publisher
	clock     *fakeClock
	sleeper   *fakeSleeper
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		fetcher:   &fakeFetcher{pages: map[string]string{}},
		progress:  &fakeProgress{done: map[string]bool{}},
		errs:      &fakeErrors{},
		metadata:  &fakeMetadata{},
		blobs:     &fakeBlobStore{objects: map[string]string{}},
		publisher: memory.New(),
		clock:     &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
		sleeper:   &fakeSleeper{},
	}
	cfg.MinDelay, cfg.MaxDelay = time.Second, 3*time.Second
	w, err := New(Deps{
		Fetcher:   h.fetcher,
		Progress:  h.progress,
		Errors:    h.errs,
		Metadata:  h.metadata,
		Blobs:     h.blobs,
		Publisher: h.publisher,
		Hasher:    fakeHasher{},
		Clock:     h.clock,
		Sleeper:   h.sleeper,
		Random:    zeroRandom{},
	}, cfg)
	require.NoError(t, err)
	h.worker = w
	return h
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	body, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchFailure{URL: req.URL, Attempts: 5, LastStatus: http.StatusNotFound}
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

type fakeProgress struct {
	mu      sync.Mutex
	done    map[string]bool
	flushes int
}

func (p *fakeProgress) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[id]
}

func (p *fakeProgress) MarkCompleted(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done[id] = true
}

func (p *fakeProgress) AdvancePage(int) {}

func (p *fakeProgress) RecordError(crawler.ErrorRecord) {}

func (p *fakeProgress) LastPage() int { return 0 }

func (p *fakeProgress) Snapshot() crawler.ProgressSnapshot { return crawler.ProgressSnapshot{} }

func (p *fakeProgress) Flush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

type fakeErrors struct {
	mu       sync.Mutex
	messages []string
}

func (e *fakeErrors) LogError(message, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, message)
}

type fakeMetadata struct {
	mu      sync.Mutex
	records []crawler.MetadataRecord
}

func (m *fakeMetadata) Append(_ context.Context, rec crawler.MetadataRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = string(raw)
	return "mem://" + path, nil
}

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "sha-of-content", nil }

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return s.err
}

func (s *fakeSleeper) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, d := range s.waits {
		sum += d
	}
	return sum
}

type zeroRandom struct{}

func (zeroRandom) Float64() float64 { return 0 }

func (zeroRandom) IntN(int) int { return 0 }
