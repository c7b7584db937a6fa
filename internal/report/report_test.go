package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingProgress struct {
	crawler.ProgressStore
	mu      sync.Mutex
	records []crawler.ErrorRecord
}

func (r *recordingProgress) RecordError(rec crawler.ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func TestMetadataCSVWritesHeaderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadata.csv")
	sink, err := NewMetadataCSV(path)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Append(context.Background(), crawler.MetadataRecord{
		ID: "a1", CaseNumber: "Petition 1 of 2020", Title: "A v B, with comma", Court: "High Court",
		Filename: "Petition_1_of_2020_a1.html", URL: "https://example.test/a1", ScrapedAt: at,
	}))
	require.NoError(t, sink.Append(context.Background(), crawler.MetadataRecord{ID: "b2", ScrapedAt: at}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, MetadataHeader, rows[0])
	assert.Equal(t, "A v B, with comma", rows[1][2])
	assert.Equal(t, "2024-05-01T12:00:00Z", rows[1][9])
	assert.Equal(t, "b2", rows[2][0])
}

func TestMetadataCSVConcurrentAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadata.csv")
	sink, err := NewMetadataCSV(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sink.Append(context.Background(), crawler.MetadataRecord{ID: string(rune('a' + i))}))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 21)
}

func TestErrorLogFormatAndMirror(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "errors.log")
	prog := &recordingProgress{}
	clock := fixedClock{t: time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)}
	log, err := NewErrorLog(path, clock, prog, nil)
	require.NoError(t, err)

	log.LogError("Failed to fetch judgment a1", "https://example.test/a1")
	log.LogError("Error processing page 2: boom", "")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := ErrorLogHeader +
		"## 2024-05-01 09:30:15\nFailed to fetch judgment a1\nURL: https://example.test/a1\n\n" +
		"## 2024-05-01 09:30:15\nError processing page 2: boom\n\n"
	assert.Equal(t, want, string(data))

	require.Len(t, prog.records, 2)
	assert.Equal(t, "https://example.test/a1", prog.records[0].URL)
	assert.Equal(t, clock.t, prog.records[1].Time)
}

func TestErrorLogKeepsExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "errors.log")
	require.NoError(t, os.WriteFile(path, []byte("previous\n"), 0o644))

	log, err := NewErrorLog(path, fixedClock{t: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}, nil, nil)
	require.NoError(t, err)
	log.LogError("again", "")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous\n## 2024-01-02 03:04:05\nagain\n\n", string(data))
}

func TestSummaryFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "summary.json")
	summary := crawler.Summary{
		RunID:               "run-1",
		TotalPagesScraped:   2,
		TotalJudgmentsFound: 5,
		TotalSaved:          3,
		Failed:              1,
		NoContent:           1,
		CompletedAt:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewSummaryFile(path).WriteSummary(context.Background(), summary))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"total_pages_scraped\": 2,")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{
		"total_pages_scraped", "total_judgments_found", "total_judgments_saved", "failed",
		"no_content", "errors", "skipped", "completed_at", "run_id", "started_at",
	} {
		assert.Contains(t, doc, key)
	}
	assert.InDelta(t, 3, doc["total_judgments_saved"], 0)
}

type stubMetadata struct {
	err  error
	recs []crawler.MetadataRecord
}

func (s *stubMetadata) Append(_ context.Context, rec crawler.MetadataRecord) error {
	s.recs = append(s.recs, rec)
	return s.err
}

func TestMetadataFanout(t *testing.T) {
	t.Parallel()

	rec := crawler.MetadataRecord{ID: "akn-1"}
	core, logs := observer.New(zap.WarnLevel)

	primary, mirror, second := &stubMetadata{}, &stubMetadata{err: errors.New("mirror down")}, &stubMetadata{}
	fanout := NewMetadataFanout(primary, zap.New(core), mirror, second)
	require.NoError(t, fanout.Append(context.Background(), rec))
	assert.Len(t, primary.recs, 1)
	assert.Len(t, mirror.recs, 1)
	assert.Len(t, second.recs, 1)
	require.Equal(t, 1, logs.FilterMessage("Failed to mirror metadata").Len())

	failing, skipped := &stubMetadata{err: errors.New("disk full")}, &stubMetadata{}
	err := NewMetadataFanout(failing, nil, skipped).Append(context.Background(), rec)
	require.ErrorContains(t, err, "disk full")
	assert.Empty(t, skipped.recs)
}
