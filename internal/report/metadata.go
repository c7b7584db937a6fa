package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// MetadataHeader is the first row of every metadata file.
var MetadataHeader = []string{
	"id", "case_number", "title", "court", "date", "judges", "parties", "filename", "url", "scraped_at",
}

// MetadataCSV appends one row per saved judgment. The header is written when
// the file is absent or empty.
type MetadataCSV struct {
	path string
	mu   sync.Mutex
}

var _ crawler.MetadataSink = (*MetadataCSV)(nil)

// NewMetadataCSV returns a sink appending to path.
func NewMetadataCSV(path string) (*MetadataCSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	return &MetadataCSV{path: path}, nil
}

// Path returns the CSV location.
func (m *MetadataCSV) Path() string {
	return m.path
}

// Append writes rec as one CSV row.
func (m *MetadataCSV) Append(_ context.Context, rec crawler.MetadataRecord) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close metadata: %w", cerr)
		}
	}()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat metadata: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(MetadataHeader); err != nil {
			return fmt.Errorf("write metadata header: %w", err)
		}
	}
	if err := w.Write([]string{
		rec.ID,
		rec.CaseNumber,
		rec.Title,
		rec.Court,
		rec.Date,
		rec.Judges,
		rec.Parties,
		rec.Filename,
		rec.URL,
		rec.ScrapedAt.Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("write metadata row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush metadata: %w", err)
	}
	return nil
}

// MetadataFanout writes every record to a primary sink and then to mirrors.
// Only the primary decides the outcome; mirror failures are logged so a
// saved judgment is never written twice on the next run.
type MetadataFanout struct {
	primary crawler.MetadataSink
	mirrors []crawler.MetadataSink
	logger  *zap.Logger
}

var _ crawler.MetadataSink = (*MetadataFanout)(nil)

// NewMetadataFanout wraps primary and the optional mirrors.
func NewMetadataFanout(primary crawler.MetadataSink, logger *zap.Logger, mirrors ...crawler.MetadataSink) *MetadataFanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataFanout{primary: primary, mirrors: mirrors, logger: logger.Named("metadata")}
}

// Append writes rec to the primary sink, then to each mirror.
func (f *MetadataFanout) Append(ctx context.Context, rec crawler.MetadataRecord) error {
	if err := f.primary.Append(ctx, rec); err != nil {
		return err
	}
	for _, mirror := range f.mirrors {
		if err := mirror.Append(ctx, rec); err != nil {
			f.logger.Warn("Failed to mirror metadata", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	return nil
}
