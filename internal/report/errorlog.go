package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// ErrorLogHeader opens every new error log.
const ErrorLogHeader = "# Kenya Law Reports Scraper Error Log\n\n"

const entryTimeLayout = "2006-01-02 15:04:05"

// ErrorLog appends readable entries to errors.log and mirrors each one into
// the progress error list.
type ErrorLog struct {
	path     string
	clock    crawler.Clock
	progress crawler.ProgressStore
	logger   *zap.Logger
	mu       sync.Mutex
}

var _ crawler.ErrorSink = (*ErrorLog)(nil)

// NewErrorLog creates path with the header when it does not exist yet.
// progress may be nil.
func NewErrorLog(path string, clock crawler.Clock, progress crawler.ProgressStore, logger *zap.Logger) (*ErrorLog, error) {
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create error log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	switch {
	case errors.Is(err, fs.ErrExist):
	case err != nil:
		return nil, fmt.Errorf("create error log: %w", err)
	default:
		_, werr := f.WriteString(ErrorLogHeader)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return nil, fmt.Errorf("write error log header: %w", werr)
		}
	}
	return &ErrorLog{path: path, clock: clock, progress: progress, logger: logger.Named("errorlog")}, nil
}

// LogError records message (and the optional url). Write failures are logged,
// never returned.
func (l *ErrorLog) LogError(message, url string) {
	now := l.clock.Now()
	if l.progress != nil {
		l.progress.RecordError(crawler.ErrorRecord{Time: now, Message: message, URL: url})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n%s\n", now.Format(entryTimeLayout), message)
	if url != "" {
		fmt.Fprintf(&b, "URL: %s\n", url)
	}
	b.WriteString("\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("Could not open error log", zap.Error(err))
		return
	}
	if _, err := f.WriteString(b.String()); err != nil {
		l.logger.Warn("Could not write error log", zap.Error(err))
	}
	if err := f.Close(); err != nil {
		l.logger.Warn("Could not close error log", zap.Error(err))
	}
}
