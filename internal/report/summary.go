package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/local"
)

// SummaryFile writes the run summary as indented JSON.
type SummaryFile struct {
	path string
}

var _ crawler.SummaryWriter = (*SummaryFile)(nil)

// NewSummaryFile returns a writer targeting path.
func NewSummaryFile(path string) *SummaryFile {
	return &SummaryFile{path: path}
}

// WriteSummary replaces the summary file atomically.
func (s *SummaryFile) WriteSummary(_ context.Context, summary crawler.Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := local.WriteFileAtomic(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
