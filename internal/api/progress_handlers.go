package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// ProgressReader exposes the persisted checkpoint.
type ProgressReader interface {
	Snapshot() crawler.ProgressSnapshot
}

// StatusSource exposes the live run statistics.
type StatusSource interface {
	Status() crawler.EngineStatus
}

// ProgressHandler serves read-only progress endpoints.
type ProgressHandler struct {
	progress ProgressReader
	status   StatusSource
	logger   *zap.Logger
}

// NewProgressHandler wires the sources and logger.
func NewProgressHandler(progress ProgressReader, status StatusSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{progress: progress, status: status, logger: logger}
}

// Progress handles GET /v1/progress. It answers 503 when no progress store is
// wired.
func (h *ProgressHandler) Progress(w http.ResponseWriter, _ *http.Request) {
	if h.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.progress.Snapshot())
}

// Stats handles GET /v1/stats.
func (h *ProgressHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl not running")
		return
	}
	status := h.status.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      status.RunID,
		"running":     status.Running,
		"page":        status.Page,
		"start_page":  status.StartPage,
		"total_pages": status.TotalPages,
		"stats":       status.Stats,
		"processed":   status.Stats.Processed(),
	})
}
