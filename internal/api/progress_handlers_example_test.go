package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

type exampleProgress struct{}

func (exampleProgress) Snapshot() crawler.ProgressSnapshot {
	return crawler.ProgressSnapshot{LastPage: 42, Completed: 840}
}

// ExampleProgressHandler_Progress shows how to serve the /v1/progress endpoint.
func ExampleProgressHandler_Progress() {
	handler := NewProgressHandler(exampleProgress{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
	rec := httptest.NewRecorder()
	handler.Progress(rec, req)

	fmt.Print(rec.Body.String())
	// Output:
	// {"last_page":42,"completed":840,"errors":0}
}
