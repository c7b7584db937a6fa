package crawler

import (
	"maps"
	"net/http"
	"net/url"
	"time"
)

// Well-known metadata keys resolved for every descriptor.
const (
	FieldCaseNumber = "case_number"
	FieldCourt      = "court"
	FieldDate       = "date"
	FieldJudges     = "judges"
	FieldParties    = "parties"
	FieldTitle      = "title"
)

// Status is the terminal state of one item's processing.
type Status string

// Item outcome statuses.
const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusNoContent Status = "no_content"
	StatusError     Status = "error"
	StatusSkipped   Status = "skipped"
)

// ItemDescriptor identifies one judgment discovered on a listing page.
type ItemDescriptor struct {
	// ID is derived from the link path and is stable across runs.
	ID string `json:"id"`
	// URL is the absolute detail page link.
	URL string `json:"url"`
	// Title is the listing link text.
	Title string `json:"title"`
	// Page is the listing page the item was found on.
	Page int `json:"page"`
	// Metadata holds normalized key:value fields from listing and detail pages.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Field returns the metadata value for key, or "" when absent.
func (d ItemDescriptor) Field(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// Merge returns a copy of d with fields overlaid. Overlay values win; a
// "title" key also replaces Title.
func (d ItemDescriptor) Merge(fields map[string]string) ItemDescriptor {
	out := d
	out.Metadata = make(map[string]string, len(d.Metadata)+len(fields))
	maps.Copy(out.Metadata, d.Metadata)
	maps.Copy(out.Metadata, fields)
	if title := fields[FieldTitle]; title != "" {
		out.Title = title
	}
	return out
}

// Outcome is the result of processing one descriptor.
type Outcome struct {
	ID       string
	URL      string
	Status   Status
	Category string
	Filename string
	URI      string
	Err      error
	// Duration is the wall time spent on the item.
	Duration time.Duration
}

// ErrorRecord is one entry of the durable error list.
type ErrorRecord struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
	URL     string    `json:"url,omitempty"`
}

// ProgressSnapshot is a read-only view of the persisted crawl progress.
type ProgressSnapshot struct {
	LastPage  int `json:"last_page"`
	Completed int `json:"completed"`
	Errors    int `json:"errors"`
}

// MetadataRecord is one row of the metadata sink.
type MetadataRecord struct {
	ID         string
	CaseNumber string
	Title      string
	Court      string
	Date       string
	Judges     string
	Parties    string
	Filename   string
	URL        string
	ScrapedAt  time.Time
}

// Summary is written once at the end of every run that resolved its extent.
type Summary struct {
	RunID               string    `json:"run_id"`
	StartedAt           time.Time `json:"started_at"`
	TotalPagesScraped   int       `json:"total_pages_scraped"`
	TotalJudgmentsFound int       `json:"total_judgments_found"`
	TotalSaved          int       `json:"total_judgments_saved"`
	Failed              int       `json:"failed"`
	NoContent           int       `json:"no_content"`
	Errors              int       `json:"errors"`
	Skipped             int       `json:"skipped"`
	CompletedAt         time.Time `json:"completed_at"`
}

// FetchRequest describes one logical HTTP request.
type FetchRequest struct {
	URL     string
	Method  string
	Params  url.Values
	Body    []byte
	Headers http.Header
}

// FetchResponse is the raw result of a fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
