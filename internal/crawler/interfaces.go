package crawler

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Fetcher performs HTTP requests.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Enumerator discovers the crawl extent and the items on each listing page.
type Enumerator interface {
	TotalPages(ctx context.Context) int
	ListItems(ctx context.Context, page int) ([]ItemDescriptor, error)
}

// Processor fetches and persists a single item.
type Processor interface {
	Process(ctx context.Context, item ItemDescriptor) Outcome
}

// Task is the unit of work executed by a BatchRunner.
type Task func(ctx context.Context, item ItemDescriptor) Outcome

// BatchRunner runs a page's items concurrently and returns once all of them
// finished. Outcomes are index-aligned with items.
type BatchRunner interface {
	RunBatch(ctx context.Context, items []ItemDescriptor, task Task) []Outcome
}

// CompletionChecker reports whether an item was already persisted.
type CompletionChecker interface {
	Contains(id string) bool
}

// ProgressStore is the durable crawl checkpoint. Implementations must be safe
// for concurrent use and serialize Flush calls.
type ProgressStore interface {
	CompletionChecker
	MarkCompleted(id string)
	AdvancePage(page int)
	RecordError(rec ErrorRecord)
	LastPage() int
	Snapshot() ProgressSnapshot
	Flush(ctx context.Context) error
}

// ErrorSink records human-readable failures.
type ErrorSink interface {
	LogError(message, url string)
}

// MetadataSink appends one record per saved item.
type MetadataSink interface {
	Append(ctx context.Context, rec MetadataRecord) error
}

// SummaryWriter persists the final run summary.
type SummaryWriter interface {
	WriteSummary(ctx context.Context, summary Summary) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Sleeper blocks for a duration or until ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Random is the source for identity and delay selection.
type Random interface {
	Float64() float64
	IntN(n int) int
}
