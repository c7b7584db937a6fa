package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported crawl stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StagePageStart  Stage = "PAGE_START"
	StagePageDone   Stage = "PAGE_DONE"
	StageItemDone   Stage = "ITEM_DONE"
	StageFetchRetry Stage = "FETCH_RETRY"
)

// Event captures a single crawl milestone.
type Event struct {
	// RunID identifies the crawl run; fetch events may leave it zero.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Page is the listing page for page and item events.
	Page int
	// ItemID is the judgment identifier for item events.
	ItemID string
	URL    string
	// Status is the item outcome or the retry reason.
	Status  string
	Attempt int
	// Dur is the page duration, item duration or retry wait.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
		if e.RunID == uuid.Nil {
			return errors.New("run events require run id")
		}
	case StagePageStart, StagePageDone:
		if e.Page <= 0 {
			return errors.New("page events require page")
		}
	case StageItemDone:
		if e.ItemID == "" || e.Status == "" {
			return errors.New("item events require id and status")
		}
	case StageFetchRetry:
		if e.URL == "" {
			return errors.New("fetch retry requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
