// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// Clock implements crawler.Clock; timestamps are always UTC.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
