package crawler

import (
	"errors"
	"fmt"
)

// ErrFatalDiscovery aborts a run whose page count cannot be resolved.
var ErrFatalDiscovery = errors.New("could not determine total pages")

// ErrNoContent marks a detail page without an extractable judgment body.
var ErrNoContent = errors.New("no extractable content")

// FetchFailure is returned once every attempt for a URL has failed.
type FetchFailure struct {
	URL        string
	Attempts   int
	LastStatus int
	Err        error
}

func (e *FetchFailure) Error() string {
	msg := fmt.Sprintf("fetch %s failed after %d attempts", e.URL, e.Attempts)
	if e.LastStatus != 0 {
		msg = fmt.Sprintf("%s (last status %d)", msg, e.LastStatus)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchFailure) Unwrap() error {
	return e.Err
}

// ParseFailure reports markup that could not be interpreted.
type ParseFailure struct {
	Role string
	URL  string
	Err  error
}

func (e *ParseFailure) Error() string {
	return fmt.Errorf("parse %s %s: %w", e.Role, e.URL, e.Err).Error()
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// PersistenceError wraps an unexpected failure while saving an item.
type PersistenceError struct {
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Errorf("persist %s: %w", e.ID, e.Err).Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ErrorKind returns a short label for err suitable for metrics and logs.
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}
	var fetch *FetchFailure
	if errors.As(err, &fetch) {
		return "fetch_failure"
	}
	var parse *ParseFailure
	if errors.As(err, &parse) {
		return "parse_failure"
	}
	if errors.Is(err, ErrNoContent) {
		return "no_content"
	}
	var persist *PersistenceError
	if errors.As(err, &persist) {
		return "persistence_error"
	}
	if errors.Is(err, ErrFatalDiscovery) {
		return "fatal_discovery"
	}
	return "unknown"
}
