// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// Generator creates time-ordered UUID v7 identifiers, so run IDs sort by
// start time.
type Generator struct{}

var _ crawler.IDGenerator = Generator{}

// New returns a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUID v7 string.
func (g Generator) NewID() (string, error) {
	id, err := g.NewRawID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRawID returns a UUID v7.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}
