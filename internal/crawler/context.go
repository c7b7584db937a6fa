package crawler

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// ContextWithRunID returns a copy of ctx carrying the run ID.
func ContextWithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run ID stored in ctx, or uuid.Nil.
func RunIDFrom(ctx context.Context) uuid.UUID {
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
