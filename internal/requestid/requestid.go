package requestid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Header carries the request ID in and out of the HTTP API.
const Header = "X-Request-ID"

// New generates a time-ordered UUID v7 request ID.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
