package store

import (
	"context"
	"time"
)

// Error Contract:
// All backends follow this error pattern:
// - Get returns sentinel.ErrNotFound when no live record exists for the visitor
// - Expired records are indistinguishable from absent ones
// - Infrastructure failures are returned wrapped with context

// Backend persists one opaque consent record per visitor. Payloads are
// produced by Encode and read back through Decode; backends never interpret
// them.
type Backend interface {
	Get(ctx context.Context, visitorID string) ([]byte, error)
	Put(ctx context.Context, visitorID string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, visitorID string) error
}
