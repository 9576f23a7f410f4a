// Package tracer provides a small tracing abstraction so consent code can
// emit spans without depending on OpenTelemetry APIs directly.
//
// Implementations:
//   - NoopTracer: for tests and when tracing is disabled
//   - OTelTracer: OpenTelemetry adapter backed by the global provider
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks the span as failed.
	// End must be called exactly once, typically via defer.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashVisitorID pseudonymizes a visitor ID so traces can be correlated
// without exporting the identifier itself.
func HashVisitorID(visitorID string) string {
	if visitorID == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(visitorID))
	return hex.EncodeToString(hash[:8])
}

// Span names.
const (
	SpanConsentPush  = "consent.push"
	SpanConsentFlush = "consent.flush"
)

// Attribute keys.
const (
	AttrVisitorHash  = "visitor.hash"
	AttrRuntimeReady = "runtime.ready"
	AttrRetry        = "push.retry"
	AttrPendingCount = "push.pending"
)
