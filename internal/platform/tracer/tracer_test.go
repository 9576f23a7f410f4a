package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"tagconsent/internal/platform/tracer"
)

func TestNoopTracer(t *testing.T) {
	ctx := context.Background()
	newCtx, span := tracer.NewNoop().Start(ctx, tracer.SpanConsentPush, tracer.Bool(tracer.AttrRuntimeReady, true))

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.SetAttributes(tracer.Int64(tracer.AttrPendingCount, 3))
	span.AddEvent("pending.stored")
	span.End(errors.New("boom"))
}

func TestOTelTracerWithNoopProvider(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), tracer.SpanConsentFlush,
		tracer.String(tracer.AttrVisitorHash, "abc"),
		tracer.Duration("elapsed", 1500*time.Millisecond),
	)
	require.NotNil(t, ctx)
	span.SetAttributes(tracer.Bool(tracer.AttrRetry, true))
	span.AddEvent("retry.dropped", tracer.String("reason", "runtime error"))
	span.End(nil)
}

func TestHashVisitorID(t *testing.T) {
	assert.Empty(t, tracer.HashVisitorID(""))

	first := tracer.HashVisitorID("11111111-1111-1111-1111-111111111111")
	assert.Len(t, first, 16)
	assert.Equal(t, first, tracer.HashVisitorID("11111111-1111-1111-1111-111111111111"))
	assert.NotEqual(t, first, tracer.HashVisitorID("22222222-2222-2222-2222-222222222222"))
}

func TestDurationIsMilliseconds(t *testing.T) {
	assert.Equal(t, int64(250), tracer.Duration("d", 250*time.Millisecond).Value)
}
