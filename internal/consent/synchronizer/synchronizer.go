// Package synchronizer keeps the tag runtime's consent state in line with
// the visitor's decision.
//
// A push happens only while the runtime is ready. A sync attempted before
// that is parked as the visitor's pending push and delivered exactly once on
// the next readiness transition. Nothing is retried after that.
package synchronizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tagconsent/internal/consent/metrics"
	"tagconsent/internal/consent/models"
	"tagconsent/internal/platform/tracer"
	"tagconsent/internal/tagmanager"
	dErrors "tagconsent/pkg/domain-errors"
	platformsync "tagconsent/pkg/platform/sync"
)

const defaultMaxPending = 10000

type Option func(*Synchronizer)

// WithMetrics sets the metrics instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used around runtime calls.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Synchronizer) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMaxPending bounds how many visitors can wait for readiness at once.
func WithMaxPending(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

// Synchronizer derives the external signal and pushes it to the runtime.
//
// Invariants:
//   - the runtime is never called while the gate reports not ready
//   - each pending push is attempted at most once
//   - mu is never held across a runtime call
//   - deliveries for one visitor are serialized by visitors, so a retry
//     taken from pending never lands after a newer push for that visitor
type Synchronizer struct {
	runtime    tagmanager.Runtime
	readiness  tagmanager.Readiness
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     tracer.Tracer
	maxPending int
	visitors   *platformsync.ShardedMutex

	mu      sync.Mutex
	pending map[string]models.Signal
}

func New(runtime tagmanager.Runtime, readiness tagmanager.Readiness, logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		runtime:    runtime,
		readiness:  readiness,
		logger:     logger,
		tracer:     tracer.NewNoop(),
		maxPending: defaultMaxPending,
		visitors:   platformsync.NewShardedMutex(0),
		pending:    make(map[string]models.Signal),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runtime == nil {
		s.runtime = tagmanager.Noop{}
	}
	if s.readiness == nil {
		s.readiness = tagmanager.NeverReady
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Push delivers signal when the runtime is ready. Otherwise it does nothing
// and returns a runtime_not_ready error. Runtime failures are returned as-is
// and never retried.
func (s *Synchronizer) Push(ctx context.Context, visitorID string, signal models.Signal) error {
	if !s.readiness.Ready() {
		s.incrementPushes(metrics.PushNotReady)
		return dErrors.New(dErrors.CodeRuntimeNotReady, "tag runtime not ready")
	}
	s.visitors.Lock(visitorID)
	defer s.visitors.Unlock(visitorID)
	return s.deliver(ctx, visitorID, signal, false)
}

// Sync derives the signal for prefs and pushes it. When the runtime is not
// ready the signal replaces any earlier pending push for the visitor and a
// runtime_not_ready error is returned; callers treat it as informational.
func (s *Synchronizer) Sync(ctx context.Context, visitorID string, prefs models.Preferences) error {
	signal := models.DeriveSignal(prefs)

	if !s.readiness.Ready() {
		s.incrementPushes(metrics.PushNotReady)
		if !s.park(ctx, visitorID, signal) {
			return dErrors.New(dErrors.CodeRuntimeNotReady, "tag runtime not ready, push dropped")
		}
		// The gate may have turned ready after the check above, in which case
		// its Flush ran before the signal was parked.
		if s.readiness.Ready() {
			return s.retryPending(ctx, visitorID)
		}
		return dErrors.New(dErrors.CodeRuntimeNotReady, "tag runtime not ready, push deferred")
	}

	s.visitors.Lock(visitorID)
	defer s.visitors.Unlock(visitorID)
	// A fresher signal supersedes whatever was parked for this visitor.
	s.discardPending(visitorID)
	return s.deliver(ctx, visitorID, signal, false)
}

// Flush delivers every pending push once and forgets it. It is meant to be
// subscribed to the readiness gate. Failed retries are logged and dropped.
func (s *Synchronizer) Flush(ctx context.Context) {
	s.mu.Lock()
	visitorIDs := make([]string, 0, len(s.pending))
	for visitorID := range s.pending {
		visitorIDs = append(visitorIDs, visitorID)
	}
	s.mu.Unlock()

	if len(visitorIDs) == 0 {
		return
	}

	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentFlush, tracer.Int64(tracer.AttrPendingCount, int64(len(visitorIDs))))
	var failed int64
	for _, visitorID := range visitorIDs {
		if err := s.retryPending(ctx, visitorID); err != nil {
			failed++
		}
	}
	span.SetAttributes(tracer.Int64("push.failed", failed))
	span.End(nil)
}

// retryPending takes the visitor's pending signal, if still there, and
// delivers it once.
func (s *Synchronizer) retryPending(ctx context.Context, visitorID string) error {
	s.visitors.Lock(visitorID)
	defer s.visitors.Unlock(visitorID)

	signal, ok := s.takePending(visitorID)
	if !ok {
		return nil
	}
	s.incrementPushes(metrics.PushRetried)
	if err := s.deliver(ctx, visitorID, signal, true); err != nil {
		s.incrementPushes(metrics.PushDropped)
		s.logger.WarnContext(ctx, "pending consent push failed, dropping",
			"visitor_id", visitorID,
			"error", err,
		)
		return err
	}
	return nil
}

// HasPending reports whether a push is parked for the visitor.
func (s *Synchronizer) HasPending(visitorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[visitorID]
	return ok
}

// PendingCount reports how many visitors are waiting for readiness.
func (s *Synchronizer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Synchronizer) deliver(ctx context.Context, visitorID string, signal models.Signal, retry bool) error {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentPush,
		tracer.String(tracer.AttrVisitorHash, tracer.HashVisitorID(visitorID)),
		tracer.Bool(tracer.AttrRetry, retry),
	)
	start := time.Now()
	err := s.runtime.UpdateConsent(ctx, visitorID, signal)
	s.observePushLatency(start)
	span.End(err)

	if err != nil {
		s.incrementPushes(metrics.PushFailed)
		if !retry {
			s.logger.WarnContext(ctx, "consent push failed",
				"visitor_id", visitorID,
				"error", err,
			)
		}
		return err
	}
	s.incrementPushes(metrics.PushDelivered)
	return nil
}

func (s *Synchronizer) park(ctx context.Context, visitorID string, signal models.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[visitorID]; !exists && len(s.pending) >= s.maxPending {
		s.incrementPushes(metrics.PushDropped)
		s.logger.WarnContext(ctx, "pending consent queue full, push dropped",
			"visitor_id", visitorID,
			"max_pending", s.maxPending,
		)
		return false
	}
	s.pending[visitorID] = signal
	s.setPendingGauge(len(s.pending))
	return true
}

func (s *Synchronizer) takePending(visitorID string) (models.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal, ok := s.pending[visitorID]
	if ok {
		delete(s.pending, visitorID)
		s.setPendingGauge(len(s.pending))
	}
	return signal, ok
}

func (s *Synchronizer) discardPending(visitorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[visitorID]; ok {
		delete(s.pending, visitorID)
		s.setPendingGauge(len(s.pending))
	}
}

func (s *Synchronizer) incrementPushes(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementPushes(outcome)
	}
}

func (s *Synchronizer) setPendingGauge(n int) {
	if s.metrics != nil {
		s.metrics.SetPendingPushes(float64(n))
	}
}

func (s *Synchronizer) observePushLatency(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObservePushLatency(time.Since(start).Seconds())
	}
}
