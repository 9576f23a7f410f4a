package session

import (
	"context"
	"log/slog"
	"time"

	"tagconsent/internal/consent/metrics"
	dErrors "tagconsent/pkg/domain-errors"
	platformsync "tagconsent/pkg/platform/sync"
)

// defaultSessionTimeout bounds one session event when the caller set no
// deadline.
const defaultSessionTimeout = 5 * time.Second

type ManagerOption func(*Manager)

// WithMetrics records lock contention.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithTimeout overrides the per-event deadline applied when ctx has none.
func WithTimeout(d time.Duration) ManagerOption {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.timeout = d
		}
	}
}

// WithShards sets how many lock shards visitors hash onto.
func WithShards(n int) ManagerOption {
	return func(mgr *Manager) {
		mgr.locks = platformsync.NewShardedMutex(n)
	}
}

// Manager builds a Session per request and serializes events per visitor,
// so two concurrent requests for the same visitor run one after the other.
type Manager struct {
	store   ConsentStore
	syncer  Synchronizer
	logger  *slog.Logger
	metrics *metrics.Metrics
	locks   *platformsync.ShardedMutex
	timeout time.Duration
}

func NewManager(store ConsentStore, syncer Synchronizer, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		syncer:  syncer,
		logger:  logger,
		timeout: defaultSessionTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locks == nil {
		m.locks = platformsync.NewShardedMutex(0)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// WithSession runs fn against a fresh Session for visitorID while holding
// the visitor's lock. The session is not loaded; fn calls Open or Start
// when it needs the persisted decision.
func (m *Manager) WithSession(ctx context.Context, visitorID string, fn func(ctx context.Context, s *Session) error) error {
	if visitorID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "missing visitor")
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "session aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	lockStart := time.Now()
	m.locks.Lock(visitorID)
	defer m.locks.Unlock(visitorID)
	if m.metrics != nil {
		m.metrics.ObserveSessionLockWait(time.Since(lockStart).Seconds())
	}

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "session aborted: context cancelled")
	}

	return fn(ctx, New(visitorID, m.store, m.syncer, m.logger))
}
