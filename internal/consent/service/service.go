package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tagconsent/internal/audit"
	"tagconsent/internal/consent/metrics"
	"tagconsent/internal/consent/models"
	"tagconsent/internal/consent/store"
	dErrors "tagconsent/pkg/domain-errors"
	"tagconsent/pkg/platform/sentinel"
	"tagconsent/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

// Store persists one encoded consent record per visitor.
// Error Contract:
// - Get returns sentinel.ErrNotFound when no live record exists
// - Other failures are infrastructure errors and are reported as storage_unavailable
type Store interface {
	Get(ctx context.Context, visitorID string) ([]byte, error)
	Put(ctx context.Context, visitorID string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, visitorID string) error
}

type Option func(*Service)

// Service owns decision construction and the load/save lifecycle of a
// visitor's consent record.
//
// Invariant: every Record* call returns a complete, usable Decision. A
// non-nil error only means the decision was not persisted.
type Service struct {
	store   Store
	auditor *audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// WithMetrics sets the metrics instance for the service
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditor sets the audit publisher.
func WithAuditor(p *audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

// WithClock overrides the time source used to stamp decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.clock = now
	}
}

// Load reads the visitor's persisted decision.
//
// A first visit yields (nil, nil). Malformed records yield nil with a
// malformed_persisted_value error and backend failures yield nil with a
// storage_unavailable error; callers treat every nil decision as "no
// decision yet".
func (s *Service) Load(ctx context.Context, visitorID string) (*models.Decision, error) {
	if visitorID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "missing visitor")
	}

	start := time.Now()
	payload, err := s.store.Get(ctx, visitorID)
	s.observeStoreLatency("get", start)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.incrementLoads(metrics.LoadMiss)
		return nil, nil
	}
	if err != nil {
		s.incrementLoads(metrics.LoadUnavailable)
		s.logger.WarnContext(ctx, "consent storage unavailable on load",
			"visitor_id", visitorID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to load consent")
	}

	decision, err := store.Decode(payload)
	if err != nil {
		s.incrementLoads(metrics.LoadMalformed)
		s.logger.WarnContext(ctx, "ignoring malformed consent record",
			"visitor_id", visitorID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedValue, "persisted consent is malformed")
	}

	if decision.RecordedAt.IsZero() {
		decision.RecordedAt = s.now(ctx)
	}
	if decision.Source == models.SourceLegacy {
		s.incrementLoads(metrics.LoadLegacy)
		s.emitAudit(ctx, audit.Event{
			VisitorID: visitorID,
			Action:    models.AuditActionConsentUpgraded,
			Decision:  decisionLabel(decision),
			Reason:    models.AuditReasonLegacyRecord,
			Granted:   grantedNames(decision.Preferences),
		})
	} else {
		s.incrementLoads(metrics.LoadHit)
	}
	return &decision, nil
}

// RecordAcceptAll persists a decision granting every category.
func (s *Service) RecordAcceptAll(ctx context.Context, visitorID string) (models.Decision, error) {
	return s.record(ctx, visitorID, models.AcceptAll(), models.SourceAcceptAll)
}

// RecordRejectAll persists a decision denying everything except necessary.
func (s *Service) RecordRejectAll(ctx context.Context, visitorID string) (models.Decision, error) {
	return s.record(ctx, visitorID, models.RejectAll(), models.SourceRejectAll)
}

// RecordCustom persists the visitor's selection merged over reject-all.
// Unknown categories are ignored and necessary is forced on.
func (s *Service) RecordCustom(ctx context.Context, visitorID string, selection map[models.Category]bool) (models.Decision, error) {
	return s.record(ctx, visitorID, models.FromSelection(selection), models.SourceCustom)
}

// UpdateDraft applies one toggle to an unsaved draft. It never touches
// storage.
func (s *Service) UpdateDraft(draft models.Preferences, category models.Category, value bool) models.Preferences {
	return draft.With(category, value)
}

// Forget erases the visitor's persisted decision so the next visit starts
// without one.
func (s *Service) Forget(ctx context.Context, visitorID string) error {
	if visitorID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "missing visitor")
	}
	start := time.Now()
	err := s.store.Delete(ctx, visitorID)
	s.observeStoreLatency("delete", start)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to erase consent")
	}
	return nil
}

func (s *Service) record(ctx context.Context, visitorID string, prefs models.Preferences, source models.Source) (models.Decision, error) {
	decision := models.NewDecision(prefs, source, s.now(ctx))
	if visitorID == "" {
		return decision, dErrors.New(dErrors.CodeInvalidInput, "missing visitor")
	}

	payload, err := store.Encode(decision)
	if err != nil {
		return decision, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode consent")
	}

	start := time.Now()
	err = s.store.Put(ctx, visitorID, payload, models.RetentionPeriod)
	s.observeStoreLatency("put", start)
	if err != nil {
		s.incrementPersistFailures()
		s.logger.WarnContext(ctx, "consent decision not persisted",
			"visitor_id", visitorID,
			"source", string(source),
			"error", err,
		)
		s.emitAudit(ctx, audit.Event{
			VisitorID: visitorID,
			Action:    models.AuditActionConsentNotPersisted,
			Decision:  decisionLabel(decision),
			Reason:    models.AuditReasonUserInitiated,
			Granted:   grantedNames(decision.Preferences),
		})
		return decision, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "consent decision not persisted")
	}

	s.incrementDecisionsRecorded(decision)
	s.emitAudit(ctx, audit.Event{
		VisitorID: visitorID,
		Action:    models.AuditActionConsentRecorded,
		Decision:  decisionLabel(decision),
		Reason:    models.AuditReasonUserInitiated,
		Granted:   grantedNames(decision.Preferences),
	})
	return decision, nil
}

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return requestcontext.Now(ctx)
}

func decisionLabel(d models.Decision) string {
	switch d.Source {
	case models.SourceAcceptAll:
		return models.AuditDecisionAcceptAll
	case models.SourceRejectAll:
		return models.AuditDecisionRejectAll
	case models.SourceLegacy:
		if d.Preferences.AllGranted() {
			return models.AuditDecisionAcceptAll
		}
		return models.AuditDecisionRejectAll
	default:
		return models.AuditDecisionCustom
	}
}

func grantedNames(p models.Preferences) []string {
	var out []string
	for _, c := range models.Categories() {
		if p.Granted(c) {
			out = append(out, c.String())
		}
	}
	return out
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}

// incrementDecisionsRecorded counts the decision and each granted category if metrics are enabled
func (s *Service) incrementDecisionsRecorded(d models.Decision) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncrementDecisionsRecorded(string(d.Source))
	for _, c := range models.Categories() {
		if d.Preferences.Granted(c) {
			s.metrics.IncrementCategoryGrant(c.String())
		}
	}
}

func (s *Service) incrementPersistFailures() {
	if s.metrics != nil {
		s.metrics.IncrementPersistFailures()
	}
}

func (s *Service) incrementLoads(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementLoads(outcome)
	}
}

func (s *Service) observeStoreLatency(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveStoreOperationLatency(operation, time.Since(start).Seconds())
	}
}
