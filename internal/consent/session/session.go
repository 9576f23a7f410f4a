// Package session exposes the visitor-facing consent surface: the current
// decision, the unsaved draft, and the accept/reject/save actions.
//
// Storage and runtime failures never escape an action. They are logged and
// reported through Outcome so callers can observe degradation without
// having to handle it.
package session

import (
	"context"
	"log/slog"
	"sync"

	"tagconsent/internal/consent/models"
	"tagconsent/internal/consent/store"
	dErrors "tagconsent/pkg/domain-errors"
)

// ConsentStore loads and records decisions for one visitor at a time.
type ConsentStore interface {
	Load(ctx context.Context, visitorID string) (*models.Decision, error)
	RecordAcceptAll(ctx context.Context, visitorID string) (models.Decision, error)
	RecordRejectAll(ctx context.Context, visitorID string) (models.Decision, error)
	RecordCustom(ctx context.Context, visitorID string, selection map[models.Category]bool) (models.Decision, error)
}

// Synchronizer pushes a visitor's preferences to the tag runtime.
type Synchronizer interface {
	Sync(ctx context.Context, visitorID string, prefs models.Preferences) error
}

// SyncStatus describes what happened to the push that followed an action.
type SyncStatus string

const (
	SyncNone      SyncStatus = "none"      // nothing to push
	SyncDelivered SyncStatus = "delivered" // runtime accepted the update
	SyncDeferred  SyncStatus = "deferred"  // runtime not ready; parked for one retry
	SyncFailed    SyncStatus = "failed"    // runtime rejected the update
)

// Outcome is the result of a committing action. Decision is always valid.
type Outcome struct {
	Decision  models.Decision
	Persisted bool
	Sync      SyncStatus
}

// Session holds one visitor's consent state.
//
// Invariants:
//   - events are handled one at a time, each to completion
//   - the current decision is replaced wholesale, never edited
//   - after a committing action the draft equals the recorded preferences
type Session struct {
	visitorID string
	store     ConsentStore
	syncer    Synchronizer
	logger    *slog.Logger

	mu      sync.Mutex
	current *models.Decision
	draft   models.Preferences
	loadErr error
	mirror  []byte
}

func New(visitorID string, store ConsentStore, syncer Synchronizer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		visitorID: visitorID,
		store:     store,
		syncer:    syncer,
		logger:    logger,
		draft:     models.RejectAll(),
	}
}

// VisitorID returns the visitor this session belongs to.
func (s *Session) VisitorID() string {
	return s.visitorID
}

// UseMirror supplies the client-held copy of the visitor's record. Open falls
// back to it when storage has no usable record, so a decision made while
// storage was down keeps governing later requests.
func (s *Session) UseMirror(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = raw
}

// Open loads the persisted decision without pushing anything. When storage
// has no usable record the mirror is tried; if that is absent or malformed
// too the session is in the first-visit state.
func (s *Session) Open(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(ctx)
}

// Start is the cold-start path: Open, then one resynchronization push when a
// decision exists. First visits push nothing until the visitor acts.
func (s *Session) Start(ctx context.Context) SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(ctx)
	if s.current == nil {
		return SyncNone
	}
	return s.syncLocked(ctx, s.current.Preferences)
}

// CurrentDecision returns a copy of the current decision, or nil on a first
// visit.
func (s *Session) CurrentDecision() *models.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	d := *s.current
	return &d
}

// HasDecision reports whether a decision governs this session.
func (s *Session) HasDecision() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// LoadError returns the error from the last load, if any. It is
// informational only.
func (s *Session) LoadError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Draft returns the unsaved toggle state.
func (s *Session) Draft() models.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraft replaces the draft, e.g. with toggles held by the client.
func (s *Session) SetDraft(draft models.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = models.FromSelection(draft.Map())
}

// UpdateDraft applies one toggle to the draft and returns the new draft.
// Nothing is persisted or pushed.
func (s *Session) UpdateDraft(category models.Category, value bool) models.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = s.draft.With(category, value)
	return s.draft
}

// AcceptAll records and pushes a decision granting every category.
func (s *Session) AcceptAll(ctx context.Context) Outcome {
	return s.commit(ctx, func() (models.Decision, error) {
		return s.store.RecordAcceptAll(ctx, s.visitorID)
	})
}

// RejectAll records and pushes a decision granting only necessary.
func (s *Session) RejectAll(ctx context.Context) Outcome {
	return s.commit(ctx, func() (models.Decision, error) {
		return s.store.RecordRejectAll(ctx, s.visitorID)
	})
}

// SaveCustom records and pushes draft as the visitor's decision.
func (s *Session) SaveCustom(ctx context.Context, draft models.Preferences) Outcome {
	return s.commit(ctx, func() (models.Decision, error) {
		return s.store.RecordCustom(ctx, s.visitorID, draft.Map())
	})
}

func (s *Session) commit(ctx context.Context, record func() (models.Decision, error)) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	decision, err := record()
	out := Outcome{Decision: decision, Persisted: err == nil}
	if err != nil {
		s.logger.WarnContext(ctx, "consent decision governs session without persistence",
			"visitor_id", s.visitorID,
			"error", err,
		)
	}

	s.current = &decision
	s.draft = decision.Preferences
	out.Sync = s.syncLocked(ctx, decision.Preferences)
	return out
}

func (s *Session) openLocked(ctx context.Context) {
	decision, err := s.store.Load(ctx, s.visitorID)
	s.loadErr = err
	if err != nil {
		s.logger.WarnContext(ctx, "starting consent session without stored decision",
			"visitor_id", s.visitorID,
			"error", err,
		)
	}
	if decision == nil {
		decision = s.decodeMirror(ctx)
	}
	s.current = decision
	if decision != nil {
		s.draft = decision.Preferences
	} else {
		s.draft = models.RejectAll()
	}
}

func (s *Session) decodeMirror(ctx context.Context) *models.Decision {
	if len(s.mirror) == 0 {
		return nil
	}
	decision, err := store.Decode(s.mirror)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed consent mirror",
			"visitor_id", s.visitorID,
			"error", err,
		)
		return nil
	}
	s.logger.InfoContext(ctx, "consent decision restored from mirror", "visitor_id", s.visitorID)
	return &decision
}

func (s *Session) syncLocked(ctx context.Context, prefs models.Preferences) SyncStatus {
	if s.syncer == nil {
		return SyncNone
	}
	err := s.syncer.Sync(ctx, s.visitorID, prefs)
	switch {
	case err == nil:
		return SyncDelivered
	case dErrors.HasCode(err, dErrors.CodeRuntimeNotReady):
		s.logger.DebugContext(ctx, "consent push deferred until runtime is ready", "visitor_id", s.visitorID)
		return SyncDeferred
	default:
		s.logger.WarnContext(ctx, "consent push failed", "visitor_id", s.visitorID, "error", err)
		return SyncFailed
	}
}
