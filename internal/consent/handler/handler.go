package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"tagconsent/internal/consent/models"
	"tagconsent/internal/consent/session"
	"tagconsent/internal/consent/store"
	"tagconsent/internal/tagmanager"
	dErrors "tagconsent/pkg/domain-errors"
	"tagconsent/pkg/platform/httputil"
	"tagconsent/pkg/requestcontext"
)

// MirrorCookieName is readable by client-side tags and mirrors the stored
// record.
const MirrorCookieName = "cookie-consent"

// Sessions runs work against a visitor's serialized consent session.
type Sessions interface {
	WithSession(ctx context.Context, visitorID string, fn func(ctx context.Context, s *session.Session) error) error
}

// Eraser removes a visitor's stored decision.
type Eraser interface {
	Forget(ctx context.Context, visitorID string) error
}

// DataLayerQueue hands queued dataLayer commands to the visitor's page.
type DataLayerQueue interface {
	Drain(visitorID string) []tagmanager.Command
}

type Option func(*Handler)

// WithEraser enables DELETE /consent.
func WithEraser(e Eraser) Option {
	return func(h *Handler) {
		h.eraser = e
	}
}

// WithDataLayer enables GET /consent/datalayer.
func WithDataLayer(q DataLayerQueue) Option {
	return func(h *Handler) {
		h.dataLayer = q
	}
}

// WithSecureCookies marks the mirror cookie Secure.
func WithSecureCookies(secure bool) Option {
	return func(h *Handler) {
		h.secureCookies = secure
	}
}

// Handler handles consent endpoints for the visitor resolved by the visitor
// middleware.
type Handler struct {
	logger        *slog.Logger
	sessions      Sessions
	eraser        Eraser
	dataLayer     DataLayerQueue
	secureCookies bool
}

// New creates a new consent Handler.
func New(sessions Sessions, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:   logger,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/consent", h.HandleGetState)
	r.Post("/consent/start", h.HandleStart)
	r.Post("/consent/accept-all", h.HandleAcceptAll)
	r.Post("/consent/reject-all", h.HandleRejectAll)
	r.Post("/consent/draft", h.HandleUpdateDraft)
	r.Post("/consent/custom", h.HandleSaveCustom)
	r.Get("/consent/categories", h.HandleCategories)
	if h.eraser != nil {
		r.Delete("/consent", h.HandleForget)
	}
	if h.dataLayer != nil {
		r.Get("/consent/datalayer", h.HandleDrainDataLayer)
	}
}

// HandleGetState reports the stored decision without pushing anything.
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	var res StateResponse
	h.withSession(w, r, func(ctx context.Context, s *session.Session) error {
		s.UseMirror(mirrorRecord(r))
		s.Open(ctx)
		res = toStateResponse(s, "")
		return nil
	}, func() {
		httputil.WriteJSON(w, http.StatusOK, res)
	})
}

// HandleStart is the page-load path: load the stored decision and resync
// the tag runtime with it once.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var res StateResponse
	h.withSession(w, r, func(ctx context.Context, s *session.Session) error {
		s.UseMirror(mirrorRecord(r))
		res = toStateResponse(s, s.Start(ctx))
		return nil
	}, func() {
		httputil.WriteJSON(w, http.StatusOK, res)
	})
}

func (h *Handler) HandleAcceptAll(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, func(ctx context.Context, s *session.Session) session.Outcome {
		return s.AcceptAll(ctx)
	})
}

func (h *Handler) HandleRejectAll(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, func(ctx context.Context, s *session.Session) session.Outcome {
		return s.RejectAll(ctx)
	})
}

// HandleUpdateDraft applies one toggle to the client-held draft. Nothing is
// stored or pushed.
func (h *Handler) HandleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[models.DraftRequest](w, r, h.logger)
	if !ok {
		return
	}
	// Validate already checked both the category and the draft keys.
	category, _ := models.ParseCategory(req.Category)
	selection, _ := req.Draft.Categories()

	var res DraftResponse
	h.withSession(w, r, func(_ context.Context, s *session.Session) error {
		s.SetDraft(models.FromSelection(selection))
		res.Draft = toSelection(s.UpdateDraft(category, req.Value))
		return nil
	}, func() {
		httputil.WriteJSON(w, http.StatusOK, res)
	})
}

// HandleSaveCustom records the submitted selection.
func (h *Handler) HandleSaveCustom(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[models.CustomRequest](w, r, h.logger)
	if !ok {
		return
	}
	selection, _ := req.Preferences.Categories()
	draft := models.FromSelection(selection)

	h.commit(w, r, func(ctx context.Context, s *session.Session) session.Outcome {
		return s.SaveCustom(ctx, draft)
	})
}

func (h *Handler) HandleCategories(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, toCategoriesResponse())
}

// HandleForget clears the stored decision and the mirror cookie.
func (h *Handler) HandleForget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := requestcontext.VisitorID(ctx)
	if visitorID == "" {
		h.missingVisitor(w, r)
		return
	}
	if err := h.eraser.Forget(ctx, visitorID); err != nil {
		h.logger.ErrorContext(ctx, "failed to erase consent",
			"request_id", requestcontext.RequestID(ctx),
			"visitor_id", visitorID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:   MirrorCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
		Secure: h.secureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleDrainDataLayer hands queued consent commands to the page.
func (h *Handler) HandleDrainDataLayer(w http.ResponseWriter, r *http.Request) {
	visitorID := requestcontext.VisitorID(r.Context())
	if visitorID == "" {
		h.missingVisitor(w, r)
		return
	}
	commands := h.dataLayer.Drain(visitorID)
	if commands == nil {
		commands = []tagmanager.Command{}
	}
	httputil.WriteJSON(w, http.StatusOK, DataLayerResponse{Commands: commands})
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, s *session.Session) session.Outcome) {
	var out session.Outcome
	h.withSession(w, r, func(ctx context.Context, s *session.Session) error {
		out = action(ctx, s)
		return nil
	}, func() {
		h.setMirrorCookie(r.Context(), w, out.Decision)
		httputil.WriteJSON(w, http.StatusOK, toActionResponse(out))
	})
}

// withSession runs fn under the visitor's session lock and calls respond
// only when it succeeded.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, s *session.Session) error, respond func()) {
	ctx := r.Context()
	visitorID := requestcontext.VisitorID(ctx)
	if visitorID == "" {
		h.missingVisitor(w, r)
		return
	}
	if err := h.sessions.WithSession(ctx, visitorID, fn); err != nil {
		h.logger.ErrorContext(ctx, "consent session failed",
			"request_id", requestcontext.RequestID(ctx),
			"visitor_id", visitorID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	respond()
}

func (h *Handler) setMirrorCookie(ctx context.Context, w http.ResponseWriter, d models.Decision) {
	payload, err := store.Encode(d)
	if err != nil {
		h.logger.WarnContext(ctx, "skipping consent mirror cookie", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     MirrorCookieName,
		Value:    url.QueryEscape(string(payload)),
		Path:     "/",
		MaxAge:   int(models.RetentionPeriod.Seconds()),
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// mirrorRecord returns the record held in the mirror cookie, or nil.
func mirrorRecord(r *http.Request) []byte {
	c, err := r.Cookie(MirrorCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return nil
	}
	return []byte(raw)
}

func (h *Handler) missingVisitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, "visitor missing from context despite visitor middleware",
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "visitor context error"))
}
