package visitor

import (
	"log/slog"
	"net/http"
	"time"

	"tagconsent/pkg/requestcontext"
)

// CookieName holds the signed visitor token.
const CookieName = "consent_visitor"

// Middleware resolves the visitor from the identity cookie, minting a new
// visitor (and cookie) when the cookie is missing or invalid.
type Middleware struct {
	tokens *Tokens
	secure bool
	logger *slog.Logger
}

// NewMiddleware constructs the visitor middleware.
func NewMiddleware(tokens *Tokens, secure bool, logger *slog.Logger) *Middleware {
	return &Middleware{tokens: tokens, secure: secure, logger: logger}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		visitorID := ""
		if c, err := r.Cookie(CookieName); err == nil {
			id, err := m.tokens.Parse(c.Value)
			if err != nil {
				m.logger.DebugContext(ctx, "discarding visitor cookie",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
			}
			visitorID = id
		}

		if visitorID == "" {
			visitorID = NewVisitorID()
			token, expiresAt, err := m.tokens.Issue(visitorID)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to issue visitor token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
			} else {
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    token,
					Path:     "/",
					Expires:  expiresAt,
					MaxAge:   int(time.Until(expiresAt).Seconds()),
					HttpOnly: true,
					Secure:   m.secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
		}

		next.ServeHTTP(w, r.WithContext(requestcontext.WithVisitorID(ctx, visitorID)))
	})
}
