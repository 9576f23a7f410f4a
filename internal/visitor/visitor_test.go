package visitor

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tagconsent/pkg/domain-errors"
	"tagconsent/pkg/requestcontext"
)

func TestTokens(t *testing.T) {
	tokens := NewTokens("test-key", time.Hour)
	id := NewVisitorID()

	t.Run("round trip", func(t *testing.T) {
		tok, expiresAt, err := tokens.Issue(id)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Second)

		got, err := tokens.Parse(tok)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("wrong key", func(t *testing.T) {
		tok, _, err := NewTokens("other-key", time.Hour).Issue(id)
		require.NoError(t, err)
		_, err = tokens.Parse(tok)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("expired", func(t *testing.T) {
		past := NewTokens("test-key", time.Hour)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		tok, _, err := past.Issue(id)
		require.NoError(t, err)
		_, err = tokens.Parse(tok)
		require.Error(t, err)
		assert.Equal(t, "visitor token expired", err.Error())
	})

	t.Run("subject must be a uuid", func(t *testing.T) {
		tok, _, err := tokens.Issue("not-a-uuid")
		require.NoError(t, err)
		_, err = tokens.Parse(tok)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Parse("abc.def.ghi")
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	tokens := NewTokens("test-key", 365*24*time.Hour)
	mw := NewMiddleware(tokens, true, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var seen string
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.VisitorID(r.Context())
	}))

	t.Run("mints a visitor without cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consent", nil))

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, CookieName, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.True(t, cookies[0].Secure)
	})

	t.Run("reuses a valid cookie", func(t *testing.T) {
		id := NewVisitorID()
		tok, _, err := tokens.Issue(id)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/consent", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, id, seen)
		assert.Empty(t, w.Result().Cookies())
	})

	t.Run("replaces a forged cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/consent", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: "forged"})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.NotEmpty(t, seen)
		assert.Len(t, w.Result().Cookies(), 1)
	})
}
