package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"tagconsent/internal/consent/models"
	"tagconsent/internal/consent/service"
	"tagconsent/internal/consent/session"
	"tagconsent/internal/consent/store"
	"tagconsent/internal/consent/synchronizer"
	"tagconsent/internal/tagmanager"
	"tagconsent/pkg/requestcontext"
	"tagconsent/pkg/testutil"
)

var visitorID = testutil.TestVisitors.First

// actionBody mirrors ActionResponse with a decodable signal.
type actionBody struct {
	Decision  DecisionResponse  `json:"decision"`
	Signal    map[string]string `json:"signal"`
	Persisted bool              `json:"persisted"`
	Sync      string            `json:"sync"`
}

type stateBody struct {
	HasDecision bool              `json:"has_decision"`
	Decision    *DecisionResponse `json:"decision"`
	Signal      map[string]string `json:"signal"`
	Outdated    bool              `json:"outdated"`
	Draft       map[string]bool   `json:"draft"`
	Sync        string            `json:"sync"`
}

type HandlerSuite struct {
	suite.Suite
	backend   *testutil.FlakyBackend
	gate      *tagmanager.Gate
	dataLayer *tagmanager.DataLayer
	sync      *synchronizer.Synchronizer
	router    http.Handler
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))

	s.backend = testutil.NewFlakyBackend()
	s.gate = tagmanager.NewGate()
	s.dataLayer = tagmanager.NewDataLayer()
	s.sync = synchronizer.New(s.dataLayer, s.gate, logger)
	s.gate.Subscribe(s.sync.Flush)

	svc := service.NewService(s.backend, logger, service.WithClock(clock.Now))
	manager := session.NewManager(svc, s.sync, logger)
	h := New(manager, logger, WithEraser(svc), WithDataLayer(s.dataLayer))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithVisitorID(r.Context(), visitorID)))
		})
	})
	h.Register(r)
	s.router = r
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) action(path, body string) actionBody {
	rec := s.do(http.MethodPost, path, body)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var res actionBody
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func (s *HandlerSuite) state(method, path string, cookies ...*http.Cookie) stateBody {
	rec := s.do(method, path, "", cookies...)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var res stateBody
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func (s *HandlerSuite) mirrorCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == MirrorCookieName {
			return c
		}
	}
	return nil
}

func (s *HandlerSuite) TestFirstVisit() {
	res := s.state(http.MethodGet, "/consent")
	s.False(res.HasDecision)
	s.Nil(res.Decision)
	s.Equal(map[string]bool{
		"necessary":       true,
		"advertising":     false,
		"analytics":       false,
		"functional":      false,
		"personalization": false,
	}, res.Draft)

	s.Run("start pushes nothing", func() {
		s.gate.MarkReady(context.Background())
		res := s.state(http.MethodPost, "/consent/start")
		s.Equal(string(session.SyncNone), res.Sync)
		s.Equal(0, s.dataLayer.Pending(visitorID))
	})
}

func (s *HandlerSuite) TestAcceptAll() {
	s.gate.MarkReady(context.Background())

	rec := s.do(http.MethodPost, "/consent/accept-all", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var res actionBody
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))

	s.True(res.Persisted)
	s.Equal(string(session.SyncDelivered), res.Sync)
	s.Equal("accept_all", res.Decision.Source)
	for key, value := range res.Signal {
		s.Equal("granted", value, key)
	}
	s.Len(res.Signal, 7)

	s.Run("mirror cookie carries the stored record", func() {
		cookie := s.mirrorCookie(rec)
		s.Require().NotNil(cookie)
		s.False(cookie.HttpOnly)
		s.Equal(int(models.RetentionPeriod.Seconds()), cookie.MaxAge)
		raw, err := url.QueryUnescape(cookie.Value)
		s.Require().NoError(err)
		d, err := store.Decode([]byte(raw))
		s.Require().NoError(err)
		s.True(d.Preferences.AllGranted())
	})

	s.Run("datalayer receives exactly one update", func() {
		rec := s.do(http.MethodGet, "/consent/datalayer", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		var dl struct {
			Commands []json.RawMessage `json:"commands"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &dl))
		s.Require().Len(dl.Commands, 1)
		s.Contains(string(dl.Commands[0]), `"consent","update"`)
	})

	s.Run("later visit loads the decision", func() {
		res := s.state(http.MethodGet, "/consent")
		s.True(res.HasDecision)
		s.Equal("granted", res.Signal["analytics_storage"])
		s.False(res.Outdated)
	})
}

func (s *HandlerSuite) TestRejectAll() {
	s.gate.MarkReady(context.Background())
	res := s.action("/consent/reject-all", "")

	s.True(res.Persisted)
	s.Equal("granted", res.Signal["security_storage"])
	s.Equal("denied", res.Signal["ad_storage"])
	s.Equal("denied", res.Signal["analytics_storage"])
	s.Equal("denied", res.Signal["functionality_storage"])
	s.Equal("denied", res.Signal["personalization_storage"])
}

func (s *HandlerSuite) TestSaveCustom() {
	s.gate.MarkReady(context.Background())
	res := s.action("/consent/custom", `{"preferences":{"analytics":true,"necessary":false}}`)

	s.True(res.Persisted)
	s.Equal("custom", res.Decision.Source)
	s.True(res.Decision.Preferences["necessary"], "necessary cannot be revoked")
	s.True(res.Decision.Preferences["analytics"])
	s.False(res.Decision.Preferences["advertising"])
	s.Equal("granted", res.Signal["analytics_storage"])
	s.Equal("denied", res.Signal["ad_user_data"])

	s.Run("unknown category is rejected", func() {
		rec := s.do(http.MethodPost, "/consent/custom", `{"preferences":{"marketing":true}}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("missing preferences are rejected", func() {
		rec := s.do(http.MethodPost, "/consent/custom", `{}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("malformed body is rejected", func() {
		rec := s.do(http.MethodPost, "/consent/custom", `{`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestUpdateDraft() {
	rec := s.do(http.MethodPost, "/consent/draft", `{"draft":{"analytics":true},"category":"Advertising","value":true}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var res DraftResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))

	s.True(res.Draft["necessary"])
	s.True(res.Draft["analytics"])
	s.True(res.Draft["advertising"])
	s.False(res.Draft["functional"])
	s.Zero(s.backend.Writes, "drafts are never persisted")
	s.False(s.sync.HasPending(visitorID), "drafts are never pushed")

	s.Run("necessary toggle is ignored", func() {
		rec := s.do(http.MethodPost, "/consent/draft", `{"category":"necessary","value":false}`)
		s.Require().Equal(http.StatusOK, rec.Code)
		var res DraftResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
		s.True(res.Draft["necessary"])
	})

	s.Run("unknown category is rejected", func() {
		rec := s.do(http.MethodPost, "/consent/draft", `{"category":"marketing","value":true}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestStorageUnavailable() {
	s.gate.MarkReady(context.Background())
	s.backend.SetFailing(true)

	rec := s.do(http.MethodPost, "/consent/accept-all", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var res actionBody
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	s.False(res.Persisted, "decision governs the session without storage")
	s.Equal(string(session.SyncDelivered), res.Sync)
	s.Equal("granted", res.Signal["ad_storage"])
	mirror := s.mirrorCookie(rec)
	s.Require().NotNil(mirror)
	s.dataLayer.Drain(visitorID)

	s.Run("decision survives the next request through the mirror", func() {
		res := s.state(http.MethodGet, "/consent", mirror)
		s.True(res.HasDecision)
		s.Equal("accept_all", res.Decision.Source)
		s.Equal("granted", res.Signal["ad_storage"])
	})

	s.Run("page load resyncs the mirrored decision", func() {
		res := s.state(http.MethodPost, "/consent/start", mirror)
		s.True(res.HasDecision)
		s.Equal(string(session.SyncDelivered), res.Sync)
		s.Equal(1, s.dataLayer.Pending(visitorID))
	})

	s.Run("without the mirror a load failure reads as first visit", func() {
		res := s.state(http.MethodGet, "/consent")
		s.False(res.HasDecision)
	})

	s.Run("malformed mirror reads as first visit", func() {
		res := s.state(http.MethodGet, "/consent", &http.Cookie{Name: MirrorCookieName, Value: url.QueryEscape(`{"analytics":"yes"}`)})
		s.False(res.HasDecision)
	})
}

func (s *HandlerSuite) TestStoredRecordWinsOverMirror() {
	s.backend.Seed(visitorID, []byte("rejected"))
	mirror := &http.Cookie{Name: MirrorCookieName, Value: url.QueryEscape("accepted")}

	res := s.state(http.MethodGet, "/consent", mirror)
	s.True(res.HasDecision)
	s.Equal("denied", res.Signal["ad_storage"])
}

func (s *HandlerSuite) TestRuntimeNotReady() {
	res := s.action("/consent/accept-all", "")
	s.True(res.Persisted)
	s.Equal(string(session.SyncDeferred), res.Sync)
	s.Equal(0, s.dataLayer.Pending(visitorID))

	s.gate.MarkReady(context.Background())
	s.Equal(1, s.dataLayer.Pending(visitorID), "deferred push retried once on readiness")
}

func (s *HandlerSuite) TestStartResyncs() {
	s.gate.MarkReady(context.Background())
	s.action("/consent/reject-all", "")
	s.dataLayer.Drain(visitorID)

	res := s.state(http.MethodPost, "/consent/start")
	s.True(res.HasDecision)
	s.Equal(string(session.SyncDelivered), res.Sync)
	s.Equal(1, s.dataLayer.Pending(visitorID))
}

func (s *HandlerSuite) TestLegacyRecord() {
	s.backend.Seed(visitorID, []byte("accepted"))

	res := s.state(http.MethodGet, "/consent")
	s.True(res.HasDecision)
	s.True(res.Outdated)
	s.Equal("legacy", res.Decision.Source)
	s.Equal("granted", res.Signal["ad_personalization"])
}

func (s *HandlerSuite) TestMalformedRecord() {
	s.backend.Seed(visitorID, []byte(`{"analytics":"yes"}`))

	res := s.state(http.MethodGet, "/consent")
	s.False(res.HasDecision)
}

func (s *HandlerSuite) TestForget() {
	s.gate.MarkReady(context.Background())
	s.action("/consent/accept-all", "")

	rec := s.do(http.MethodDelete, "/consent", "")
	s.Require().Equal(http.StatusNoContent, rec.Code)
	cookie := s.mirrorCookie(rec)
	s.Require().NotNil(cookie)
	s.Negative(cookie.MaxAge)

	res := s.state(http.MethodGet, "/consent")
	s.False(res.HasDecision)

	s.Run("storage failure surfaces", func() {
		s.backend.SetFailing(true)
		rec := s.do(http.MethodDelete, "/consent", "")
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})
}

func (s *HandlerSuite) TestCategories() {
	rec := s.do(http.MethodGet, "/consent/categories", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var res CategoriesResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	s.Require().Len(res.Categories, 5)
	s.Equal(CategoryResponse{Name: "necessary", UserSettable: false}, res.Categories[0])
	for _, c := range res.Categories[1:] {
		s.True(c.UserSettable, c.Name)
	}
}

func TestMissingVisitor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewService(store.NewInMemory(), logger)
	h := New(session.NewManager(svc, nil, logger), logger, WithEraser(svc), WithDataLayer(tagmanager.NewDataLayer()))
	r := chi.NewRouter()
	h.Register(r)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/consent"},
		{http.MethodPost, "/consent/accept-all"},
		{http.MethodDelete, "/consent"},
		{http.MethodGet, "/consent/datalayer"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
		})
	}
}

func TestOptionalRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewService(store.NewInMemory(), logger)
	r := chi.NewRouter()
	New(session.NewManager(svc, nil, logger), logger).Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/consent/datalayer", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/consent", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
