package request

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagconsent/pkg/requestcontext"
)

func TestRequestID(t *testing.T) {
	capture := func(id *string, at *time.Time) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*id = requestcontext.RequestID(r.Context())
			*at = requestcontext.Now(r.Context())
		})
	}

	t.Run("mints a uuid and pins request time", func(t *testing.T) {
		var id string
		var at time.Time
		w := httptest.NewRecorder()
		RequestID(capture(&id, &at)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/consent", nil))

		assert.Len(t, id, 36)
		assert.Equal(t, id, w.Header().Get("X-Request-ID"))
		assert.WithinDuration(t, time.Now(), at, time.Second)
	})

	t.Run("keeps a safe client id", func(t *testing.T) {
		var id string
		var at time.Time
		req := httptest.NewRequest(http.MethodGet, "/consent", nil)
		req.Header.Set("X-Request-ID", "trace.span_1234")
		RequestID(capture(&id, &at)).ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "trace.span_1234", id)
	})

	t.Run("replaces unsafe or oversized ids", func(t *testing.T) {
		for _, bad := range []string{"id\nInjected: yes", "has space", strings.Repeat("a", MaxRequestIDLength+1)} {
			var id string
			var at time.Time
			req := httptest.NewRequest(http.MethodGet, "/consent", nil)
			req.Header.Set("X-Request-ID", bad)
			RequestID(capture(&id, &at)).ServeHTTP(httptest.NewRecorder(), req)
			assert.NotEqual(t, bad, id)
			assert.Len(t, id, 36)
		}
	})
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/consent/accept-all", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestLoggerSkipsHealthyProbes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Empty(t, buf.String())

	req := httptest.NewRequest(http.MethodGet, "/consent", nil)
	req = req.WithContext(requestcontext.WithVisitorID(req.Context(), "v-1"))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Contains(t, buf.String(), `"status":204`)
	assert.Contains(t, buf.String(), `"visitor_id":"v-1"`)
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"preferences":{}}`)))
	require.Error(t, readErr)
}

func TestLatency(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := Latency(m, func(*http.Request) string { return "/consent" })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/consent", nil))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EndpointLatency))
}
