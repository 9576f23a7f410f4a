package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tagconsent/internal/consent/handler"
	"tagconsent/internal/consent/metrics"
	"tagconsent/internal/consent/service"
	"tagconsent/internal/consent/session"
	"tagconsent/internal/consent/synchronizer"
	"tagconsent/internal/tagmanager"
	httptransport "tagconsent/internal/transport/http"
	"tagconsent/internal/visitor"
	"tagconsent/pkg/platform/middleware/request"
	"tagconsent/pkg/testutil"
)

const signingKey = "e2e-visitor-key"

// TestContext holds state between test steps. Each scenario gets its own
// in-process server, storage backend and tag runtime.
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte
	VisitorID        string

	server    *httptest.Server
	backend   *testutil.FlakyBackend
	gate      *tagmanager.Gate
	dataLayer *tagmanager.DataLayer
}

// NewTestContext assembles the consent stack behind an httptest server and
// pins the client to a known visitor.
func NewTestContext() (*TestContext, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	backend := testutil.NewFlakyBackend()
	gate := tagmanager.NewGate()
	dataLayer := tagmanager.NewDataLayer()

	sync := synchronizer.New(dataLayer, gate, logger, synchronizer.WithMetrics(m))
	gate.Subscribe(sync.Flush)

	svc := service.NewService(backend, logger, service.WithMetrics(m))
	manager := session.NewManager(svc, sync, logger, session.WithMetrics(m))
	tokens := visitor.NewTokens(signingKey, time.Hour)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         logger,
		Consent:        handler.New(manager, logger, handler.WithEraser(svc), handler.WithDataLayer(dataLayer)),
		Visitors:       visitor.NewMiddleware(tokens, false, logger),
		Gatherer:       reg,
		RequestMetrics: request.NewMetrics(reg),
	})
	server := httptest.NewServer(router)

	jar, err := cookiejar.New(nil)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	visitorID := testutil.TestVisitors.First
	token, _, err := tokens.Issue(visitorID)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to issue visitor token: %w", err)
	}
	serverURL, _ := url.Parse(server.URL)
	jar.SetCookies(serverURL, []*http.Cookie{{Name: visitor.CookieName, Value: token, Path: "/"}})

	return &TestContext{
		BaseURL:    server.URL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second, Jar: jar},
		VisitorID:  visitorID,
		server:     server,
		backend:    backend,
		gate:       gate,
		dataLayer:  dataLayer,
	}, nil
}

// Close stops the scenario's server.
func (tc *TestContext) Close() {
	tc.server.Close()
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return tc.do(http.MethodPost, path, reader)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil)
}

// DELETE makes a DELETE request and stores the response
func (tc *TestContext) DELETE(path string) error {
	return tc.do(http.MethodDelete, path, nil)
}

func (tc *TestContext) do(method, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return nil
}

// GetResponseField extracts a field from the JSON response. Dotted paths
// walk nested objects.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	for _, part := range strings.Split(field, ".") {
		obj, ok := data.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %s not found in response", field)
		}
		if data, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %s not found in response", field)
		}
	}

	return data, nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

// MarkRuntimeReady simulates the tag runtime finishing initialization.
func (tc *TestContext) MarkRuntimeReady() {
	tc.gate.MarkReady(context.Background())
}

// ResetRuntime simulates the tag runtime going away.
func (tc *TestContext) ResetRuntime() {
	tc.gate.Reset()
}

// SetStorageFailing toggles backend read and write failures.
func (tc *TestContext) SetStorageFailing(fail bool) {
	tc.backend.SetFailing(fail)
}

// SeedRecord stores a raw persisted value for the scenario's visitor.
func (tc *TestContext) SeedRecord(raw string) {
	tc.backend.Seed(tc.VisitorID, []byte(raw))
}

// StoredRecord returns the raw persisted value for the scenario's visitor.
func (tc *TestContext) StoredRecord() []byte {
	return tc.backend.Raw(tc.VisitorID)
}
