package httptransport

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tagconsent/internal/consent/handler"
	"tagconsent/internal/platform/health"
	"tagconsent/internal/visitor"
	"tagconsent/pkg/platform/middleware/metadata"
	"tagconsent/pkg/platform/middleware/request"
)

// maxBodyBytes bounds consent request bodies; the largest is a five-key map.
const maxBodyBytes = 16 << 10

// Deps are the pieces the router mounts. Health and Gatherer are optional.
type Deps struct {
	Logger         *slog.Logger
	Consent        *handler.Handler
	Visitors       *visitor.Middleware
	Health         *health.Handler
	Gatherer       prometheus.Gatherer
	RequestMetrics *request.Metrics
	RequestTimeout time.Duration
	TrustedProxies []netip.Prefix
}

// NewRouter wires all public endpoints with middleware.
//
// Health and metrics sit outside the visitor middleware so probes never mint
// visitor cookies.
func NewRouter(d Deps) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	meta := &metadata.Middleware{TrustedProxies: d.TrustedProxies}

	r := chi.NewRouter()
	r.Use(request.Recovery(d.Logger))
	r.Use(request.RequestID)
	r.Use(meta.Handler)
	r.Use(request.Logger(d.Logger))
	r.Use(request.Timeout(timeout))
	r.Use(request.Latency(d.RequestMetrics, routePattern))

	if d.Health != nil {
		d.Health.Register(r)
	}
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.BodyLimit(maxBodyBytes))
		r.Use(d.Visitors.Handler)
		d.Consent.Register(r)
	})

	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
