package metadata

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"tagconsent/pkg/requestcontext"
)

func clientIPFor(m *Middleware, remote string, headers map[string]string) (ip, ua string) {
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		ua = requestcontext.UserAgent(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/consent", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return ip, ua
}

func TestClientIP(t *testing.T) {
	trusted := &Middleware{TrustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}

	t.Run("untrusted peer ignores forwarding headers", func(t *testing.T) {
		ip, _ := clientIPFor(&Middleware{}, "203.0.113.5:4000", map[string]string{"X-Forwarded-For": "198.51.100.1"})
		assert.Equal(t, "203.0.113.5", ip)
	})

	t.Run("trusted proxy uses first forwarded address", func(t *testing.T) {
		ip, _ := clientIPFor(trusted, "10.1.1.1:4000", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.1.1.1"})
		assert.Equal(t, "198.51.100.1", ip)
	})

	t.Run("trusted proxy falls back to x-real-ip", func(t *testing.T) {
		ip, _ := clientIPFor(trusted, "10.1.1.1:4000", map[string]string{"X-Real-IP": "198.51.100.7"})
		assert.Equal(t, "198.51.100.7", ip)
	})

	t.Run("garbage forwarded value falls back to peer", func(t *testing.T) {
		ip, _ := clientIPFor(trusted, "10.1.1.1:4000", map[string]string{"X-Forwarded-For": "not-an-ip"})
		assert.Equal(t, "10.1.1.1", ip)
	})

	t.Run("ipv6 peer", func(t *testing.T) {
		ip, _ := clientIPFor(&Middleware{}, "[2001:db8::1]:443", nil)
		assert.Equal(t, "2001:db8::1", ip)
	})

	t.Run("user agent is captured", func(t *testing.T) {
		_, ua := clientIPFor(&Middleware{}, "203.0.113.5:4000", map[string]string{"User-Agent": "Mozilla/5.0"})
		assert.Equal(t, "Mozilla/5.0", ua)
	})
}
