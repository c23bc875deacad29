package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// scope is the set of endpoints a credential unlocks.
type scope int

const (
	// scopeOperator covers /status, /ws/runs and /api.
	scopeOperator scope = iota
	// scopeMetrics covers /metrics only.
	scopeMetrics
)

// authenticator checks credentials for the operator endpoints. One
// attempt limiter is shared by every guarded route so that a client cannot
// spread guesses across endpoints.
type authenticator struct {
	cfg     AuthConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newAuthenticator(cfg AuthConfig, logger *slog.Logger) *authenticator {
	a := &authenticator{cfg: cfg, logger: logger}
	if cfg.AttemptsPerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.AttemptsPerMinute)), cfg.AttemptsPerMinute)
	}
	return a
}

// middleware guards a route group. The operator bearer token and basic
// credentials are accepted for every scope; the metrics token only for
// scopeMetrics.
func (a *authenticator) middleware(s scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.limiter != nil && !a.limiter.Allow() {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				a.failed(r, "missing authorization header")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if a.allowed(r, header, s) {
				next.ServeHTTP(w, r)
				return
			}

			a.failed(r, "invalid credentials")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func (a *authenticator) allowed(r *http.Request, header string, s scope) bool {
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		if a.cfg.BearerToken != "" && constantTimeEqual(token, a.cfg.BearerToken) {
			return true
		}
		if s == scopeMetrics && a.cfg.MetricsToken != "" && constantTimeEqual(token, a.cfg.MetricsToken) {
			return true
		}
		return false
	}

	if a.cfg.BasicUser != "" && a.cfg.BasicPass != "" {
		user, pass, ok := r.BasicAuth()
		return ok && constantTimeEqual(user, a.cfg.BasicUser) && constantTimeEqual(pass, a.cfg.BasicPass)
	}
	return false
}

func (a *authenticator) failed(r *http.Request, detail string) {
	if a.logger == nil {
		return
	}
	a.logger.Warn("gateway: authentication failed",
		"remote_addr", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path,
		"detail", detail,
	)
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
