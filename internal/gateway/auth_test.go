package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAuthenticator_Scopes(t *testing.T) {
	t.Parallel()

	cfg := AuthConfig{
		BearerToken:  "operator-token",
		BasicUser:    "admin",
		BasicPass:    "pass123",
		MetricsToken: "scrape-token",
	}
	bearer := func(tok string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
	}
	basic := func(user, pass string) func(*http.Request) {
		return func(r *http.Request) { r.SetBasicAuth(user, pass) }
	}
	none := func(*http.Request) {}

	tests := []struct {
		name  string
		scope scope
		auth  func(*http.Request)
		want  int
	}{
		{"operator bearer on operator", scopeOperator, bearer("operator-token"), http.StatusOK},
		{"operator bearer on metrics", scopeMetrics, bearer("operator-token"), http.StatusOK},
		{"metrics token on metrics", scopeMetrics, bearer("scrape-token"), http.StatusOK},
		{"metrics token on operator", scopeOperator, bearer("scrape-token"), http.StatusUnauthorized},
		{"wrong bearer", scopeOperator, bearer("wrong-token"), http.StatusUnauthorized},
		{"basic", scopeOperator, basic("admin", "pass123"), http.StatusOK},
		{"basic on metrics", scopeMetrics, basic("admin", "pass123"), http.StatusOK},
		{"wrong basic", scopeOperator, basic("admin", "wrongpass"), http.StatusUnauthorized},
		{"no header", scopeOperator, none, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := newAuthenticator(cfg, nil).middleware(tt.scope)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			tt.auth(req)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuthenticator_BearerOnlyRejectsBasic(t *testing.T) {
	t.Parallel()

	handler := newAuthenticator(AuthConfig{BearerToken: "tok"}, nil).middleware(scopeOperator)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("admin", "tok")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthConfig_IsConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		cfg           AuthConfig
		want          bool
		guardsMetrics bool
	}{
		{"empty", AuthConfig{}, false, false},
		{"bearer only", AuthConfig{BearerToken: "tok"}, true, true},
		{"basic complete", AuthConfig{BasicUser: "u", BasicPass: "p"}, true, true},
		{"basic partial user", AuthConfig{BasicUser: "u"}, false, false},
		{"basic partial pass", AuthConfig{BasicPass: "p"}, false, false},
		{"metrics token only", AuthConfig{MetricsToken: "m"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
			if got := tt.cfg.guardsMetrics(); got != tt.guardsMetrics {
				t.Errorf("guardsMetrics() = %v, want %v", got, tt.guardsMetrics)
			}
		})
	}
}

// The limiter is shared, so failures on /status use up the budget of
// /metrics too.
func TestAuthenticator_RateLimitSharedAcrossScopes(t *testing.T) {
	t.Parallel()

	auth := newAuthenticator(AuthConfig{BearerToken: "tok", AttemptsPerMinute: 2}, nil)
	operator := auth.middleware(scopeOperator)(okHandler())
	metrics := auth.middleware(scopeMetrics)(okHandler())

	codes := make([]int, 0, 3)
	for _, h := range []http.Handler{operator, operator, metrics} {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("attempt %d: status = %d, want %d", i+1, codes[i], want[i])
		}
	}
}
