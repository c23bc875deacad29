package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	auth := newAuthenticator(g.config.Auth, g.logger)

	// Public, for load balancers and service managers.
	r.Get("/health", g.handleHealth())

	r.Group(func(r chi.Router) {
		if g.config.Auth.guardsMetrics() {
			r.Use(auth.middleware(scopeMetrics))
		}
		r.Get("/metrics", g.handleMetrics())
	})

	// Operator endpoints. Guarded when auth is configured.
	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(auth.middleware(scopeOperator))
		}
		r.Get("/status", g.handleStatus())
		r.Get("/ws/runs", g.handleRuns())
	})

	// Admin API. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(auth.middleware(scopeOperator))
			r.Route("/api", func(r chi.Router) {
				r.Get("/runs/{job}", g.handleListRuns())
				r.Get("/modules", g.handleGetAllModules())
				r.Get("/config", g.handleGetConfig())
			})
		})
	}

	return r
}
