package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/divsync/internal/config"
	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/security"
)

const maxListedRuns = 500

// handleListRuns returns the newest ledger rows of one job. The limit query
// parameter defaults to the configured recent_runs.
func (g *Gateway) handleListRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "job")
		if g.ledger == nil || g.jobs == nil {
			http.Error(w, "ledger not available", http.StatusServiceUnavailable)
			return
		}
		if _, err := g.jobs.Lookup(name); err != nil {
			if errors.Is(err, job.ErrUnknownJob) {
				http.Error(w, "unknown job", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		limit := g.config.RecentRuns
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxListedRuns)
		}

		runs, err := g.ledger.List(r.Context(), name, limit)
		if err != nil {
			g.logger.Error("gateway: listing runs", "job", name, "error", err)
			http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
			return
		}
		if runs == nil {
			runs = []ledger.JobRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string   `json:"id"`
	Namespace string   `json:"namespace"`
	Name      string   `json:"name"`
	Provides  []string `json:"provides"`
	Loaded    bool     `json:"loaded"`
}

// handleGetAllModules lists all compiled modules and the roles they can
// serve (for /api/modules). Loaded marks those this process provisioned.
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			provides := m.Provides
			if provides == nil {
				provides = []string{}
			}
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
				Name:      m.ID.Name(),
				Provides:  provides,
				Loaded:    g.loaded(m),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// loaded reports whether m published any of its role services in this
// process. The gateway itself serves no role and is always loaded.
func (g *Gateway) loaded(m core.ModuleInfo) bool {
	if m.ID == g.ModuleInfo().ID {
		return true
	}
	if g.appCtx == nil {
		return false
	}
	for _, role := range m.Provides {
		if _, ok := g.appCtx.Service(core.ServiceName(role, m.ID)); ok {
			return true
		}
	}
	return false
}

// handleGetConfig returns the configuration file as loaded, with secrets
// redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.configPath == "" {
			http.Error(w, "config path not set", http.StatusServiceUnavailable)
			return
		}

		cfg, err := config.Load(g.configPath)
		if err != nil {
			http.Error(w, "failed to load config", http.StatusInternalServerError)
			return
		}

		generic, err := config.ToMap(cfg)
		if err != nil {
			http.Error(w, "failed to serialize config", http.StatusInternalServerError)
			return
		}

		redactor := g.redactor
		if redactor == nil {
			redactor = security.NewRedactor()
		}
		redactor.RedactMap(generic)

		writeJSON(w, http.StatusOK, generic)
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
