// Package gateway provides the operator HTTP server: health, run status,
// Prometheus metrics and a websocket stream of dispatcher events. It binds
// to loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/dispatch"
	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/security"
)

// Service names resolved at Start.
const (
	ServiceJobs     = "dispatch.jobs"
	ServiceLedger   = "dispatch.ledger"
	ServiceMetrics  = "telemetry.metrics"
	ServiceRedactor = "security.redactor"
	ServiceConfig   = "config.path"
	ServiceSchedule = "cron.scheduler"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// metricsSource serves an exposition endpoint.
type metricsSource interface {
	Handler() http.Handler
}

// schedule reports upcoming ticks; implemented by cron.Scheduler.
type schedule interface {
	Next(job string) (time.Time, bool)
}

// Gateway is the HTTP gateway module. It is a leaf module: nothing imports
// it, and it reaches the dispatcher state through the service registry.
type Gateway struct {
	config     Config
	appCtx     *core.AppContext
	logger     *slog.Logger
	server     *http.Server
	hub        *Hub
	startedAt  time.Time
	configPath string

	// Resolved lazily at Start() via service registry.
	jobs     *job.Registry
	ledger   ledger.Ledger
	metrics  metricsSource
	schedule schedule
	redactor *security.Redactor
}

var _ dispatch.Observer = (*Gateway)(nil)

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.hub = NewHub(g.config.EventBuffer)

	if svc, ok := ctx.Service(ServiceRedactor); ok {
		if r, ok := svc.(*security.Redactor); ok {
			g.redactor = r
			g.hub.redact = r.Redact
			r.AddLiteral(g.config.Auth.BearerToken)
			r.AddLiteral(g.config.Auth.BasicPass)
			r.AddLiteral(g.config.Auth.MetricsToken)
		}
	}

	ctx.RegisterService("gateway.events", g.hub)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	g.resolveServices()
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway: listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: serve error", "error", err)
		}
	}()

	return nil
}

// resolveServices binds optional services. Missing ones degrade the
// endpoints that need them.
func (g *Gateway) resolveServices() {
	if svc, ok := g.appCtx.Service(ServiceJobs); ok {
		if reg, ok := svc.(*job.Registry); ok {
			g.jobs = reg
		}
	}
	if svc, ok := g.appCtx.Service(ServiceLedger); ok {
		if l, ok := svc.(ledger.Ledger); ok {
			g.ledger = l
		}
	}
	if svc, ok := g.appCtx.Service(ServiceMetrics); ok {
		if m, ok := svc.(metricsSource); ok {
			g.metrics = m
		}
	}
	if svc, ok := g.appCtx.Service(ServiceSchedule); ok {
		if s, ok := svc.(schedule); ok {
			g.schedule = s
		}
	}
	if svc, ok := g.appCtx.Service(ServiceConfig); ok {
		if p, ok := svc.(string); ok {
			g.configPath = p
		}
	}
}

// Stop implements core.Stopper. Websocket subscribers are disconnected
// before the server drains.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.hub != nil {
		g.hub.Close()
	}
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway: shutting down")
	return g.server.Shutdown(shutdownCtx)
}

// OnSkip implements dispatch.Observer.
func (g *Gateway) OnSkip(job string, status ledger.Status, reason string) {
	g.hub.OnSkip(job, status, reason)
}

// OnStart implements dispatch.Observer.
func (g *Gateway) OnStart(job, runID, holder string) { g.hub.OnStart(job, runID, holder) }

// OnFinish implements dispatch.Observer.
func (g *Gateway) OnFinish(r dispatch.RunReport) { g.hub.OnFinish(r) }

// OnLeaseLost implements dispatch.Observer.
func (g *Gateway) OnLeaseLost(job, holder string) { g.hub.OnLeaseLost(job, holder) }
