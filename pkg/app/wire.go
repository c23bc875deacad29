package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/divsync/internal/config"
	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/cron"
	"github.com/flemzord/divsync/internal/dispatch"
	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/lease"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/session"
	"github.com/flemzord/divsync/internal/syncer"
	"github.com/flemzord/divsync/internal/telemetry"
)

// schedulerModule wraps the cron scheduler and the dispatcher to satisfy
// core.Starter and core.Stopper, so the cadence loop participates in the
// App lifecycle. It is appended last: it starts after every store and
// stops before them.
type schedulerModule struct {
	rt        *Runtime
	scheduler *cron.Scheduler
}

// newSchedulerModule creates the scheduler and publishes it so that the
// gateway can report upcoming ticks. Call it before App.Start.
func newSchedulerModule(rt *Runtime) *schedulerModule {
	m := &schedulerModule{rt: rt, scheduler: cron.NewScheduler(rt.Logger)}
	rt.AppContext.RegisterService("cron.scheduler", m.scheduler)
	return m
}

func (m *schedulerModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "scheduler"}
}

// Start reconciles abandoned ledger rows, then begins firing ticks.
func (m *schedulerModule) Start() error {
	m.rt.Dispatcher.SweepAll(context.Background())
	for _, j := range cron.TickJobs(m.rt.Dispatcher, m.rt.Jobs, m.rt.Logger) {
		if err := m.scheduler.RegisterJob(j); err != nil {
			return err
		}
	}
	return m.scheduler.Start()
}

// Stop stops firing first, so no tick races the dispatcher shutdown.
func (m *schedulerModule) Stop(ctx context.Context) error {
	if err := m.scheduler.Stop(ctx); err != nil {
		return err
	}
	return m.rt.Dispatcher.Shutdown(ctx)
}

// lookup resolves the service a module publishes for role.
func lookup[T any](appCtx *core.AppContext, role, id string) (T, error) {
	var zero T
	name := core.ServiceName(role, core.ModuleID(id))
	svc, ok := appCtx.Service(name)
	if !ok {
		return zero, fmt.Errorf("app: module %s does not serve the %s role", id, role)
	}
	v, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("app: service %s has unexpected type %T", name, svc)
	}
	return v, nil
}

// warnNarrowLease flags single-leader jobs whose lease provider only
// excludes runs within one process or one host.
func warnNarrowLease(logger *slog.Logger, leases lease.Provider, id string, jobs []job.ScheduledJob) {
	if leases == nil {
		return
	}
	scope := lease.ScopeOf(leases)
	if scope == lease.ScopeFleet {
		return
	}
	for _, j := range jobs {
		if j.SingleLeader {
			logger.Warn("app: lease provider is not fleet-wide, single-leader holds only within one "+string(scope),
				"job", j.Name, "lease", id, "scope", scope)
		}
	}
}

// wireDispatcher resolves the role services named in the dispatch section,
// builds the frozen job registry and one sync engine per job, and creates
// the dispatcher. Modules implementing dispatch.Observer receive run
// events next to the metrics. Must be called after LoadModules and before
// Start.
func wireDispatcher(rt *Runtime, ids []string) error {
	cfg, appCtx, logger := rt.Config, rt.AppContext, rt.Logger

	led, err := lookup[ledger.Ledger](appCtx, core.RoleLedger, cfg.Dispatch.Ledger)
	if err != nil {
		return err
	}
	sessions, err := lookup[session.Store](appCtx, core.RoleSessions, cfg.Dispatch.Sessions)
	if err != nil {
		return err
	}
	source, err := lookup[syncer.Source](appCtx, core.RoleSource, cfg.Dispatch.Source)
	if err != nil {
		return err
	}
	var leases lease.Provider
	if cfg.Dispatch.Lease != "" {
		if leases, err = lookup[lease.Provider](appCtx, core.RoleLease, cfg.Dispatch.Lease); err != nil {
			return err
		}
	}

	registry := job.NewRegistry()
	for _, j := range cfg.ScheduledJobs() {
		if err := registry.Register(j); err != nil {
			return fmt.Errorf("app: registering job: %w", err)
		}
	}
	registry.Freeze()
	warnNarrowLease(logger, leases, cfg.Dispatch.Lease, registry.All())

	tracer := telemetry.Tracer("github.com/flemzord/divsync/internal/syncer")
	runners := make(map[string]dispatch.Runner)
	for _, j := range registry.All() {
		engineCfg := cfg.Jobs[j.Name].Sync.Engine()
		runners[j.Name] = syncer.New(source, sessions, engineCfg, logger.With("job", j.Name), syncer.WithTracer(tracer))
	}

	observers := dispatch.Observers{rt.Metrics}
	for _, id := range ids {
		mod, ok := rt.App.Module(id)
		if !ok {
			continue
		}
		if obs, ok := mod.(dispatch.Observer); ok {
			observers = append(observers, obs)
			logger.Info("app: run observer registered", "module", id)
		}
	}

	d, err := dispatch.New(dispatch.Config{
		Registry: registry,
		Runners:  runners,
		Lease:    leases,
		Ledger:   led,
		NodeID:   cfg.NodeID,
		Observer: observers,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("app: creating dispatcher: %w", err)
	}

	rt.Dispatcher = d
	rt.Jobs = registry
	rt.Ledger = led

	appCtx.RegisterService("dispatch.jobs", registry)
	appCtx.RegisterService("dispatch.ledger", led)

	logger.Info("app: dispatcher wired", "roles", config.Roles(cfg))
	return nil
}
