// Package app provides the shared entry point of the divsync binary: it
// loads configuration, provisions modules, wires the dispatcher and runs
// the cadence loop until a shutdown signal.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flemzord/divsync/internal/config"
	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/dispatch"
	"github.com/flemzord/divsync/internal/job"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/logging"
	"github.com/flemzord/divsync/internal/security"
	"github.com/flemzord/divsync/internal/telemetry"
)

// shutdownGrace bounds how long in-flight runs get to finalize on exit.
const shutdownGrace = 30 * time.Second

// RunParams configures the application.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides data_dir from the configuration.
	DataDir string

	// LogLevel overrides log.level from the configuration.
	LogLevel string
}

// Runtime is a provisioned application: modules are loaded and the
// dispatcher is wired, but nothing fires until the caller starts it.
type Runtime struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	App        *core.App
	AppContext *core.AppContext
	Dispatcher *dispatch.Dispatcher
	Jobs       *job.Registry
	Ledger     ledger.Ledger
	Metrics    *telemetry.Metrics

	log             *logging.Logger
	shutdownTracing telemetry.ShutdownFunc
}

// Bootstrap loads and validates the configuration, builds the logger,
// tracing and metrics, provisions every configured module and wires the
// dispatcher. The caller must Close the returned Runtime.
func Bootstrap(params RunParams) (*Runtime, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if params.DataDir != "" {
		cfg.DataDir = params.DataDir
	}
	if params.LogLevel != "" {
		cfg.Log.Level = params.LogLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// The redactor exists before the logger so that modules can register
	// their secrets while provisioning.
	redactor := security.NewRedactor()
	log, err := logging.New(cfg.Log, redactor)
	if err != nil {
		return nil, err
	}
	logger := log.With("node", cfg.NodeID)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.Telemetry, params.Version)
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	rt := &Runtime{
		Config:          cfg,
		ConfigPath:      cfgPath,
		Logger:          logger,
		Metrics:         telemetry.NewMetrics(),
		log:             log,
		shutdownTracing: shutdownTracing,
	}

	appCtx := core.NewAppContext(logger, cfg.DataDir, cfg.NodeID)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	rt.AppContext = appCtx

	appCtx.RegisterService("security.redactor", redactor)
	appCtx.RegisterService("config.path", cfgPath)
	appCtx.RegisterService("telemetry.metrics", rt.Metrics)

	rt.App = core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := rt.App.LoadModules(ids); err != nil {
		rt.closeTelemetry()
		return nil, err
	}

	if err := wireDispatcher(rt, ids); err != nil {
		rt.Close()
		return nil, err
	}

	logger.Info("app: bootstrapped",
		"version", params.Version,
		"config", cfgPath,
		"modules", len(ids),
		"jobs", len(rt.Jobs.All()),
	)
	return rt, nil
}

// Close stops every module and flushes telemetry and logs. It does not
// wait for detached runs; call Dispatcher.Shutdown first for that.
func (rt *Runtime) Close() {
	rt.App.Close()
	rt.closeTelemetry()
}

func (rt *Runtime) closeTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.shutdownTracing(ctx); err != nil {
		rt.Logger.Warn("app: tracing shutdown", "error", err)
	}
	_ = rt.log.Close()
}

// Shutdown stops the dispatcher, giving in-flight runs a grace period to
// finalize their ledger rows, then stops every module.
func (rt *Runtime) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.Dispatcher.Shutdown(ctx); err != nil {
		rt.Logger.Error("app: dispatcher shutdown", "error", err)
	}
	rt.Close()
}

// Start bootstraps the application and starts every module followed by
// the cadence loop. It returns once everything runs; the caller must
// Shutdown the returned Runtime.
func Start(params RunParams) (*Runtime, error) {
	rt, err := Bootstrap(params)
	if err != nil {
		return nil, err
	}

	rt.App.AppendModule("scheduler", newSchedulerModule(rt))
	if err := rt.App.Start(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Run starts all modules and the cadence loop, and blocks until SIGINT or
// SIGTERM.
func Run(params RunParams) error {
	rt, err := Start(params)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	rt.Logger.Info("app: shutdown signal received", "signal", sig.String())
	rt.Shutdown()
	rt.Logger.Info("app: shutdown complete")
	return nil
}

// RunOnce triggers one invocation of the named job through the dispatcher,
// with the same guards and ledger rows as a scheduled tick, and waits for
// it to finish. With forever set it keeps triggering on the job's cadence
// until ctx ends. Modules are provisioned but not started, so a gateway
// configured for the long-running service does not bind here.
func RunOnce(ctx context.Context, params RunParams, name string, forever bool) (dispatch.Decision, error) {
	rt, err := Bootstrap(params)
	if err != nil {
		return dispatch.Decision{}, err
	}
	defer rt.Shutdown()

	rt.Dispatcher.SweepAll(ctx)
	return rt.tickLoop(ctx, name, forever)
}

// tickLoop ticks name once and waits for the run, or, with forever set,
// keeps ticking on the job's cadence until ctx ends. Like the cron
// scheduler, the forever loop never waits for a detached run: a tick that
// lands on a run still in flight is recorded as an overlap by the
// dispatcher. Runs still in flight on return are left to Shutdown.
func (rt *Runtime) tickLoop(ctx context.Context, name string, forever bool) (dispatch.Decision, error) {
	j, err := rt.Jobs.Lookup(name)
	if err != nil {
		return dispatch.Decision{}, err
	}

	if !forever {
		dec, err := rt.Dispatcher.Tick(ctx, name)
		if err != nil {
			return dec, err
		}
		rt.Dispatcher.Wait()
		return rt.settle(ctx, name, dec), nil
	}

	ticker := time.NewTicker(j.Cadence)
	defer ticker.Stop()

	var last dispatch.Decision
	for ctx.Err() == nil {
		dec, err := rt.Dispatcher.Tick(ctx, name)
		switch {
		case errors.Is(err, dispatch.ErrClosed):
			return last, nil
		case err != nil:
			rt.Logger.Error("app: tick failed", "job", name, "error", err)
		default:
			last = dec
			rt.Logger.Info("app: tick dispatched", "job", name, "status", dec.Status, "run_id", dec.RunID)
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	return last, nil
}

// settle replaces the running status of a finished detached run with its
// final ledger status.
func (rt *Runtime) settle(ctx context.Context, name string, dec dispatch.Decision) dispatch.Decision {
	if dec.Status != ledger.StatusRunning {
		return dec
	}
	run, err := rt.Ledger.Latest(context.WithoutCancel(ctx), name)
	if err == nil && run != nil && run.ID == dec.RunID {
		dec.Status = run.Status
		dec.Reason = run.ErrorSummary
	}
	return dec
}

// Status reports the latest and last successful runs of each job, read
// from the configured ledger. Modules are provisioned but not started.
func Status(ctx context.Context, params RunParams, recent int) ([]dispatch.JobStatus, error) {
	rt, err := Bootstrap(params)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	return dispatch.Snapshot(ctx, rt.Ledger, rt.Jobs.All(), time.Now(), recent)
}

// Check loads the configuration and provisions every module without
// starting anything, then returns the loaded module IDs.
func Check(params RunParams) ([]string, error) {
	rt, err := Bootstrap(params)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return config.Resolve(rt.Config), nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/divsync/divsync.yaml → ~/.config/divsync/divsync.yaml → ./divsync.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "divsync", "divsync.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "divsync", "divsync.yaml"))
	}

	candidates = append(candidates, "divsync.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
