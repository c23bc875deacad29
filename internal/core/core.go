package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// stopTimeout bounds the whole stop sequence. Stores flush and close
// within it; in-flight runs are drained earlier by the dispatcher.
const stopTimeout = 30 * time.Second

// App owns the modules of one process and drives their lifecycle.
type App struct {
	ctx     *AppContext
	modules []moduleInstance
	logger  *slog.Logger
}

type moduleInstance struct {
	id      ModuleID
	module  Module
	started bool
	// stopped is set once Stop has been called, so that Close does not
	// stop a module twice.
	stopped bool
}

// NewApp creates an App loading modules into ctx.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// LoadModules configures, provisions and validates the modules with the
// given IDs, in order. On failure the modules loaded so far are closed.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			a.Close()
			return fmt.Errorf("core: loading module %s: %w", id, err)
		}
		info := mod.ModuleInfo()
		a.modules = append(a.modules, moduleInstance{id: info.ID, module: mod})
		a.logger.Info("core: module loaded", "module", string(info.ID), "provides", info.Provides)
	}
	return nil
}

// AppendModule adds an already-built module to the lifecycle. It is started
// after every loaded module and stopped before them.
func (a *App) AppendModule(id ModuleID, mod Module) {
	a.modules = append(a.modules, moduleInstance{id: id, module: mod})
}

// Module returns the loaded module with the given ID.
func (a *App) Module(id string) (Module, bool) {
	for _, mi := range a.modules {
		if string(mi.id) == id {
			return mi.module, true
		}
	}
	return nil, false
}

// Start starts every module implementing Starter, in load order. If one
// fails, the modules started before it are stopped in reverse order.
func (a *App) Start() error {
	for i := range a.modules {
		mi := &a.modules[i]
		s, ok := mi.module.(Starter)
		if !ok {
			mi.started = true
			continue
		}
		a.logger.Info("core: starting module", "module", string(mi.id))
		if err := s.Start(); err != nil {
			a.logger.Error("core: module start failed", "module", string(mi.id), "error", err)
			a.stopModules(i - 1)
			return fmt.Errorf("core: starting module %s: %w", mi.id, err)
		}
		mi.started = true
	}
	a.logger.Info("core: all modules started", "count", len(a.modules))
	return nil
}

// Stop stops every started module in reverse order.
func (a *App) Stop() {
	a.stopModules(len(a.modules) - 1)
}

func (a *App) stopModules(fromIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for i := fromIndex; i >= 0; i-- {
		mi := &a.modules[i]
		if !mi.started {
			continue
		}
		if s, ok := mi.module.(Stopper); ok {
			a.logger.Info("core: stopping module", "module", string(mi.id))
			if err := s.Stop(ctx); err != nil {
				a.logger.Error("core: module stop error", "module", string(mi.id), "error", err)
			}
			mi.stopped = true
		}
		mi.started = false
	}
}

// Close stops every loaded module not stopped yet, started or not, in
// reverse order, then forgets them. Short-lived commands that provision
// modules without starting them release their stores this way.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for i := len(a.modules) - 1; i >= 0; i-- {
		mi := &a.modules[i]
		if mi.stopped {
			continue
		}
		if s, ok := mi.module.(Stopper); ok {
			if err := s.Stop(ctx); err != nil {
				a.logger.Warn("core: module close error", "module", string(mi.id), "error", err)
			}
		}
	}
	a.modules = nil
}
