// Package core provides the module system foundation for divsync.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// AppContext carries shared resources available to modules during provisioning
// and at runtime.
type AppContext struct {
	// Logger for the current module scope.
	Logger *slog.Logger

	// DataDir is the root directory for persistent module data.
	DataDir string

	// NodeID identifies this server within the fleet. Lease holder IDs are
	// derived from it.
	NodeID string

	parentLogger  *slog.Logger
	moduleConfigs map[string]yaml.Node
	services      *serviceRegistry
}

type serviceRegistry struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewAppContext creates a new AppContext with the given base logger, data
// directory and node identity.
func NewAppContext(logger *slog.Logger, dataDir, nodeID string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:       logger,
		DataDir:      dataDir,
		NodeID:       nodeID,
		parentLogger: logger,
		services:     &serviceRegistry{services: make(map[string]any)},
	}
}

// WithModuleConfigs returns a copy of the AppContext with module configurations set.
// Each key is a module ID mapping to its raw YAML configuration node.
func (ctx *AppContext) WithModuleConfigs(configs map[string]yaml.Node) *AppContext {
	cp := *ctx
	cp.moduleConfigs = configs
	return &cp
}

// ForModule returns a new AppContext scoped to the given module ID,
// with a child logger that includes the module ID. Services are shared
// with the parent.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	return &AppContext{
		Logger:        ctx.parentLogger.With("module", string(id)),
		DataDir:       ctx.DataDir,
		NodeID:        ctx.NodeID,
		parentLogger:  ctx.parentLogger,
		moduleConfigs: ctx.moduleConfigs,
		services:      ctx.services,
	}
}

// Service roles a store or source module can publish.
const (
	RoleLease    = "lease"
	RoleLedger   = "ledger"
	RoleSessions = "sessions"
	RoleSource   = "source"
)

// Roles lists every dispatch role in wiring order.
var Roles = []string{RoleLease, RoleLedger, RoleSessions, RoleSource}

// ServiceName is the registry key under which module id publishes role,
// e.g. "lease.store.redis".
func ServiceName(role string, id ModuleID) string {
	return role + "." + string(id)
}

// RegisterService publishes a value under name for other modules to
// discover. A later registration under the same name replaces the earlier one.
func (ctx *AppContext) RegisterService(name string, svc any) {
	ctx.services.mu.Lock()
	defer ctx.services.mu.Unlock()
	ctx.services.services[name] = svc
}

// Service looks up a registered service by name.
func (ctx *AppContext) Service(name string) (any, bool) {
	ctx.services.mu.RLock()
	defer ctx.services.mu.RUnlock()
	svc, ok := ctx.services.services[name]
	return svc, ok
}

// LoadModule instantiates a module by its ID and runs
//
//	New() → Configure() → Provision() → Validate()
//
// on it, skipping the steps it does not implement. It then checks that the
// module published a service for every role it declares. A module that
// fails after provisioning is stopped before the error is returned.
func (ctx *AppContext) LoadModule(id string) (Module, error) {
	info, ok := GetModule(id)
	if !ok {
		return nil, fmt.Errorf("unknown module: %s", id)
	}

	mod := info.New()

	if c, ok := mod.(Configurable); ok {
		if node, exists := ctx.moduleConfigs[id]; exists {
			if err := c.Configure(&node); err != nil {
				return nil, fmt.Errorf("configuring module %s: %w", id, err)
			}
		}
	}

	if p, ok := mod.(Provisioner); ok {
		moduleCtx := ctx.ForModule(info.ID)
		if err := p.Provision(moduleCtx); err != nil {
			return nil, fmt.Errorf("provisioning module %s: %w", id, err)
		}
	}

	if v, ok := mod.(Validator); ok {
		if err := v.Validate(); err != nil {
			ctx.release(mod)
			return nil, fmt.Errorf("validating module %s: %w", id, err)
		}
	}

	for _, role := range info.Provides {
		if _, ok := ctx.Service(ServiceName(role, info.ID)); !ok {
			ctx.release(mod)
			return nil, fmt.Errorf("module %s declares the %s role but published no service for it", id, role)
		}
	}

	return mod, nil
}

func (ctx *AppContext) release(mod Module) {
	s, ok := mod.(Stopper)
	if !ok {
		return
	}
	if err := s.Stop(context.Background()); err != nil {
		ctx.Logger.Warn("core: releasing module after failed load", "error", err)
	}
}
