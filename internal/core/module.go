package core

import (
	"context"
	"slices"

	"gopkg.in/yaml.v3"
)

// ModuleID is a dotted module identifier of the form "<namespace>.<name>",
// e.g. "store.sqlite" or "source.http".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return string(id[:i])
		}
	}
	return string(id)
}

// Name returns the part of the ID after the first dot.
func (id ModuleID) Name() string {
	ns := id.Namespace()
	if len(ns) == len(id) {
		return ""
	}
	return string(id[len(ns)+1:])
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	// ID uniquely identifies the module.
	ID ModuleID

	// Provides lists the dispatch roles (RoleLease, RoleLedger, ...) the
	// module publishes a service for once provisioned. Modules that serve
	// no role, such as the gateway, leave it empty.
	Provides []string

	// New returns a fresh, unconfigured instance.
	New func() Module
}

// Serves reports whether the module publishes a service for role.
func (info ModuleInfo) Serves(role string) bool {
	return slices.Contains(info.Provides, role)
}

// Module is implemented by every store, source and gateway module.
type Module interface {
	ModuleInfo() ModuleInfo
}

// A module goes through Configure, Provision and Validate when loaded, then
// Start when the scheduler runs and Stop on shutdown. Each step is optional.
// Short-lived commands (run, status, config check) load modules without
// starting them, so Stop must also release what Provision acquired.

// Configurable decodes the module's section of the "modules" map.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner opens connections, applies defaults and publishes the
// module's role services on the AppContext.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator checks the provisioned module, typically by pinging its
// backend, so that a broken store fails at load time rather than on the
// first tick.
type Validator interface {
	Validate() error
}

// Starter launches background work such as listeners or GC loops.
type Starter interface {
	Start() error
}

// Stopper releases the module's resources. Called in reverse load order.
type Stopper interface {
	Stop(ctx context.Context) error
}
