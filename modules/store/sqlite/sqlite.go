// Package sqlite implements a single-file store module serving the lease,
// ledger and sessions roles. It uses modernc.org/sqlite (pure Go, no CGO)
// in WAL mode. Leases only coordinate processes that share the file, so
// this backend suits single-host deployments and development.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/divsync/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the store.sqlite module.
type Module struct {
	config Config
	store  *Store
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "store.sqlite",
		Provides: []string{core.RoleLease, core.RoleLedger, core.RoleSessions},
		New:      func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. It opens the database and
// publishes the lease, ledger and sessions services.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	switch {
	case m.config.Path == "":
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	case !filepath.IsAbs(m.config.Path):
		m.config.Path = filepath.Join(ctx.DataDir, m.config.Path)
	}

	store, err := Open(context.TODO(), m.config.Path, m.config)
	if err != nil {
		return err
	}
	m.store = store

	id := m.ModuleInfo().ID
	ctx.RegisterService(core.ServiceName(core.RoleLease, id), store.Lease)
	ctx.RegisterService(core.ServiceName(core.RoleLedger, id), store.Ledger)
	ctx.RegisterService(core.ServiceName(core.RoleSessions, id), store.Sessions)

	m.logger.Info("sqlite: store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}

	if err := m.store.DB.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}

	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.logger != nil {
		m.logger.Info("sqlite: store stopping")
	}
	if m.store != nil {
		return m.store.DB.Close()
	}
	return nil
}
