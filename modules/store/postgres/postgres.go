// Package postgres implements the store module for fleets: leases,
// the run ledger and synced sessions all live in one shared Postgres
// database reached through sqlx and lib/pq.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/divsync/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the store.postgres module.
type Module struct {
	config Config
	store  *Store
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "store.postgres",
		Provides: []string{core.RoleLease, core.RoleLedger, core.RoleSessions},
		New:      func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("postgres: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if err := m.config.validate(); err != nil {
		return err
	}

	store, err := Open(context.TODO(), m.config.dsn(), m.config)
	if err != nil {
		return err
	}
	m.store = store

	id := m.ModuleInfo().ID
	ctx.RegisterService(core.ServiceName(core.RoleLease, id), store.Lease)
	ctx.RegisterService(core.ServiceName(core.RoleLedger, id), store.Ledger)
	ctx.RegisterService(core.ServiceName(core.RoleSessions, id), store.Sessions)

	m.logger.Info("postgres: store provisioned", "max_open_conns", m.config.MaxOpenConns)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.store == nil {
		return fmt.Errorf("postgres: store not provisioned")
	}
	if err := m.store.DB.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("postgres: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.store == nil {
		return nil
	}
	m.logger.Info("postgres: store stopping")
	return m.store.DB.Close()
}
