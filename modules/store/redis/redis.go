// Package redis implements the store.redis module. It only serves the
// lease role: Redis key expiry is a natural fit for a fleet-wide lock,
// while the ledger and sessions need a durable store.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/security"
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

// Module is the store.redis module.
type Module struct {
	config Config
	client *goredis.Client
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "store.redis",
		Provides: []string{core.RoleLease},
		New:      func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("redis: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The client connects lazily, so
// provisioning never blocks on the network.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	password := m.config.password()
	if password != "" {
		if svc, ok := ctx.Service("security.redactor"); ok {
			if r, ok := svc.(*security.Redactor); ok {
				r.AddLiteral(password)
			}
		}
	}

	m.client = goredis.NewClient(&goredis.Options{
		Addr:        m.config.Addr,
		Username:    m.config.Username,
		Password:    password,
		DB:          m.config.DB,
		DialTimeout: m.config.DialTimeout,
	})

	ctx.RegisterService(core.ServiceName(core.RoleLease, m.ModuleInfo().ID), NewLeaseProvider(m.client))

	m.logger.Info("redis: lease provider provisioned", "addr", m.config.Addr, "db", m.config.DB)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.client.Ping(context.TODO()).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", m.config.Addr, err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.client == nil {
		return nil
	}
	m.logger.Info("redis: lease provider stopping")
	return m.client.Close()
}
