// Package http implements the source.http module: the remote, read-only
// feed of division session records, fetched page by page over HTTP.
package http

import (
	"fmt"
	"log/slog"

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
)

// Module is the source.http module.
type Module struct {
	config Config
	source *Source
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "source.http",
		Provides: []string{core.RoleSource},
		New:      func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("source.http: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if token := m.config.token(); token != "" {
		if svc, ok := ctx.Service("security.redactor"); ok {
			if r, ok := svc.(*security.Redactor); ok {
				r.AddLiteral(token)
			}
		}
	} else {
		m.logger.Warn("source.http: no bearer token configured", "token_env", m.config.TokenEnv)
	}

	m.source = NewSource(m.config)
	ctx.RegisterService(core.ServiceName(core.RoleSource, m.ModuleInfo().ID), m.source)

	m.logger.Info("source.http: source provisioned",
		"base_url", m.config.BaseURL,
		"path", m.config.Path,
		"requests_per_second", m.config.RequestsPerSecond,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}
