// Package badger implements the store.badger module: an embedded
// key-value store for the synced sessions and their cursors. It serves
// the sessions role only.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
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
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the store.badger module.
type Module struct {
	config Config
	db     *badgerdb.DB
	logger *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "store.badger",
		Provides: []string{core.RoleSessions},
		New:      func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("badger: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Open opens a Badger database for cfg.
func Open(cfg Config) (*badgerdb.DB, error) {
	key, err := cfg.encryptionKey()
	if err != nil {
		return nil, err
	}

	opts := badgerdb.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if len(key) > 0 {
		// Encrypted workloads require an index cache.
		opts = opts.WithEncryptionKey(key).WithIndexCacheSize(100 << 20)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", cfg.Path, err)
	}
	return db, nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if !m.config.InMemory {
		switch {
		case m.config.Path == "":
			m.config.Path = filepath.Join(ctx.DataDir, defaultDir)
		case !filepath.IsAbs(m.config.Path):
			m.config.Path = filepath.Join(ctx.DataDir, m.config.Path)
		}
	}

	db, err := Open(m.config)
	if err != nil {
		return err
	}
	m.db = db

	ctx.RegisterService(core.ServiceName(core.RoleSessions, m.ModuleInfo().ID), NewSessionStore(db))

	m.logger.Info("badger: session store provisioned",
		"path", m.config.Path,
		"in_memory", m.config.InMemory,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. It launches value log garbage
// collection; in-memory databases have no value log.
func (m *Module) Start() error {
	if m.config.InMemory || m.config.GCInterval == 0 {
		return nil
	}
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		gcLoop(m.db, m.config.GCInterval, m.stop, func(rewrites int) {
			if rewrites > 0 {
				m.logger.Debug("badger: value log gc", "rewrites", rewrites)
			}
		})
	}()
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.stop != nil {
		close(m.stop)
		m.wg.Wait()
		m.stop = nil
	}
	if m.db == nil {
		return nil
	}
	m.logger.Info("badger: session store stopping")
	return m.db.Close()
}
