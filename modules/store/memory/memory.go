// Package memory provides an in-process store module serving the lease,
// ledger and sessions roles. State is lost on restart and leases only
// coordinate goroutines of one process, so it is meant for tests and
// single-node development.
package memory

import (
	"time"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/lease"
	"github.com/flemzord/divsync/internal/ledger"
	"github.com/flemzord/divsync/internal/session"
)

func init() {
	core.RegisterModule(&Module{})
}

var _ core.Provisioner = (*Module)(nil)

// Module is the store.memory module.
type Module struct {
	Lease    *lease.Memory
	Ledger   *ledger.Memory
	Sessions *session.MemoryStore
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "store.memory",
		Provides: []string{core.RoleLease, core.RoleLedger, core.RoleSessions},
		New:      func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.Lease = lease.NewMemory()
	m.Ledger = ledger.NewMemory(time.Now)
	m.Sessions = session.NewMemoryStore()

	id := m.ModuleInfo().ID
	ctx.RegisterService(core.ServiceName(core.RoleLease, id), m.Lease)
	ctx.RegisterService(core.ServiceName(core.RoleLedger, id), m.Ledger)
	ctx.RegisterService(core.ServiceName(core.RoleSessions, id), m.Sessions)

	ctx.Logger.Warn("memory: store is not shared across processes; use it for development only")
	return nil
}
