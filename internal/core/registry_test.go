package core

import (
	"testing"
)

type roleModule struct {
	id       ModuleID
	provides []string
}

func (m *roleModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{
		ID:       m.id,
		Provides: m.provides,
		New:      func() Module { return &roleModule{id: m.id, provides: m.provides} },
	}
}

func requirePanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	fn()
}

func TestRegisterModule_RejectsBadInfo(t *testing.T) {
	t.Cleanup(resetRegistry)

	requirePanic(t, func() { RegisterModule(&roleModule{id: ""}) })
	requirePanic(t, func() { RegisterModule(&roleModule{id: "store"}) })
	requirePanic(t, func() { RegisterModule(&roleModule{id: "store.x", provides: []string{"queue"}}) })

	RegisterModule(&roleModule{id: "store.x"})
	requirePanic(t, func() { RegisterModule(&roleModule{id: "store.x"}) })
}

func TestGetModulesForRole(t *testing.T) {
	t.Cleanup(resetRegistry)

	RegisterModule(&roleModule{id: "store.sql", provides: []string{RoleLease, RoleLedger, RoleSessions}})
	RegisterModule(&roleModule{id: "store.kv", provides: []string{RoleLease}})
	RegisterModule(&roleModule{id: "source.api", provides: []string{RoleSource}})
	RegisterModule(&roleModule{id: "gateway.http"})

	leases := GetModulesForRole(RoleLease)
	if len(leases) != 2 || leases[0].ID != "store.kv" || leases[1].ID != "store.sql" {
		t.Errorf("lease modules = %v", leases)
	}
	if got := GetModulesForRole(RoleSource); len(got) != 1 || got[0].ID != "source.api" {
		t.Errorf("source modules = %v", got)
	}
	if got := GetModules(); len(got) != 4 || got[0].ID != "gateway.http" {
		t.Errorf("all modules = %v", got)
	}

	info, _ := GetModule("store.kv")
	if info.Serves(RoleLedger) {
		t.Error("store.kv should not serve the ledger role")
	}
}
