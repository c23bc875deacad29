package config

import (
	"strings"
	"testing"

	"github.com/flemzord/divsync/internal/core"
	"gopkg.in/yaml.v3"
)

// stubModule is a basic module for testing.
type stubModule struct {
	id    string
	roles []string
}

func (m *stubModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       core.ModuleID(m.id),
		Provides: m.roles,
		New:      func() core.Module { return &stubModule{id: m.id, roles: m.roles} },
	}
}

// registerStub registers a module under a test-unique ID and returns it.
func registerStub(t *testing.T, namespace string, roles ...string) string {
	t.Helper()
	id := namespace + "." + strings.ReplaceAll(t.Name(), "/", "_")
	core.RegisterModule(&stubModule{id: id, roles: roles})
	return id
}

// validConfig returns a config whose roles point at freshly registered
// stub modules.
func validConfig(t *testing.T) *Config {
	t.Helper()
	store := registerStub(t, "store", core.RoleLease, core.RoleLedger, core.RoleSessions)
	source := registerStub(t, "source", core.RoleSource)
	return &Config{
		Version: "1",
		Dispatch: DispatchConfig{
			Lease:    store,
			Ledger:   store,
			Sessions: store,
			Source:   source,
		},
		Modules: map[string]yaml.Node{store: {}, source: {}},
	}
}

func requireErrorContains(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error should mention %q: %v", want, err)
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig(t)
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingVersion(t *testing.T) {
	cfg := validConfig(t)
	cfg.Version = ""
	requireErrorContains(t, Validate(cfg), "version")
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	cfg := validConfig(t)
	cfg.Version = "99"
	requireErrorContains(t, Validate(cfg), "unsupported version")
}

func TestValidate_NoModules(t *testing.T) {
	cfg := &Config{Version: "1"}
	requireErrorContains(t, Validate(cfg), "at least one module")
}

func TestValidate_UnknownModule(t *testing.T) {
	cfg := validConfig(t)
	cfg.Modules["store.nonexistent"] = yaml.Node{}
	requireErrorContains(t, Validate(cfg), `unknown module "store.nonexistent"`)
}

func TestValidate_MissingRole(t *testing.T) {
	cfg := validConfig(t)
	cfg.Dispatch.Source = ""
	requireErrorContains(t, Validate(cfg), "dispatch.source is required")
}

func TestValidate_RoleNotConfigured(t *testing.T) {
	cfg := validConfig(t)
	cfg.Dispatch.Ledger = "store.elsewhere"
	requireErrorContains(t, Validate(cfg), "unconfigured module")
}

func TestValidate_RoleNotProvided(t *testing.T) {
	cfg := validConfig(t)
	cfg.Dispatch.Sessions = cfg.Dispatch.Source
	err := Validate(cfg)
	requireErrorContains(t, err, "does not provide the sessions role")
	requireErrorContains(t, err, cfg.Dispatch.Ledger)
}

func TestValidate_LeaseRequiredForSingleLeader(t *testing.T) {
	cfg := validConfig(t)
	cfg.Dispatch.Lease = ""
	requireErrorContains(t, Validate(cfg), "dispatch.lease is required")

	off := false
	cfg.Jobs = map[string]JobConfig{"division_sessions:sync": {SingleLeader: &off}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("lease should be optional without single-leader jobs: %v", err)
	}
}

func TestValidate_UnknownJob(t *testing.T) {
	cfg := validConfig(t)
	cfg.Jobs = map[string]JobConfig{"reports:nightly": {}}
	requireErrorContains(t, Validate(cfg), `unknown job "reports:nightly"`)
}

func TestValidate_BadFailureRate(t *testing.T) {
	cfg := validConfig(t)
	cfg.Jobs = map[string]JobConfig{"division_sessions:sync": {Sync: SyncConfig{MaxFailureRate: 1.5}}}
	requireErrorContains(t, Validate(cfg), "max_failure_rate")
}

func TestValidate_ShortLeaseTTL(t *testing.T) {
	cfg := validConfig(t)
	cfg.Jobs = map[string]JobConfig{"division_sessions:sync": {LeaseTTL: 1}}
	requireErrorContains(t, Validate(cfg), "lease_ttl must be at least")
}

func TestValidate_BadLogSettings(t *testing.T) {
	cfg := validConfig(t)
	cfg.Log = LogConfig{Level: "verbose", Format: "xml"}
	err := Validate(cfg)
	requireErrorContains(t, err, "log.level")
	requireErrorContains(t, err, "log.format")
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := &Config{
		Modules:  map[string]yaml.Node{"bogus.module": {}},
		Dispatch: DispatchConfig{Ledger: "bogus.module"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"version", "unknown module", "dispatch.sessions", "dispatch.source"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("aggregated error should mention %q: %v", want, err)
		}
	}
}
