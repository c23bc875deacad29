package core

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestAppContext_ForModule(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := NewAppContext(logger, "/data", "node-a")
	child := ctx.ForModule("store.sqlite")

	child.Logger.Info("hello")

	if !bytes.Contains(buf.Bytes(), []byte("store.sqlite")) {
		t.Errorf("expected child logger to contain module ID, got: %s", buf.String())
	}
}

func TestAppContext_LoadModule(t *testing.T) {
	t.Cleanup(resetRegistry)

	provisioned := false
	validated := false

	RegisterModule(&trackingModule{
		id:          "test.loadmod",
		onProvision: func() { provisioned = true },
		onValidate:  func() { validated = true },
	})

	ctx := NewAppContext(nil, "/data", "node-a")
	mod, err := ctx.LoadModule("test.loadmod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod == nil {
		t.Fatal("expected non-nil module")
	}
	if !provisioned {
		t.Error("expected Provision to be called")
	}
	if !validated {
		t.Error("expected Validate to be called")
	}
}

func TestAppContext_LoadModule_UnknownID(t *testing.T) {
	t.Cleanup(resetRegistry)

	ctx := NewAppContext(nil, "/data", "node-a")
	_, err := ctx.LoadModule("does.not.exist")
	if err == nil {
		t.Fatal("expected error for unknown module")
	}
}

func TestAppContext_LoadModule_ProvisionError(t *testing.T) {
	t.Cleanup(resetRegistry)

	RegisterModule(&trackingModule{
		id:           "test.provfail",
		provisionErr: errors.New("provision boom"),
	})

	ctx := NewAppContext(nil, "/data", "node-a")
	_, err := ctx.LoadModule("test.provfail")
	if err == nil {
		t.Fatal("expected error on provision failure")
	}
}

func TestAppContext_LoadModule_ValidateError(t *testing.T) {
	t.Cleanup(resetRegistry)

	RegisterModule(&trackingModule{
		id:          "test.valfail",
		validateErr: errors.New("validate boom"),
	})

	ctx := NewAppContext(nil, "/data", "node-a")
	_, err := ctx.LoadModule("test.valfail")
	if err == nil {
		t.Fatal("expected error on validate failure")
	}
}

// trackingModule is a test helper that tracks lifecycle calls.
type trackingModule struct {
	id           ModuleID
	onProvision  func()
	onValidate   func()
	provisionErr error
	validateErr  error
}

func (m *trackingModule) ModuleInfo() ModuleInfo {
	id := m.id
	return ModuleInfo{
		ID: id,
		New: func() Module {
			return &trackingModule{
				id:           id,
				onProvision:  m.onProvision,
				onValidate:   m.onValidate,
				provisionErr: m.provisionErr,
				validateErr:  m.validateErr,
			}
		},
	}
}

func (m *trackingModule) Provision(_ *AppContext) error {
	if m.onProvision != nil {
		m.onProvision()
	}
	return m.provisionErr
}

func (m *trackingModule) Validate() error {
	if m.onValidate != nil {
		m.onValidate()
	}
	return m.validateErr
}

// configurableMod is a test module that implements Configurable.
type configurableMod struct {
	id          ModuleID
	configured  *bool
	receivedKey *string
	configErr   error
}

func (m *configurableMod) ModuleInfo() ModuleInfo {
	id := m.id
	return ModuleInfo{
		ID: id,
		New: func() Module {
			return &configurableMod{
				id:          id,
				configured:  m.configured,
				receivedKey: m.receivedKey,
				configErr:   m.configErr,
			}
		},
	}
}

func (m *configurableMod) Configure(node *yaml.Node) error {
	if m.configErr != nil {
		return m.configErr
	}
	if m.configured != nil {
		*m.configured = true
	}
	if m.receivedKey != nil {
		var parsed struct {
			Key string `yaml:"key"`
		}
		if err := node.Decode(&parsed); err != nil {
			return err
		}
		*m.receivedKey = parsed.Key
	}
	return nil
}

func TestAppContext_LoadModule_WithConfig(t *testing.T) {
	t.Cleanup(resetRegistry)

	configured := false
	receivedKey := ""
	RegisterModule(&configurableMod{
		id:          "test.cfgmod",
		configured:  &configured,
		receivedKey: &receivedKey,
	})

	// Build a yaml.Node for the module config.
	var node yaml.Node
	if err := yaml.Unmarshal([]byte("key: hello"), &node); err != nil {
		t.Fatal(err)
	}

	ctx := NewAppContext(nil, "/data", "node-a")
	ctx = ctx.WithModuleConfigs(map[string]yaml.Node{
		"test.cfgmod": *node.Content[0],
	})

	mod, err := ctx.LoadModule("test.cfgmod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod == nil {
		t.Fatal("expected non-nil module")
	}
	if !configured {
		t.Error("expected Configure to be called")
	}
	if receivedKey != "hello" {
		t.Errorf("receivedKey = %q, want %q", receivedKey, "hello")
	}
}

func TestAppContext_LoadModule_ConfigError(t *testing.T) {
	t.Cleanup(resetRegistry)

	RegisterModule(&configurableMod{
		id:        "test.cfgerr",
		configErr: errors.New("config boom"),
	})

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("key: val"), &node); err != nil {
		t.Fatal(err)
	}

	ctx := NewAppContext(nil, "/data", "node-a")
	ctx = ctx.WithModuleConfigs(map[string]yaml.Node{
		"test.cfgerr": *node.Content[0],
	})

	_, err := ctx.LoadModule("test.cfgerr")
	if err == nil {
		t.Fatal("expected error on configure failure")
	}
}

func TestAppContext_LoadModule_NoConfig(t *testing.T) {
	t.Cleanup(resetRegistry)

	configured := false
	RegisterModule(&configurableMod{
		id:         "test.noconfig",
		configured: &configured,
	})

	// No config provided: Configure should not be called.
	ctx := NewAppContext(nil, "/data", "node-a")
	_, err := ctx.LoadModule("test.noconfig")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if configured {
		t.Error("Configure should not be called when no config is provided")
	}
}

func TestAppContext_LoadModule_NotConfigurable(t *testing.T) {
	t.Cleanup(resetRegistry)

	provisioned := false
	RegisterModule(&trackingModule{
		id:          "test.notcfg",
		onProvision: func() { provisioned = true },
	})

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("key: val"), &node); err != nil {
		t.Fatal(err)
	}

	// Config exists but the module is not Configurable: ignored.
	ctx := NewAppContext(nil, "/data", "node-a")
	ctx = ctx.WithModuleConfigs(map[string]yaml.Node{
		"test.notcfg": *node.Content[0],
	})

	_, err := ctx.LoadModule("test.notcfg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !provisioned {
		t.Error("expected Provision to be called")
	}
}

func TestAppContext_ForModule_PropagatesConfig(t *testing.T) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte("key: val"), &node); err != nil {
		t.Fatal(err)
	}

	ctx := NewAppContext(nil, "/data", "node-a")
	ctx = ctx.WithModuleConfigs(map[string]yaml.Node{
		"test.mod": *node.Content[0],
	})

	child := ctx.ForModule("test.mod")
	if child.moduleConfigs == nil {
		t.Fatal("ForModule should propagate moduleConfigs")
	}
	if _, ok := child.moduleConfigs["test.mod"]; !ok {
		t.Error("child context should have test.mod config")
	}
}

func TestAppContext_Services_SharedAcrossModules(t *testing.T) {
	ctx := NewAppContext(nil, "/data", "node-a")
	child := ctx.ForModule("store.sqlite")

	child.RegisterService("lease.store.sqlite", 42)

	svc, ok := ctx.Service("lease.store.sqlite")
	if !ok {
		t.Fatal("service registered on child should be visible on parent")
	}
	if svc.(int) != 42 {
		t.Errorf("service = %v, want 42", svc)
	}
	if child.NodeID != "node-a" {
		t.Errorf("NodeID = %q, want %q", child.NodeID, "node-a")
	}
}

func TestAppContext_Service_Missing(t *testing.T) {
	ctx := NewAppContext(nil, "/data", "node-a")
	if _, ok := ctx.Service("nope"); ok {
		t.Error("expected missing service lookup to fail")
	}
}

func TestModuleID_Namespace(t *testing.T) {
	tests := map[ModuleID]string{
		"store.sqlite": "store",
		"source.http":  "source",
		"gateway":      "gateway",
	}
	for id, want := range tests {
		if got := id.Namespace(); got != want {
			t.Errorf("%q.Namespace() = %q, want %q", id, got, want)
		}
	}
}

// storeModule publishes services for a subset of its declared roles.
type storeModule struct {
	id          ModuleID
	publishes   []string
	validateErr error
	stops       *int
}

func (m *storeModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{
		ID:       m.id,
		Provides: []string{RoleLease, RoleLedger},
		New:      func() Module { return m },
	}
}

func (m *storeModule) Provision(ctx *AppContext) error {
	for _, role := range m.publishes {
		ctx.RegisterService(ServiceName(role, m.id), struct{}{})
	}
	return nil
}

func (m *storeModule) Validate() error { return m.validateErr }

func (m *storeModule) Stop(_ context.Context) error {
	*m.stops++
	return nil
}

func TestAppContext_LoadModule_PublishesDeclaredRoles(t *testing.T) {
	t.Cleanup(resetRegistry)

	stops := 0
	RegisterModule(&storeModule{id: "store.full", publishes: []string{RoleLease, RoleLedger}, stops: &stops})
	RegisterModule(&storeModule{id: "store.partial", publishes: []string{RoleLease}, stops: &stops})

	ctx := NewAppContext(nil, "/data", "node-a")
	if _, err := ctx.LoadModule("store.full"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ctx.Service("ledger.store.full"); !ok {
		t.Error("expected ledger service to be published")
	}

	_, err := ctx.LoadModule("store.partial")
	if err == nil {
		t.Fatal("expected error for a declared role without service")
	}
	if stops != 1 {
		t.Errorf("stops = %d, want the partial module released once", stops)
	}
}

func TestAppContext_LoadModule_ValidateErrorReleases(t *testing.T) {
	t.Cleanup(resetRegistry)

	stops := 0
	RegisterModule(&storeModule{
		id:          "store.unreachable",
		publishes:   []string{RoleLease, RoleLedger},
		validateErr: errors.New("ping: connection refused"),
		stops:       &stops,
	})

	ctx := NewAppContext(nil, "/data", "node-a")
	if _, err := ctx.LoadModule("store.unreachable"); err == nil {
		t.Fatal("expected validate error")
	}
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
}
