package core

import (
	"context"
	"errors"
	"slices"
	"testing"
)

// orderModule records Start/Stop calls into a shared log.
type orderModule struct {
	id       ModuleID
	log      *[]string
	startErr error
}

func (m *orderModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { return m }}
}

func (m *orderModule) Start() error {
	*m.log = append(*m.log, "start:"+string(m.id))
	return m.startErr
}

func (m *orderModule) Stop(_ context.Context) error {
	*m.log = append(*m.log, "stop:"+string(m.id))
	return nil
}

func TestApp_StartStopOrder(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, "/data", "node-a"))
	app.AppendModule("a", &orderModule{id: "a", log: &calls})
	app.AppendModule("b", &orderModule{id: "b", log: &calls})

	if err := app.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	app.Stop()

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestApp_StartFailureStopsStarted(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, "/data", "node-a"))
	app.AppendModule("a", &orderModule{id: "a", log: &calls})
	app.AppendModule("b", &orderModule{id: "b", log: &calls, startErr: errors.New("boom")})

	if err := app.Start(); err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestApp_CloseStopsUnstarted(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, "/data", "node-a"))
	app.AppendModule("a", &orderModule{id: "a", log: &calls})
	app.AppendModule("b", &orderModule{id: "b", log: &calls})

	app.Close()

	want := []string{"stop:b", "stop:a"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if _, ok := app.Module("a"); ok {
		t.Error("expected modules to be dropped after Close")
	}
}

func TestApp_CloseAfterStartFailure(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, "/data", "node-a"))
	app.AppendModule("a", &orderModule{id: "a", log: &calls})
	app.AppendModule("b", &orderModule{id: "b", log: &calls, startErr: errors.New("boom")})

	_ = app.Start()
	app.Close()

	// a was stopped by the failed Start; only b remains to release.
	want := []string{"start:a", "start:b", "stop:a", "stop:b"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestApp_ModuleLookup(t *testing.T) {
	var calls []string
	app := NewApp(NewAppContext(nil, "/data", "node-a"))
	mod := &orderModule{id: "store.memory", log: &calls}
	app.AppendModule("store.memory", mod)

	got, ok := app.Module("store.memory")
	if !ok || got != mod {
		t.Fatalf("Module lookup = %v, %v", got, ok)
	}
	if _, ok := app.Module("missing"); ok {
		t.Error("expected missing module lookup to fail")
	}
}

func TestModuleID_Parts(t *testing.T) {
	tests := []struct {
		id        ModuleID
		namespace string
		name      string
	}{
		{"store.sqlite", "store", "sqlite"},
		{"gateway.http", "gateway", "http"},
		{"source.http.v2", "source", "http.v2"},
		{"standalone", "standalone", ""},
	}
	for _, tt := range tests {
		if got := tt.id.Namespace(); got != tt.namespace {
			t.Errorf("%s.Namespace() = %q, want %q", tt.id, got, tt.namespace)
		}
		if got := tt.id.Name(); got != tt.name {
			t.Errorf("%s.Name() = %q, want %q", tt.id, got, tt.name)
		}
	}
}

func TestServiceName(t *testing.T) {
	if got := ServiceName(RoleLease, "store.redis"); got != "lease.store.redis" {
		t.Errorf("ServiceName() = %q", got)
	}
}
