package http

import (
	"context"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/divsync/internal/core"
	"github.com/flemzord/divsync/internal/security"
	"github.com/flemzord/divsync/internal/syncer"
)

func newTestSource(t *testing.T, handler nethttp.HandlerFunc, mutate ...func(*Config)) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL, Token: "tok-123"}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewSource(cfg)
}

func TestFetchPage(t *testing.T) {
	src := newTestSource(t, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, defaultPath, r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "c-1", r.URL.Query().Get("cursor"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"source_id":"s-1"},{"source_id":"s-2"}],"next_cursor":"c-2","has_more":true}`)
	})

	page, err := src.FetchPage(context.Background(), "c-1", 50)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.JSONEq(t, `{"source_id":"s-1"}`, string(page.Records[0]))
	assert.Equal(t, "c-2", page.NextCursor)
	assert.True(t, page.HasMore)
}

func TestFetchPage_FirstPageOmitsCursor(t *testing.T) {
	src := newTestSource(t, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_, hasCursor := r.URL.Query()["cursor"]
		assert.False(t, hasCursor)
		_, hasLimit := r.URL.Query()["limit"]
		assert.False(t, hasLimit)
		_, _ = io.WriteString(w, `{"data":[],"has_more":false}`)
	})

	page, err := src.FetchPage(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.False(t, page.HasMore)
}

func TestFetchPage_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		maxBody int
	}{
		{name: "server error", status: nethttp.StatusBadGateway, body: `oops`},
		{name: "unauthorized", status: nethttp.StatusUnauthorized, body: `{}`},
		{name: "invalid json", status: nethttp.StatusOK, body: `{"data":[`},
		{name: "wrong shape", status: nethttp.StatusOK, body: `{"data":"nope"}`},
		{name: "has_more without cursor", status: nethttp.StatusOK, body: `{"data":[],"has_more":true}`},
		{name: "too large", status: nethttp.StatusOK, body: `{"data":[],"next_cursor":"` + strings.Repeat("x", 64) + `"}`, maxBody: 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestSource(t, func(w nethttp.ResponseWriter, _ *nethttp.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, func(c *Config) {
				c.MaxResponseBytes = tt.maxBody
			})

			_, err := src.FetchPage(context.Background(), "", 10)
			assert.ErrorIs(t, err, syncer.ErrRemoteFetch)
		})
	}
}

func TestFetchPage_TransportError(t *testing.T) {
	srv := httptest.NewServer(nethttp.NotFoundHandler())
	srv.Close()

	src := NewSource(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := src.FetchPage(context.Background(), "", 10)
	assert.ErrorIs(t, err, syncer.ErrRemoteFetch)
}

func TestFetchPage_RateLimited(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"data":[]}`)
	}, func(c *Config) {
		c.RequestsPerSecond = 0.01
	})

	_, err := src.FetchPage(context.Background(), "", 10)
	require.NoError(t, err)

	// The single burst token is spent; the next wait exceeds the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.FetchPage(ctx, "", 10)
	assert.ErrorIs(t, err, syncer.ErrRemoteFetch)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPage_CustomHeaders(t *testing.T) {
	src := newTestSource(t, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "acme", r.Header.Get("X-Tenant"))
		_, _ = io.WriteString(w, `{"data":[]}`)
	}, func(c *Config) {
		c.Headers = map[string]string{"X-Tenant": "acme"}
	})

	_, err := src.FetchPage(context.Background(), "", 1)
	require.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{BaseURL: "https://api.example.com"}},
		{name: "missing base url", cfg: Config{}, wantErr: true},
		{name: "relative base url", cfg: Config{BaseURL: "/api"}, wantErr: true},
		{name: "negative rate", cfg: Config{BaseURL: "https://api.example.com", RequestsPerSecond: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.defaults()
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModule_Provision(t *testing.T) {
	t.Setenv("DIVSYNC_TEST_SOURCE_TOKEN", "secret-source-token")

	appCtx := core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir(), "node-a")
	redactor := security.NewRedactor()
	appCtx.RegisterService("security.redactor", redactor)

	m := &Module{config: Config{BaseURL: "https://api.example.com", TokenEnv: "DIVSYNC_TEST_SOURCE_TOKEN"}}
	require.NoError(t, m.Provision(appCtx))
	require.NoError(t, m.Validate())

	svc, ok := appCtx.Service("source.source.http")
	require.True(t, ok)
	assert.Implements(t, (*syncer.Source)(nil), svc)

	assert.NotContains(t, redactor.Redact("token=secret-source-token"), "secret-source-token")
}
