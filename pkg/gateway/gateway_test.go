package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig() types.AppConfig {
	return types.AppConfig{
		Mode: types.ModeLocal,
		Database: types.DatabaseConfig{
			SQLite: types.SQLiteConfig{Path: ":memory:"},
		},
		HTTP: types.HTTPConfig{Host: "127.0.0.1", Port: 0},
	}
}

func TestNew_LocalMode(t *testing.T) {
	g, err := New(localConfig())
	require.NoError(t, err)
	defer g.Close()

	assert.Nil(t, g.RedisClient)

	for _, p := range types.Providers {
		o, err := g.Orchestrator(p)
		require.NoError(t, err)
		assert.Equal(t, p, o.Provider())
	}

	_, err = g.Orchestrator(types.Provider("yahoo"))
	assert.ErrorIs(t, err, types.ErrProviderNotSupported)
}

func TestNew_RemoteModeRequiresPostgres(t *testing.T) {
	cfg := localConfig()
	cfg.Mode = types.ModeRemote
	cfg.Database.Redis = types.RedisConfig{Mode: types.RedisModeSingle, Addrs: []string{"127.0.0.1:1"}, DialTimeout: 100 * time.Millisecond}

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestGateway_HealthAndRefreshOnce(t *testing.T) {
	g, err := New(localConfig())
	require.NoError(t, err)
	defer g.Close()

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, types.RefreshTickResult{}, g.RefreshOnce(context.Background()))
}

func TestGateway_RunStopsOnCancel(t *testing.T) {
	g, err := New(localConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
}
