package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downStore struct{}

func (downStore) Ping(ctx context.Context) error { return errors.New("database is closed") }

func serveHealth(t *testing.T, store Pinger, withRedis bool) (int, Response) {
	e := echo.New()
	group := e.Group(HttpServerBaseRoute + "/health")
	if withRedis {
		client, err := repository.NewRedisClientForTest()
		require.NoError(t, err)
		NewHealthGroup(group, store, client)
	} else {
		NewHealthGroup(group, store, nil)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthCheck_OK(t *testing.T) {
	code, resp := serveHealth(t, repository.NewMemoryStore(), true)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, map[string]interface{}{"store": "ok", "redis": "ok"}, data["checks"])
}

func TestHealthCheck_LocalModeSkipsRedis(t *testing.T) {
	code, resp := serveHealth(t, repository.NewMemoryStore(), false)
	assert.Equal(t, http.StatusOK, code)

	checks := resp.Data.(map[string]interface{})["checks"].(map[string]interface{})
	assert.NotContains(t, checks, "redis")
}

func TestHealthCheck_StoreDown(t *testing.T) {
	code, resp := serveHealth(t, downStore{}, false)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)

	checks := resp.Data.(map[string]interface{})["checks"].(map[string]interface{})
	assert.Equal(t, "database is closed", checks["store"])
}
