package apiv1

import (
	"context"
	"net/http"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Pinger is anything the health check can probe
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type HealthGroup struct {
	store       Pinger
	redisClient *common.RedisClient // nil in local mode
	routerGroup *echo.Group
}

func NewHealthGroup(g *echo.Group, store Pinger, rdb *common.RedisClient) *HealthGroup {
	group := &HealthGroup{routerGroup: g, store: store, redisClient: rdb}

	g.GET("", group.HealthCheck)

	return group
}

func (h *HealthGroup) HealthCheck(c echo.Context) error {
	ctx := c.Request().Context()
	status := HealthStatus{Status: "ok", Checks: map[string]string{}}

	check := func(name string, err error) {
		if err != nil {
			log.Error().Err(err).Str("check", name).Msg("health check failed")
			status.Status = "not ok"
			status.Checks[name] = err.Error()
			return
		}
		status.Checks[name] = "ok"
	}

	check("store", h.store.Ping(ctx))
	if h.redisClient != nil {
		check("redis", h.redisClient.Ping(ctx).Err())
	}

	if status.Status != "ok" {
		return c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Data:    status,
			Error:   "one or more dependencies are unavailable",
		})
	}
	return SuccessResponse(c, status)
}
