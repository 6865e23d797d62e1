package handlers

import (
	"net/http"

	"direct-booking/utils"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	redis *redis.Client
}

// NewHealthHandler takes the shared Redis client, or nil when Redis is not configured.
func NewHealthHandler(redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{redis: redisClient}
}

// Health - GET /health
func (h *HealthHandler) Health(e *core.RequestEvent) error {
	if h.redis != nil {
		if err := utils.RedisHealthCheck(e.Request.Context(), h.redis); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
