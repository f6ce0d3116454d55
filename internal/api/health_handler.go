package api

import (
	"context"
	"net/http"
	"time"

	"ssl-monitor/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type HealthHandler struct {
	Store repository.Store
	// optional
	Redis *redis.Client
}

func NewHealthHandler(store repository.Store, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{Store: store, Redis: rdb}
}

// Health reports the state of every backing service.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{"storage": "ok"}
	healthy := true

	if err := h.Store.Ping(ctx); err != nil {
		checks["storage"] = err.Error()
		healthy = false
	}
	if h.Redis != nil {
		checks["redis"] = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			// the cooldown fails open, so redis trouble only degrades
			checks["redis"] = err.Error()
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks, "time": time.Now().UTC()})
}

// Ready is true once the store answers.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
