package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/tradegate/tradegate/internal/database"
)

// HealthHandler reports liveness and dependency health.
type HealthHandler struct {
	db    database.Database
	redis *redis.Client
}

func NewHealthHandler(db database.Database, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck probes the database and Redis and reports per-dependency
// status. Any failing dependency degrades the overall status.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	services := map[string]string{}
	status := "ok"

	if err := h.db.HealthCheck(ctx); err != nil {
		services["database"] = "down"
		status = "degraded"
	} else {
		services["database"] = "up"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "down"
			status = "degraded"
		} else {
			services["redis"] = "up"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Services:  services,
	})
}

// LivenessCheck answers as long as the process is up.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
