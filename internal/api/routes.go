// Package api wires the HTTP surface: session lifecycle, decision
// execution, positions, orders and operational stats.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/tradegate/tradegate/internal/api/handlers"
	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/database"
	"github.com/tradegate/tradegate/internal/services/jobqueue"
	"github.com/tradegate/tradegate/internal/services/ledger"
	"github.com/tradegate/tradegate/internal/services/monitor"
	"github.com/tradegate/tradegate/internal/services/pipeline"
	"github.com/tradegate/tradegate/internal/services/supervisor"
	"github.com/tradegate/tradegate/internal/services/workerpool"
)

// Deps carries everything the routes need. Optional fields may be nil and
// their routes are skipped.
type Deps struct {
	DB         database.Database
	Redis      *redis.Client
	Supervisor *supervisor.Supervisor
	Pipeline   *pipeline.Pipeline
	Ledger     *ledger.Ledger
	Orders     *database.OrderStore
	Monitor    *monitor.Monitor
	Queue      *jobqueue.Queue
	Pool       *workerpool.Pool
	Clock      clock.Clock
}

// SetupRoutes registers all HTTP routes on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis)
	router.GET("/health", healthHandler.HealthCheck)
	router.HEAD("/health", healthHandler.HealthCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	v1 := router.Group("/api/v1")

	sessionHandler := handlers.NewSessionHandler(deps.Supervisor)
	sessions := v1.Group("/sessions")
	{
		sessions.POST("", sessionHandler.CreateSession)
		sessions.GET("/active", sessionHandler.GetActiveSession)
		sessions.GET("/history", sessionHandler.ListSessionHistory)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.POST("/:id/start", sessionHandler.StartSession)
		sessions.POST("/:id/stop", sessionHandler.StopSession)
		sessions.POST("/:id/emergency-stop", sessionHandler.EmergencyStopSession)
	}

	if deps.Pipeline != nil {
		tradingHandler := handlers.NewTradingHandler(deps.Pipeline, deps.Ledger, deps.Orders, deps.Clock)
		sessions.POST("/:id/decisions", tradingHandler.ExecuteDecision)
		sessions.GET("/:id/positions", tradingHandler.ListPositions)
		sessions.GET("/:id/orders", tradingHandler.ListOrders)
		sessions.PUT("/:id/positions/:symbol/triggers", tradingHandler.SetTriggers)
	}

	if deps.Monitor != nil && deps.Queue != nil && deps.Pool != nil {
		statsHandler := handlers.NewStatsHandler(deps.Monitor, deps.Queue, deps.Pool)
		ops := v1.Group("/ops")
		{
			ops.GET("/stats", statsHandler.GetStats)
			ops.GET("/deadletter", statsHandler.PeekDeadLetter)
			ops.POST("/deadletter/:index/retry", statsHandler.RetryDeadLetter)
		}
	}
}
