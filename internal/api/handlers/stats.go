package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tradegate/tradegate/internal/services/jobqueue"
	"github.com/tradegate/tradegate/internal/services/monitor"
	"github.com/tradegate/tradegate/internal/services/workerpool"
)

// StatsHandler exposes runtime counters for the monitor, the job queue and
// the worker pool.
type StatsHandler struct {
	monitor *monitor.Monitor
	queue   *jobqueue.Queue
	pool    *workerpool.Pool
}

func NewStatsHandler(mon *monitor.Monitor, queue *jobqueue.Queue, pool *workerpool.Pool) *StatsHandler {
	return &StatsHandler{monitor: mon, queue: queue, pool: pool}
}

func (h *StatsHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	depths, err := h.queue.QueueDepths(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	queueDepths := make(map[string]int64, len(depths))
	for priority, depth := range depths {
		queueDepths[priority.String()] = depth
	}

	deadLetter, err := h.queue.DeadLetterDepth(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	monitorStats := h.monitor.Stats()
	poolStats := h.pool.Stats()

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"monitor": gin.H{
			"polls":            monitorStats.Polls,
			"sessions_checked": monitorStats.SessionsChecked,
			"warnings_emitted": monitorStats.WarningsEmitted,
			"terminations":     monitorStats.Terminations,
		},
		"jobs": gin.H{
			"queue_depths":      queueDepths,
			"dead_letter_depth": deadLetter,
		},
		"workers": gin.H{
			"executed":    poolStats.Executed,
			"failed":      poolStats.Failed,
			"queue_depth": poolStats.QueueDepth,
		},
	})
}

// PeekDeadLetter lists permanently failed jobs for inspection.
func (h *StatsHandler) PeekDeadLetter(c *gin.Context) {
	count := int64(20)
	if raw := c.Query("count"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			count = n
		}
	}

	entries, err := h.queue.PeekDeadLetter(c.Request.Context(), count)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "entries": entries})
}

// RetryDeadLetter requeues one dead letter entry by index.
func (h *StatsHandler) RetryDeadLetter(c *gin.Context) {
	index, err := strconv.ParseInt(c.Param("index"), 10, 64)
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a non-negative integer"})
		return
	}

	if err := h.queue.RetryDeadLetter(c.Request.Context(), index); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
