package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/config"
	"github.com/classpoint/proctor-backend/internal/response"
)

// SystemHandler exposes liveness and operational visibility endpoints.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Pings both backing stores so the probe fails before traffic does.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	status := http.StatusOK
	checks := gin.H{"postgres": "ok", "redis": "ok"}

	if err := h.pool.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
		"checks": checks,
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Stats godoc
// GET /api/v1/instructor/system/stats
// Worker queue depths and Go runtime counters for operational checks.
func (h *SystemHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	pipe := h.rdb.Pipeline()
	answersCmd := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)

	var queueAnswers, queueViolations int64
	if _, err := pipe.Exec(ctx); err == nil {
		queueAnswers, _ = answersCmd.Result()
		queueViolations, _ = violationsCmd.Result()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	response.Success(c, http.StatusOK, gin.H{
		"uptime":           time.Since(h.startTime).Round(time.Second).String(),
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc":       ms.HeapAlloc,
		"num_gc":           ms.NumGC,
		"queue_answers":    queueAnswers,
		"queue_violations": queueViolations,
	})
}
