package handlers

import (
	"net/http"
	"time"

	"cropsight/internal/core/processor"
	"cropsight/internal/integrations/leafmodel"
	"cropsight/internal/utils"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves runtime status information
type SystemHandler struct {
	pool      *processor.WorkerPool
	model     *leafmodel.Client
	startTime time.Time
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(pool *processor.WorkerPool, model *leafmodel.Client) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		model:     model,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers the system status routes
func (h *SystemHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/system/status", h.handleStatus)
}

// handleStatus returns process statistics and the detection service health
func (h *SystemHandler) handleStatus(c *gin.Context) {
	stats := utils.GetSystemStats(h.pool)

	modelReachable := false
	if h.model != nil {
		modelReachable = h.model.Ping(c.Request.Context())
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":  int(time.Since(h.startTime).Seconds()),
		"model_reachable": modelReachable,
		"stats":           stats,
		"memory_alloc":    utils.FormatBytes(stats.MemoryAlloc),
		"memory_sys":      utils.FormatBytes(stats.MemorySys),
	})
}
