package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stayhub/hotel-reservation-backend/internal/cache"
	"github.com/stayhub/hotel-reservation-backend/internal/database"
	"github.com/stayhub/hotel-reservation-backend/internal/services"
)

// AdminHandler serves operational endpoints: health, metrics and manual job
// triggers
type AdminHandler struct {
	db        database.DB
	store     cache.Store
	scheduler *services.SchedulerService
	metricsFn func() map[string]interface{}
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(db database.DB, store cache.Store, scheduler *services.SchedulerService, metricsFn func() map[string]interface{}) *AdminHandler {
	return &AdminHandler{db: db, store: store, scheduler: scheduler, metricsFn: metricsFn}
}

// Health reports service liveness and backing store reachability
// @Summary Health check
// @Tags Operations
// @Produce json
// @Router /health [get]
func (h *AdminHandler) Health(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "cache": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Metrics returns the engine counters
// @Summary Engine metrics
// @Tags Operations
// @Produce json
// @Security BearerAuth
// @Router /api/v1/admin/metrics [get]
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metricsFn())
}

// JobStatus returns the scheduler job table
// @Summary Scheduler job status
// @Tags Operations
// @Produce json
// @Security BearerAuth
// @Router /api/v1/admin/jobs [get]
func (h *AdminHandler) JobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetJobStatus())
}

// RunJob triggers one scheduler job immediately
// @Summary Trigger a scheduler job
// @Tags Operations
// @Produce json
// @Param name path string true "Job name"
// @Security BearerAuth
// @Router /api/v1/admin/jobs/{name}/run [post]
func (h *AdminHandler) RunJob(c *gin.Context) {
	switch c.Param("name") {
	case "expire-pending":
		h.scheduler.RunExpirePendingNow()
	case "no-show":
		h.scheduler.RunNoShowNow()
	case "reminders":
		h.scheduler.RunRemindersNow()
	case "price-refresh":
		h.scheduler.RunPriceRefreshNow()
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job triggered"})
}
