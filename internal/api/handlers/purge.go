package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"gorm.io/gorm"

	"logship/internal/database/repositories"
	"logship/internal/workqueue"
)

// PurgeHandler exposes the purge work queue over HTTP.
type PurgeHandler struct {
	service *workqueue.Service
	logger  *pterm.Logger
}

// NewPurgeHandler creates a new purge handler
func NewPurgeHandler(service *workqueue.Service, logger *pterm.Logger) *PurgeHandler {
	return &PurgeHandler{
		service: service,
		logger:  logger,
	}
}

// Enqueue handles POST /api/v1/purge.
func (h *PurgeHandler) Enqueue(c *gin.Context) {
	var req workqueue.PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.service.EnqueuePurge(req)
	if err != nil {
		if errors.Is(err, repositories.ErrPurgeConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("Purge enqueued via API",
		h.logger.Args("id", item.ID, "pod", item.PodName, "created_by", item.CreatedBy))
	c.JSON(http.StatusAccepted, item)
}

// List handles GET /api/v1/purge.
func (h *PurgeHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	items, err := h.service.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list purge jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Active handles GET /api/v1/purge/active.
func (h *PurgeHandler) Active(c *gin.Context) {
	items, err := h.service.Active()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list active purge jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ForPod handles GET /api/v1/purge/pod/:pod.
func (h *PurgeHandler) ForPod(c *gin.Context) {
	items, err := h.service.ForPod(c.Param("pod"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list purge jobs for pod"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Status handles GET /api/v1/purge/status.
func (h *PurgeHandler) Status(c *gin.Context) {
	counts, err := h.service.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize purge queue"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

// Get handles GET /api/v1/purge/:id.
func (h *PurgeHandler) Get(c *gin.Context) {
	item, err := h.service.Item(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "purge job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load purge job"})
		return
	}
	c.JSON(http.StatusOK, item)
}

// Cancel handles POST /api/v1/purge/:id/cancel. Only Pending items can be
// cancelled; anything else is a conflict.
func (h *PurgeHandler) Cancel(c *gin.Context) {
	item, err := h.service.Cancel(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "purge job not found"})
			return
		}
		if errors.Is(err, repositories.ErrNotCancellable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel purge job"})
		return
	}

	h.logger.Info("Purge cancelled via API", h.logger.Args("id", item.ID))
	c.JSON(http.StatusOK, item)
}
