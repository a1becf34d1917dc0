package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/pterm/pterm"

	"logship/internal/database/models"
	"logship/internal/database/repositories"
	"logship/internal/ingest"
	"logship/internal/realtime"
)

// IngestHandler receives record batches from agents.
type IngestHandler struct {
	validator *ingest.Validator
	settings  *ingest.SettingsProvider
	dedup     *ingest.DedupCache
	records   repositories.LogRecordRepository
	summaries repositories.LogSummaryRepository
	broadcast realtime.Broadcaster
	logger    *pterm.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(
	validator *ingest.Validator,
	settings *ingest.SettingsProvider,
	dedup *ingest.DedupCache,
	records repositories.LogRecordRepository,
	summaries repositories.LogSummaryRepository,
	broadcast realtime.Broadcaster,
	logger *pterm.Logger,
) *IngestHandler {
	return &IngestHandler{
		validator: validator,
		settings:  settings,
		dedup:     dedup,
		records:   records,
		summaries: summaries,
		broadcast: broadcast,
		logger:    logger,
	}
}

// ingestResponse reports what happened to each part of a batch.
type ingestResponse struct {
	Accepted   int                  `json:"accepted"`
	Duplicates int                  `json:"duplicates"`
	Errors     []ingest.RecordError `json:"errors,omitempty"`
}

// PostLogs handles POST /api/v1/logs. The body is a JSON array of records,
// optionally gzip-compressed.
func (h *IngestHandler) PostLogs(c *gin.Context) {
	body := c.Request.Body
	if c.GetHeader("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body is not valid gzip"})
			return
		}
		defer zr.Close()
		body = zr
	}

	var batch []models.LogRecord
	if err := json.NewDecoder(body).Decode(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is not a valid record array"})
		return
	}

	agentID := c.GetHeader("X-Agent-Id")
	settings := h.settings.Current(c.Request.Context())

	valid, recErrs, err := h.validator.ValidateBatch(batch, settings)
	if err != nil {
		var tooLarge *ingest.BatchTooLargeError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Rejected oversized batch",
				h.logger.Args("agent_id", agentID, "size", tooLarge.Size, "limit", tooLarge.Limit))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stored := make([]models.LogRecord, 0, len(valid))
	duplicates := 0
	for _, rec := range valid {
		if h.dedup.IsDuplicate(rec.PodName, rec.Fingerprint) {
			duplicates++
			continue
		}
		stored = append(stored, rec)
	}

	if len(stored) > 0 {
		if err := h.records.CreateBatch(stored); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store records"})
			return
		}
		if err := h.summaries.Accumulate(stored); err != nil {
			// Rollups are derived data; losing an increment is logged, not fatal.
			h.logger.Warn("Failed to update summary rollup", h.logger.Args("error", err))
		}

		type sourceKey struct{ deployment, pod string }
		counts := make(map[sourceKey]int)
		for _, rec := range stored {
			counts[sourceKey{rec.DeploymentName, rec.PodName}]++
		}
		for key, n := range counts {
			h.broadcast.LogsIngested(key.deployment, key.pod, n)
		}
	}

	h.logger.Debug("Batch ingested",
		h.logger.Args("agent_id", agentID, "received", len(batch), "accepted", len(stored),
			"duplicates", duplicates, "rejected", len(recErrs)))

	c.JSON(http.StatusAccepted, ingestResponse{
		Accepted:   len(stored),
		Duplicates: duplicates,
		Errors:     recErrs,
	})
}

// GetLatestTimes handles GET /api/v1/logs/latest-times.
func (h *IngestHandler) GetLatestTimes(c *gin.Context) {
	latest, err := h.records.LatestTimes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query latest times"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"times": latest})
}

// GetValidationSettings handles GET /api/v1/settings/validation.
func (h *IngestHandler) GetValidationSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Current(c.Request.Context()))
}
