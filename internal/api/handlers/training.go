package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/VinByte365/Project-Pamada-sub000/internal/api/middleware"
	"github.com/VinByte365/Project-Pamada-sub000/internal/api/response"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// Curator is the dataset workflow behind the /training routes.
type Curator interface {
	AutoFlagLowConfidence(ctx context.Context, threshold float64, limit int) ([]models.TrainingEntry, error)
	Seed(ctx context.Context, scanID uuid.UUID, label models.Condition) (*models.TrainingEntry, error)
	Validate(ctx context.Context, id, reviewer uuid.UUID, in models.ValidateInput) (*models.TrainingEntry, error)
	Reject(ctx context.Context, id, reviewer uuid.UUID, notes *string) (*models.TrainingEntry, error)
	ExportBatch(ctx context.Context, batchName string, limit int) ([]models.ExportedItem, error)
	List(ctx context.Context, f models.TrainingFilter) ([]models.TrainingEntry, int, error)
	Pending(ctx context.Context, limit int) ([]models.TrainingEntry, error)
	Stats(ctx context.Context) (*models.TrainingStats, error)
}

// SeedRequest adds a scan to the dataset with an explicit label.
type SeedRequest struct {
	ScanID uuid.UUID        `json:"scan_id" binding:"required"`
	Label  models.Condition `json:"label" binding:"required"`
}

// RejectRequest carries the reviewer's optional notes.
type RejectRequest struct {
	Notes *string `json:"notes"`
}

// ExportRequest names the batch and caps its size.
type ExportRequest struct {
	BatchName string `json:"batchName" binding:"required"`
	Limit     int    `json:"limit"`
}

// TrainingHandler serves the /training routes.
type TrainingHandler struct {
	curator Curator
}

// NewTrainingHandler creates a new training handler.
func NewTrainingHandler(curator Curator) *TrainingHandler {
	return &TrainingHandler{curator: curator}
}

// HandleList handles GET /api/v1/training.
func (h *TrainingHandler) HandleList(c *gin.Context) {
	page, limit := pagination(c)
	f := models.TrainingFilter{Page: page, Limit: limit}
	if v := c.Query("validation_status"); v != "" {
		status := models.ValidationStatus(v)
		f.ValidationStatus = &status
	}
	if v := c.Query("label"); v != "" {
		label := models.Condition(v)
		f.Label = &label
	}
	if v := c.Query("batch"); v != "" {
		f.Batch = &v
	}

	entries, total, err := h.curator.List(c.Request.Context(), f)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if entries == nil {
		entries = []models.TrainingEntry{}
	}
	response.Paged(c, entries, page, limit, total)
}

// HandlePending handles GET /api/v1/training/pending.
func (h *TrainingHandler) HandlePending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.curator.Pending(c.Request.Context(), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if entries == nil {
		entries = []models.TrainingEntry{}
	}
	response.Success(c, http.StatusOK, entries)
}

// HandleStats handles GET /api/v1/training/stats.
func (h *TrainingHandler) HandleStats(c *gin.Context) {
	stats, err := h.curator.Stats(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// HandleSeed handles POST /api/v1/training.
func (h *TrainingHandler) HandleSeed(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	entry, err := h.curator.Seed(c.Request.Context(), req.ScanID, req.Label)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, entry)
}

// HandleValidate handles PUT /api/v1/training/:id/validate.
func (h *TrainingHandler) HandleValidate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in models.ValidateInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			response.BadRequest(c, "invalid request body", err.Error())
			return
		}
	}
	entry, err := h.curator.Validate(c.Request.Context(), id, middleware.UserID(c), in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// HandleReject handles PUT /api/v1/training/:id/reject.
func (h *TrainingHandler) HandleReject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req RejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body", err.Error())
			return
		}
	}
	entry, err := h.curator.Reject(c.Request.Context(), id, middleware.UserID(c), req.Notes)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// HandleAutoFlag handles POST /api/v1/training/auto-flag.
func (h *TrainingHandler) HandleAutoFlag(c *gin.Context) {
	var threshold float64
	if v := c.Query("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			response.BadRequest(c, "threshold must be a number", nil)
			return
		}
		threshold = t
	}
	var limit int
	if v := c.Query("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "limit must be a number", nil)
			return
		}
		limit = l
	}

	entries, err := h.curator.AutoFlagLowConfidence(c.Request.Context(), threshold, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if entries == nil {
		entries = []models.TrainingEntry{}
	}
	response.Success(c, http.StatusOK, gin.H{"flagged": len(entries), "entries": entries})
}

// HandleExport handles POST /api/v1/training/export.
func (h *TrainingHandler) HandleExport(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "batchName is required", err.Error())
		return
	}
	items, err := h.curator.ExportBatch(c.Request.Context(), req.BatchName, req.Limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if items == nil {
		items = []models.ExportedItem{}
	}
	response.Success(c, http.StatusOK, gin.H{
		"batch": req.BatchName,
		"count": len(items),
		"items": items,
	})
}
