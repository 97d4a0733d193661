package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/api/middleware"
	"github.com/VinByte365/Project-Pamada-sub000/internal/api/response"
	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
	"github.com/VinByte365/Project-Pamada-sub000/internal/orchestrator"
	"github.com/VinByte365/Project-Pamada-sub000/internal/reconcile"
	"github.com/VinByte365/Project-Pamada-sub000/internal/repository"
)

const (
	defaultAppVersion   = "1.0.0"
	idempotencyScanType = "scan"
)

// ScanRepo is the scan persistence used by the HTTP layer.
type ScanRepo interface {
	Create(ctx context.Context, scan *models.Scan) error
	GetForUser(ctx context.Context, userID, scanID uuid.UUID) (*models.Scan, error)
	List(ctx context.Context, f models.ScanFilter) ([]models.Scan, int, error)
	Delete(ctx context.Context, userID, scanID uuid.UUID) (*models.Scan, error)
}

// PlantLookup resolves a plant owned by the caller.
type PlantLookup interface {
	GetByID(ctx context.Context, ownerID, plantID uuid.UUID) (*models.Plant, error)
}

// ImageStore keeps uploaded scan images.
type ImageStore interface {
	Upload(ctx context.Context, userID uuid.UUID, data []byte) (*models.ImageRef, error)
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore claims Idempotency-Key headers.
type IdempotencyStore interface {
	Claim(ctx context.Context, userID uuid.UUID, key, resourceType string, resourceID uuid.UUID) (*repository.IdempotencyResult, error)
	Release(ctx context.Context, userID uuid.UUID, key, resourceType string) error
}

// ScanAnalyzer runs analysis attempts inline.
type ScanAnalyzer interface {
	Analyze(ctx context.Context, scanID uuid.UUID) (*orchestrator.Result, error)
	Retrigger(ctx context.Context, userID, scanID uuid.UUID) (*orchestrator.Result, error)
	Inject(ctx context.Context, userID, scanID uuid.UUID, patch reconcile.ScanPatch) (*models.Scan, error)
}

// AnalysisQueue hands scans to the background workers.
type AnalysisQueue interface {
	Submit(scanID uuid.UUID) error
}

// InferenceHealth reports whether the inference service answers.
type InferenceHealth interface {
	HealthCheck(ctx context.Context) bool
	BaseURL() string
}

// ScanHandler serves the /scans routes.
type ScanHandler struct {
	scans         ScanRepo
	plants        PlantLookup
	images        ImageStore
	idempotency   IdempotencyStore
	analyzer      ScanAnalyzer
	queue         AnalysisQueue
	health        InferenceHealth
	modelVersion  string
	maxUploadSize int64
	now           func() time.Time
	logger        *zap.Logger
}

// ScanHandlerDeps groups the collaborators of a ScanHandler.
type ScanHandlerDeps struct {
	Scans         ScanRepo
	Plants        PlantLookup
	Images        ImageStore
	Idempotency   IdempotencyStore
	Analyzer      ScanAnalyzer
	Queue         AnalysisQueue
	Health        InferenceHealth
	ModelVersion  string
	MaxUploadSize int64
	Logger        *zap.Logger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(deps ScanHandlerDeps) *ScanHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanHandler{
		scans:         deps.Scans,
		plants:        deps.Plants,
		images:        deps.Images,
		idempotency:   deps.Idempotency,
		analyzer:      deps.Analyzer,
		queue:         deps.Queue,
		health:        deps.Health,
		modelVersion:  deps.ModelVersion,
		maxUploadSize: deps.MaxUploadSize,
		now:           time.Now,
		logger:        logger.With(zap.String("handler", "scan")),
	}
}

// HandleCreate handles POST /api/v1/scans.
func (h *ScanHandler) HandleCreate(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	scanID := uuid.New()

	idempotencyKey := c.GetHeader("Idempotency-Key")
	if idempotencyKey != "" {
		claim, err := h.idempotency.Claim(ctx, userID, idempotencyKey, idempotencyScanType, scanID)
		if err != nil {
			response.FromError(c, apperr.Wrap(apperr.KindInternal, "scan.Create", err))
			return
		}
		if claim.AlreadyExists {
			existing, _ := h.scans.GetForUser(ctx, userID, claim.ResourceID)
			response.Duplicate(c, "duplicate scan (idempotency key match)", existing)
			return
		}
	}

	scan, err := h.create(c, userID, scanID)
	if err != nil {
		if idempotencyKey != "" {
			if rerr := h.idempotency.Release(context.WithoutCancel(ctx), userID, idempotencyKey, idempotencyScanType); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		response.FromError(c, err)
		return
	}

	if c.Query("sync") == "true" {
		if _, err := h.analyzer.Analyze(ctx, scan.ID); err != nil {
			var aerr *orchestrator.AnalysisError
			if !errors.As(err, &aerr) {
				response.FromError(c, err)
				return
			}
			// The scan exists; its status and last_error describe the failure.
			h.logger.Warn("inline analysis failed",
				zap.String("scan_id", scan.ID.String()),
				zap.String("status", string(aerr.Status)),
				zap.Error(aerr.Err),
			)
		}
		if fresh, err := h.scans.GetForUser(ctx, userID, scan.ID); err == nil && fresh != nil {
			scan = fresh
		}
		response.Success(c, http.StatusCreated, scan)
		return
	}

	if err := h.queue.Submit(scan.ID); err != nil {
		// The dispatcher records the rejection on the scan.
		h.logger.Warn("scan not queued for analysis", zap.String("scan_id", scan.ID.String()), zap.Error(err))
		if fresh, ferr := h.scans.GetForUser(ctx, userID, scan.ID); ferr == nil && fresh != nil {
			scan = fresh
		}
	}
	response.Success(c, http.StatusCreated, scan)
}

func (h *ScanHandler) create(c *gin.Context, userID, scanID uuid.UUID) (*models.Scan, error) {
	const op = "scan.Create"
	ctx := c.Request.Context()

	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	plantID, err := uuid.Parse(c.PostForm("plant_id"))
	if err != nil {
		return nil, apperr.Validation(op, "plant_id must be a valid UUID")
	}
	plant, err := h.plants.GetByID(ctx, userID, plantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if plant == nil {
		return nil, apperr.NotFound(op, "plant %s not found", plantID)
	}

	data, err := readFormFile(c, "image")
	if err != nil {
		return nil, err
	}
	image, err := h.images.Upload(ctx, userID, data)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, op, fmt.Errorf("store image: %w", err))
	}

	appVersion := c.PostForm("app_version")
	if appVersion == "" {
		appVersion = defaultAppVersion
	}
	now := h.now().UTC()
	scan := &models.Scan{
		ID:       scanID,
		ScanCode: newScanCode(now),
		PlantID:  plant.ID,
		UserID:   userID,
		Status:   models.ScanQueued,
		Image:    *image,
		Metadata: models.ScanMetadata{
			DeviceType:   c.PostForm("device_type"),
			AppVersion:   appVersion,
			ModelVersion: h.modelVersion,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.scans.Create(ctx, scan); err != nil {
		if derr := h.images.Delete(context.WithoutCancel(ctx), image.StorageKey); derr != nil {
			h.logger.Warn("failed to remove orphaned image", zap.String("key", image.StorageKey), zap.Error(derr))
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	h.logger.Info("scan created",
		zap.String("scan_id", scan.ID.String()),
		zap.String("plant_id", plant.ID.String()),
		zap.Int64("file_size", image.FileSize),
	)
	return scan, nil
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	const op = "scan.readFormFile"

	fh, err := c.FormFile(field)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperr.Validation(op, "image exceeds %d bytes", maxErr.Limit)
		}
		return nil, apperr.Validation(op, "%s field is required", field)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return data, nil
}

// HandleList handles GET /api/v1/scans.
func (h *ScanHandler) HandleList(c *gin.Context) {
	userID := middleware.UserID(c)
	page, limit := pagination(c)

	f := models.ScanFilter{UserID: &userID, Page: page, Limit: limit}
	if v := c.Query("plant_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid plant_id", nil)
			return
		}
		f.PlantID = &id
	}
	if v := c.Query("status"); v != "" {
		status := models.ScanStatus(v)
		if !status.Valid() {
			response.BadRequest(c, fmt.Sprintf("unknown status %q", v), nil)
			return
		}
		f.Status = &status
	}
	if v := c.Query("disease_detected"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(c, "disease_detected must be true or false", nil)
			return
		}
		f.DiseaseDetected = &b
	}

	h.list(c, f)
}

// HandleListByPlant handles GET /api/v1/scans/plant/:plantId.
func (h *ScanHandler) HandleListByPlant(c *gin.Context) {
	userID := middleware.UserID(c)
	plantID, err := uuid.Parse(c.Param("plantId"))
	if err != nil {
		response.BadRequest(c, "invalid plant ID", nil)
		return
	}
	plant, err := h.plants.GetByID(c.Request.Context(), userID, plantID)
	if err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "scan.ListByPlant", err))
		return
	}
	if plant == nil {
		response.NotFound(c, "plant not found")
		return
	}

	page, limit := pagination(c)
	h.list(c, models.ScanFilter{UserID: &userID, PlantID: &plantID, Page: page, Limit: limit})
}

func (h *ScanHandler) list(c *gin.Context, f models.ScanFilter) {
	scans, total, err := h.scans.List(c.Request.Context(), f)
	if err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "scan.List", err))
		return
	}
	if scans == nil {
		scans = []models.Scan{}
	}
	response.Paged(c, scans, f.Page, f.Limit, total)
}

// HandleGet handles GET /api/v1/scans/:id.
func (h *ScanHandler) HandleGet(c *gin.Context) {
	scanID, ok := pathID(c)
	if !ok {
		return
	}
	scan, err := h.scans.GetForUser(c.Request.Context(), middleware.UserID(c), scanID)
	if err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "scan.Get", err))
		return
	}
	if scan == nil {
		response.NotFound(c, "scan not found")
		return
	}
	response.Success(c, http.StatusOK, scan)
}

// HandleInject handles PUT /api/v1/scans/:id.
func (h *ScanHandler) HandleInject(c *gin.Context) {
	scanID, ok := pathID(c)
	if !ok {
		return
	}
	var patch reconcile.ScanPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	scan, err := h.analyzer.Inject(c.Request.Context(), middleware.UserID(c), scanID, patch)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, scan)
}

// HandleDelete handles DELETE /api/v1/scans/:id.
func (h *ScanHandler) HandleDelete(c *gin.Context) {
	scanID, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	scan, err := h.scans.Delete(ctx, middleware.UserID(c), scanID)
	if err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "scan.Delete", err))
		return
	}
	if scan == nil {
		response.NotFound(c, "scan not found")
		return
	}
	if scan.Image.StorageKey != "" {
		if err := h.images.Delete(context.WithoutCancel(ctx), scan.Image.StorageKey); err != nil {
			h.logger.Warn("failed to delete scan image", zap.String("key", scan.Image.StorageKey), zap.Error(err))
		}
	}
	response.Success(c, http.StatusOK, gin.H{"id": scan.ID, "deleted": true})
}

// HandleAnalyze handles POST /api/v1/scans/:id/analyze.
func (h *ScanHandler) HandleAnalyze(c *gin.Context) {
	scanID, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	id, status := scanID, models.ScanCompleted
	result, err := h.analyzer.Retrigger(ctx, userID, scanID)
	if err != nil {
		var aerr *orchestrator.AnalysisError
		if !errors.As(err, &aerr) {
			response.FromError(c, err)
			return
		}
		// The attempt ran; the scan's status and last_error describe the failure.
		h.logger.Warn("re-analysis failed",
			zap.String("scan_id", scanID.String()),
			zap.String("status", string(aerr.Status)),
			zap.Error(aerr.Err),
		)
		status = aerr.Status
	} else {
		id, status = result.ScanID, result.Status
	}
	scan, err := h.scans.GetForUser(ctx, userID, scanID)
	if err != nil || scan == nil {
		response.Success(c, http.StatusOK, gin.H{"id": id, "status": status})
		return
	}
	response.Success(c, http.StatusOK, scan)
}

// HandleMLHealth handles GET /api/v1/scans/ml-health.
func (h *ScanHandler) HandleMLHealth(c *gin.Context) {
	healthy := h.health.HealthCheck(c.Request.Context())
	status := "unavailable"
	if healthy {
		status = "ok"
	}
	response.Success(c, http.StatusOK, gin.H{
		"status":        status,
		"healthy":       healthy,
		"ml_server_url": h.health.BaseURL(),
		"model_version": h.modelVersion,
	})
}
