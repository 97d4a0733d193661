package handlers

import (
	"context"
	"fmt"
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
)

const defaultVariety = "Aloe barbadensis Miller"

// PlantRepo is the plant persistence used by the HTTP layer.
type PlantRepo interface {
	Create(ctx context.Context, plant *models.Plant) error
	GetByID(ctx context.Context, ownerID, plantID uuid.UUID) (*models.Plant, error)
	List(ctx context.Context, f models.PlantFilter) ([]models.Plant, int, error)
	UpdateDetails(ctx context.Context, plant *models.Plant) error
}

// PlantRequest carries the owner-editable plant fields.
type PlantRequest struct {
	PlantingDate *time.Time           `json:"planting_date"`
	Location     models.PlantLocation `json:"location"`
	Metadata     models.PlantMetadata `json:"metadata"`
}

// PlantHandler serves the /plants routes.
type PlantHandler struct {
	plants PlantRepo
	now    func() time.Time
	logger *zap.Logger
}

// NewPlantHandler creates a new plant handler.
func NewPlantHandler(plants PlantRepo, logger *zap.Logger) *PlantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlantHandler{plants: plants, now: time.Now, logger: logger.With(zap.String("handler", "plant"))}
}

// HandleCreate handles POST /api/v1/plants.
func (h *PlantHandler) HandleCreate(c *gin.Context) {
	var req PlantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	if err := models.Validate(req); err != nil {
		response.FromError(c, err)
		return
	}

	now := h.now().UTC()
	plant := &models.Plant{
		ID:            uuid.New(),
		PlantCode:     newPlantCode(now),
		OwnerID:       middleware.UserID(c),
		PlantingDate:  now,
		Location:      req.Location,
		Metadata:      req.Metadata,
		CurrentStatus: models.DefaultPlantStatus(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.PlantingDate != nil {
		plant.PlantingDate = req.PlantingDate.UTC()
	}
	if plant.Metadata.Variety == "" {
		plant.Metadata.Variety = defaultVariety
	}

	if err := h.plants.Create(c.Request.Context(), plant); err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "plant.Create", err))
		return
	}
	h.logger.Info("plant created", zap.String("plant_id", plant.ID.String()), zap.String("plant_code", plant.PlantCode))
	response.Success(c, http.StatusCreated, plant)
}

// HandleList handles GET /api/v1/plants.
func (h *PlantHandler) HandleList(c *gin.Context) {
	page, limit := pagination(c)
	f := models.PlantFilter{
		OwnerID: middleware.UserID(c),
		Search:  c.Query("search"),
		Page:    page,
		Limit:   limit,
	}
	if v := c.Query("harvest_ready"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(c, "harvest_ready must be true or false", nil)
			return
		}
		f.HarvestReady = &b
	}
	if v := c.Query("severity"); v != "" {
		sev := models.Severity(v)
		switch sev {
		case models.SeverityNone, models.SeverityMild, models.SeverityModerate, models.SeveritySevere:
		default:
			response.BadRequest(c, fmt.Sprintf("unknown severity %q", v), nil)
			return
		}
		f.Severity = &sev
	}

	plants, total, err := h.plants.List(c.Request.Context(), f)
	if err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "plant.List", err))
		return
	}
	if plants == nil {
		plants = []models.Plant{}
	}
	response.Paged(c, plants, page, limit, total)
}

// HandleGet handles GET /api/v1/plants/:id.
func (h *PlantHandler) HandleGet(c *gin.Context) {
	plantID, ok := pathID(c)
	if !ok {
		return
	}
	plant, err := h.plants.GetByID(c.Request.Context(), middleware.UserID(c), plantID)
	if err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "plant.Get", err))
		return
	}
	if plant == nil {
		response.NotFound(c, "plant not found")
		return
	}
	response.Success(c, http.StatusOK, plant)
}

// HandleUpdate handles PUT /api/v1/plants/:id. current_status is read-only
// here; only the reconciler writes it.
func (h *PlantHandler) HandleUpdate(c *gin.Context) {
	plantID, ok := pathID(c)
	if !ok {
		return
	}
	var req PlantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	if err := models.Validate(req); err != nil {
		response.FromError(c, err)
		return
	}

	ctx := c.Request.Context()
	plant, err := h.plants.GetByID(ctx, middleware.UserID(c), plantID)
	if err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "plant.Update", err))
		return
	}
	if plant == nil {
		response.NotFound(c, "plant not found")
		return
	}

	if req.PlantingDate != nil {
		plant.PlantingDate = req.PlantingDate.UTC()
	}
	plant.Location = req.Location
	plant.Metadata = req.Metadata
	if plant.Metadata.Variety == "" {
		plant.Metadata.Variety = defaultVariety
	}

	if err := h.plants.UpdateDetails(ctx, plant); err != nil {
		response.FromError(c, apperr.Wrap(apperr.KindInternal, "plant.Update", err))
		return
	}
	response.Success(c, http.StatusOK, plant)
}
