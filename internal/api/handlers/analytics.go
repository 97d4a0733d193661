package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/VinByte365/Project-Pamada-sub000/internal/api/middleware"
	"github.com/VinByte365/Project-Pamada-sub000/internal/api/response"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
	"github.com/VinByte365/Project-Pamada-sub000/pkg/auth"
)

const defaultRangeDays = 30

// Analytics is the rollup service behind the /analytics routes.
type Analytics interface {
	Location() *time.Location
	AggregateDaily(ctx context.Context, date time.Time, userID *uuid.UUID) (*models.AnalyticsSnapshot, error)
	AggregateWeekly(ctx context.Context, weekStart time.Time, userID *uuid.UUID) (*models.PeriodSummary, error)
	AggregateMonthly(ctx context.Context, year int, month time.Month, userID *uuid.UUID) (*models.PeriodSummary, error)
	AggregateRange(ctx context.Context, from, to time.Time, period models.Period, userID *uuid.UUID) ([]models.PeriodSummary, error)
	Summary(ctx context.Context, userID uuid.UUID) (*models.DashboardSummary, error)
}

// AnalyticsHandler serves the /analytics routes.
type AnalyticsHandler struct {
	analytics Analytics
	now       func() time.Time
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(analytics Analytics) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, now: time.Now}
}

// scope returns the user filter for the request. Admins may pass
// scope=global to aggregate across every user.
func (h *AnalyticsHandler) scope(c *gin.Context) (*uuid.UUID, bool) {
	if c.Query("scope") == "global" {
		if middleware.Role(c) != auth.RoleAdmin {
			response.Forbidden(c, "global analytics require the admin role")
			return nil, false
		}
		return nil, true
	}
	userID := middleware.UserID(c)
	return &userID, true
}

func (h *AnalyticsHandler) parseDate(c *gin.Context, param string, fallback time.Time) (time.Time, bool) {
	v := c.Query(param)
	if v == "" {
		return fallback, true
	}
	t, err := time.ParseInLocation(time.DateOnly, v, h.analytics.Location())
	if err != nil {
		response.BadRequest(c, fmt.Sprintf("%s must be YYYY-MM-DD", param), nil)
		return time.Time{}, false
	}
	return t, true
}

// HandleRange handles GET /api/v1/analytics.
func (h *AnalyticsHandler) HandleRange(c *gin.Context) {
	userID, ok := h.scope(c)
	if !ok {
		return
	}
	period, valid := models.ParsePeriod(c.Query("period"))
	if !valid {
		response.BadRequest(c, "period must be day, week or month", nil)
		return
	}

	today := h.now().In(h.analytics.Location())
	to, ok := h.parseDate(c, "endDate", today)
	if !ok {
		return
	}
	from, ok := h.parseDate(c, "startDate", to.AddDate(0, 0, -(defaultRangeDays-1)))
	if !ok {
		return
	}

	buckets, err := h.analytics.AggregateRange(c.Request.Context(), from, to, period, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"period":  period,
		"start":   from.Format(time.DateOnly),
		"end":     to.Format(time.DateOnly),
		"buckets": buckets,
	})
}

// HandleDaily handles GET /api/v1/analytics/daily.
func (h *AnalyticsHandler) HandleDaily(c *gin.Context) {
	userID, ok := h.scope(c)
	if !ok {
		return
	}
	date, ok := h.parseDate(c, "date", h.now().In(h.analytics.Location()))
	if !ok {
		return
	}
	snapshot, err := h.analytics.AggregateDaily(c.Request.Context(), date, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}

// HandleWeekly handles GET /api/v1/analytics/weekly.
func (h *AnalyticsHandler) HandleWeekly(c *gin.Context) {
	userID, ok := h.scope(c)
	if !ok {
		return
	}
	today := h.now().In(h.analytics.Location())
	sunday := today.AddDate(0, 0, -int(today.Weekday()))
	weekStart, ok := h.parseDate(c, "weekStart", sunday)
	if !ok {
		return
	}
	summary, err := h.analytics.AggregateWeekly(c.Request.Context(), weekStart, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// HandleMonthly handles GET /api/v1/analytics/monthly.
func (h *AnalyticsHandler) HandleMonthly(c *gin.Context) {
	userID, ok := h.scope(c)
	if !ok {
		return
	}
	today := h.now().In(h.analytics.Location())
	year, month := today.Year(), int(today.Month())
	if v := c.Query("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "year must be a number", nil)
			return
		}
		year = y
	}
	if v := c.Query("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "month must be a number", nil)
			return
		}
		month = m
	}
	summary, err := h.analytics.AggregateMonthly(c.Request.Context(), year, time.Month(month), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// HandleSummary handles GET /api/v1/analytics/summary.
func (h *AnalyticsHandler) HandleSummary(c *gin.Context) {
	summary, err := h.analytics.Summary(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}
