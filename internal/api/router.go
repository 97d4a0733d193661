package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/api/handlers"
	"github.com/VinByte365/Project-Pamada-sub000/internal/api/middleware"
	"github.com/VinByte365/Project-Pamada-sub000/internal/api/response"
	"github.com/VinByte365/Project-Pamada-sub000/internal/config"
	"github.com/VinByte365/Project-Pamada-sub000/pkg/auth"
)

const serviceName = "pamada-scan-api"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers are the route handlers mounted under /api/v1.
type Handlers struct {
	Scans     *handlers.ScanHandler
	Plants    *handlers.PlantHandler
	Analytics *handlers.AnalyticsHandler
	Training  *handlers.TrainingHandler
	// DB, when set, is pinged by /health.
	DB Pinger
}

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(cfg *config.Config, h Handlers, logger *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.CorrelationMiddleware())
	r.Use(middleware.LoggingMiddleware(logger, serviceName))

	r.GET("/health", healthHandler(h.DB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if !cfg.IsProduction() {
		r.POST("/dev/token", devTokenHandler(cfg))
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(&cfg.JWT))
	{
		scans := v1.Group("/scans")
		scans.POST("", h.Scans.HandleCreate)
		scans.GET("", h.Scans.HandleList)
		scans.GET("/ml-health", h.Scans.HandleMLHealth)
		scans.GET("/plant/:plantId", h.Scans.HandleListByPlant)
		scans.GET("/:id", h.Scans.HandleGet)
		scans.PUT("/:id", h.Scans.HandleInject)
		scans.DELETE("/:id", h.Scans.HandleDelete)
		scans.POST("/:id/analyze", h.Scans.HandleAnalyze)

		plants := v1.Group("/plants")
		plants.POST("", h.Plants.HandleCreate)
		plants.GET("", h.Plants.HandleList)
		plants.GET("/:id", h.Plants.HandleGet)
		plants.PUT("/:id", h.Plants.HandleUpdate)

		analytics := v1.Group("/analytics")
		analytics.GET("", h.Analytics.HandleRange)
		analytics.GET("/daily", h.Analytics.HandleDaily)
		analytics.GET("/weekly", h.Analytics.HandleWeekly)
		analytics.GET("/monthly", h.Analytics.HandleMonthly)
		analytics.GET("/summary", h.Analytics.HandleSummary)

		// Dataset curation requires a reviewer role
		training := v1.Group("/training", middleware.RequireRole(auth.RoleAdmin, auth.RoleCurator))
		training.GET("", h.Training.HandleList)
		training.POST("", h.Training.HandleSeed)
		training.GET("/pending", h.Training.HandlePending)
		training.GET("/stats", h.Training.HandleStats)
		training.POST("/auto-flag", h.Training.HandleAutoFlag)
		training.POST("/export", h.Training.HandleExport)
		training.PUT("/:id/validate", h.Training.HandleValidate)
		training.PUT("/:id/reject", h.Training.HandleReject)
	}

	return r
}

func healthHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		code := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": serviceName,
		})
	}
}

// devTokenHandler mints bearer tokens for local development. It is not
// mounted in production.
func devTokenHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id"`
			Role   string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request", nil)
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			response.BadRequest(c, "invalid user_id", nil)
			return
		}
		switch req.Role {
		case "":
			req.Role = auth.RoleUser
		case auth.RoleUser, auth.RoleCurator, auth.RoleAdmin:
		default:
			response.BadRequest(c, "role must be user, curator or admin", nil)
			return
		}

		token, err := auth.GenerateToken(cfg.JWT.Secret, cfg.JWT.Issuer, userID, req.Role, cfg.JWT.ExpiryHours)
		if err != nil {
			response.InternalError(c, "failed to generate token")
			return
		}

		response.Success(c, http.StatusOK, gin.H{"token": token})
	}
}
