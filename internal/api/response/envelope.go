package response

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// Envelope is the standard API response wrapper.
type Envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
	Meta   Meta       `json:"meta"`
}

// ErrorBody holds error details in the response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta holds response metadata.
type Meta struct {
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
	Page          *Page  `json:"page,omitempty"`
}

// Page describes a paginated list.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

func newMeta(c *gin.Context) Meta {
	corrID, _ := c.Get("correlation_id")
	corrIDStr, ok := corrID.(string)
	if !ok {
		corrIDStr = uuid.New().String()
	}
	return Meta{
		CorrelationID: corrIDStr,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// Success sends a successful response.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Envelope{
		Status: "success",
		Data:   data,
		Meta:   newMeta(c),
	})
}

// Paged sends one page of a list.
func Paged(c *gin.Context, data any, page, limit, total int) {
	meta := newMeta(c)
	meta.Page = &Page{Page: page, Limit: limit, Total: total}
	c.JSON(http.StatusOK, Envelope{
		Status: "success",
		Data:   data,
		Meta:   meta,
	})
}

// Error sends an error response.
func Error(c *gin.Context, statusCode int, code, message string, details any) {
	c.AbortWithStatusJSON(statusCode, Envelope{
		Status: "error",
		Error: &ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: newMeta(c),
	})
}

// FromError maps a service error onto the response. Validation failures
// carry their field list; internal errors are logged and hidden.
func FromError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	var details any
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		details = verr.Fields
	}

	message := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		message = ae.Message
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if kind == apperr.KindInternal {
			message = "internal error"
		}
	}
	_ = c.Error(err)
	Error(c, status, string(kind), message, details)
}

// Duplicate sends a 409 carrying the resource an idempotency key already
// created.
func Duplicate(c *gin.Context, message string, data any) {
	c.AbortWithStatusJSON(http.StatusConflict, Envelope{
		Status: "success",
		Data:   data,
		Error: &ErrorBody{
			Code:    "DUPLICATE",
			Message: message,
		},
		Meta: newMeta(c),
	})
}

// BadRequest sends a 400 error.
func BadRequest(c *gin.Context, message string, details any) {
	Error(c, http.StatusBadRequest, string(apperr.KindValidation), message, details)
}

// NotFound sends a 404 error.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, string(apperr.KindNotFound), message, nil)
}

// InternalError sends a 500 error.
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, string(apperr.KindInternal), message, nil)
}

// Unauthorized sends a 401 error.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// Forbidden sends a 403 error.
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, "FORBIDDEN", message, nil)
}
