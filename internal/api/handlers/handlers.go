package handlers

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/VinByte365/Project-Pamada-sub000/internal/api/response"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	codeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// pagination reads page and limit with defaults and bounds applied.
func pagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// pathID parses the :id parameter, answering 400 when it is malformed.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func randomCode(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// newScanCode returns a display code like SCAN-1718000000000-K3QZ9X.
func newScanCode(now time.Time) string {
	return fmt.Sprintf("SCAN-%d-%s", now.UnixMilli(), randomCode(6))
}

// newPlantCode returns a display code like ALV-2024-7HQ2.
func newPlantCode(now time.Time) string {
	return fmt.Sprintf("ALV-%d-%s", now.Year(), randomCode(4))
}
