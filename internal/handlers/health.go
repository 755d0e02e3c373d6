package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/pkg/response"
)

// HealthHandler reports process and database liveness.
type HealthHandler struct {
	db      *gorm.DB
	started time.Time
}

// NewHealthHandler constructs a health handler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db, started: time.Now()}
}

// Check responds with the service status and database reachability.
func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(requestContext(c))
		}
		if err != nil {
			status = "degraded"
			dbStatus = "unreachable"
		}
	} else {
		status = "degraded"
		dbStatus = "not configured"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	response.Success(c, code, gin.H{
		"status":   status,
		"database": dbStatus,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}
