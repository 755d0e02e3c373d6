package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JulianCR82/agenda-backend/internal/middleware"
	"github.com/JulianCR82/agenda-backend/internal/models"
	"github.com/JulianCR82/agenda-backend/internal/services"
	"github.com/JulianCR82/agenda-backend/pkg/errors"
	"github.com/JulianCR82/agenda-backend/pkg/response"
)

// DashboardHandler exposes per-role aggregate views.
type DashboardHandler struct {
	dashboards *services.DashboardService
	now        func() time.Time
}

// NewDashboardHandler constructs a dashboard handler.
func NewDashboardHandler(dashboards *services.DashboardService) (*DashboardHandler, error) {
	return &DashboardHandler{dashboards: dashboards, now: time.Now}, nil
}

// Overview dispatches to the role-specific dashboard of the calling user.
func (h *DashboardHandler) Overview(c *gin.Context) {
	switch c.GetString(middleware.CtxRoleKey) {
	case models.RoleTeacher:
		h.Teacher(c)
	case models.RoleStudent:
		h.Student(c)
	default:
		response.Error(c, errors.ErrForbidden)
	}
}

// Student returns the student dashboard.
func (h *DashboardHandler) Student(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	overview, err := h.dashboards.ForStudent(requestContext(c), userID, h.now())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, overview)
}

// Teacher returns the teacher dashboard.
func (h *DashboardHandler) Teacher(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	overview, err := h.dashboards.ForTeacher(requestContext(c), userID, h.now())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, overview)
}
