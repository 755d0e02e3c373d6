package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/JulianCR82/agenda-backend/internal/auth"
	"github.com/JulianCR82/agenda-backend/internal/notifications"
	"github.com/JulianCR82/agenda-backend/internal/services"
	"github.com/JulianCR82/agenda-backend/pkg/errors"
	"github.com/JulianCR82/agenda-backend/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for notifications.
type NotificationHandler struct {
	service *services.NotificationService
	hub     *notifications.Hub
	jwt     *iauth.JWTService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(db *gorm.DB, hub *notifications.Hub, jwt *iauth.JWTService) (*NotificationHandler, error) {
	service, err := services.NewNotificationService(db, hub)
	if err != nil {
		return nil, err
	}
	return &NotificationHandler{
		service: service,
		hub:     hub,
		jwt:     jwt,
	}, nil
}

// Service exposes the underlying notification service for cross-handler wiring.
func (h *NotificationHandler) Service() *services.NotificationService {
	return h.service
}

type createNotificationRequest struct {
	UserID   string  `json:"user_id" validate:"required"`
	Type     string  `json:"type" validate:"required"`
	Title    string  `json:"title" validate:"required,min=1,max=200"`
	Message  string  `json:"message" validate:"max=2000"`
	EventID  *string `json:"event_id"`
	CourseID *string `json:"course_id"`
}

// Create records a manual notification for a user.
func (h *NotificationHandler) Create(c *gin.Context) {
	var payload createNotificationRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.service.Create(requestContext(c), services.CreateNotificationInput{
		UserID:   payload.UserID,
		Type:     payload.Type,
		Title:    payload.Title,
		Message:  payload.Message,
		EventID:  payload.EventID,
		CourseID: payload.CourseID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}

// List returns notifications for the current user with the unread count in meta.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	items, unread, err := h.service.ListForUser(requestContext(c), services.ListNotificationsInput{
		UserID:     userID,
		Type:       c.Query("type"),
		UnreadOnly: c.Query("unread") == "true",
		Limit:      parseIntQuery(c, "limit", 25),
		Offset:     parseIntQuery(c, "offset", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Total:  len(items),
		Unread: int(unread),
	})
}

// Unread returns the latest unread notifications with the total in meta.
func (h *NotificationHandler) Unread(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	items, unread, err := h.service.ListForUser(requestContext(c), services.ListNotificationsInput{
		UserID:     userID,
		UnreadOnly: true,
		Limit:      20,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Total:  len(items),
		Unread: int(unread),
	})
}

// Stats returns per-type notification totals.
func (h *NotificationHandler) Stats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	stats, err := h.service.Stats(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// MarkRead toggles a notification to read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	dto, err := h.service.MarkRead(requestContext(c), userID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}

// MarkAllRead marks all notifications read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.service.MarkAllRead(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// Delete removes a notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(requestContext(c), userID, strings.TrimSpace(c.Param("id"))); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// DeleteRead removes every read notification for the user.
func (h *NotificationHandler) DeleteRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	removed, err := h.service.DeleteRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": removed})
}

// Stream upgrades the connection to a WebSocket for notification streaming.
// Browsers cannot set headers on WebSocket requests, so the token may also
// arrive as a query parameter.
func (h *NotificationHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}

	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(claims.UserID, c.Writer, c.Request)
}
