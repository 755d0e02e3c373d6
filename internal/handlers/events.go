package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JulianCR82/agenda-backend/internal/services"
	"github.com/JulianCR82/agenda-backend/pkg/response"
)

// EventHandler exposes HTTP endpoints for calendar events.
type EventHandler struct {
	events *services.EventService
	now    func() time.Time
}

// NewEventHandler constructs an event handler.
func NewEventHandler(events *services.EventService) (*EventHandler, error) {
	return &EventHandler{events: events, now: time.Now}, nil
}

type createEventRequest struct {
	Title       string     `json:"title" validate:"required,min=1,max=200"`
	Description string     `json:"description" validate:"max=2000"`
	Category    string     `json:"category" validate:"omitempty,oneof=class exam assignment meeting other"`
	StartsAt    time.Time  `json:"starts_at" validate:"required"`
	EndsAt      *time.Time `json:"ends_at"`
	CourseID    *string    `json:"course_id"`
	Color       string     `json:"color" validate:"max=16"`
}

type updateEventRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	Category    *string    `json:"category" validate:"omitempty,oneof=class exam assignment meeting other"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Status      *string    `json:"status" validate:"omitempty,oneof=pending completed cancelled"`
	Color       *string    `json:"color" validate:"omitempty,max=16"`
}

// Create schedules a personal or course event.
func (h *EventHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var payload createEventRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	input := services.CreateEventInput{
		Title:       payload.Title,
		Description: payload.Description,
		Category:    payload.Category,
		StartsAt:    payload.StartsAt,
		CourseID:    payload.CourseID,
		CreatorID:   userID,
		Color:       payload.Color,
	}
	if payload.EndsAt != nil {
		input.EndsAt = *payload.EndsAt
	}

	event, err := h.events.Create(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, event)
}

// Mine lists events visible to the calling user, with optional filters.
func (h *EventHandler) Mine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	input := services.ListEventsInput{
		UserID:   userID,
		Category: c.Query("category"),
		Status:   c.Query("status"),
		CourseID: c.Query("course_id"),
	}
	if from, ok := parseTimeQuery(c, "from"); ok {
		input.From = &from
	}
	if to, ok := parseTimeQuery(c, "to"); ok {
		input.To = &to
	}

	events, err := h.events.ListMine(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, events, &response.Meta{Total: len(events)})
}

// Upcoming lists future, non-cancelled events for the calling user within the
// next ?days (default 7), capped at ?limit entries (default 10).
func (h *EventHandler) Upcoming(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	days := parseIntQuery(c, "days", 7)
	limit := parseIntQuery(c, "limit", 10)

	events, err := h.events.ListUpcoming(requestContext(c), userID, h.now(), time.Duration(days)*24*time.Hour, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, events, &response.Meta{Total: len(events)})
}

// Past lists events that already ended for the calling user.
func (h *EventHandler) Past(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	events, err := h.events.ListPast(requestContext(c), userID, h.now())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, events, &response.Meta{Total: len(events)})
}

// ForCourse lists the calendar of a single course.
func (h *EventHandler) ForCourse(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	events, err := h.events.ListForCourse(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, events, &response.Meta{Total: len(events)})
}

// Get returns a single event.
func (h *EventHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	event, err := h.events.Get(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, event)
}

// Update mutates an event owned by the calling user.
func (h *EventHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var payload updateEventRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	event, err := h.events.Update(requestContext(c), c.Param("id"), userID, services.UpdateEventInput{
		Title:       payload.Title,
		Description: payload.Description,
		Category:    payload.Category,
		StartsAt:    payload.StartsAt,
		EndsAt:      payload.EndsAt,
		Status:      payload.Status,
		Color:       payload.Color,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, event)
}

// Complete marks an event as completed.
func (h *EventHandler) Complete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	event, err := h.events.Complete(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, event)
}

// Delete removes an event owned by the calling user.
func (h *EventHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.events.Delete(requestContext(c), c.Param("id"), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, bool) {
	value := c.Query(key)
	if value == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
