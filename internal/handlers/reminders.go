package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JulianCR82/agenda-backend/internal/reminders"
	"github.com/JulianCR82/agenda-backend/pkg/response"
)

// ReminderHandler exposes HTTP endpoints over the reminder scheduler.
type ReminderHandler struct {
	scheduler *reminders.Scheduler
}

// NewReminderHandler constructs a reminder handler.
func NewReminderHandler(scheduler *reminders.Scheduler) (*ReminderHandler, error) {
	return &ReminderHandler{scheduler: scheduler}, nil
}

// Process triggers a scan pass immediately.
func (h *ReminderHandler) Process(c *gin.Context) {
	result, err := h.scheduler.RunScan(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// Pending lists upcoming events still awaiting reminders, annotated with the
// time remaining before each one starts.
func (h *ReminderHandler) Pending(c *gin.Context) {
	pending, err := h.scheduler.Pending(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, pending, &response.Meta{Total: len(pending)})
}

// Mine lists the reminder notifications delivered to the calling user.
func (h *ReminderHandler) Mine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	rows, err := h.scheduler.ForUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, rows, &response.Meta{Total: len(rows)})
}

// Send dispatches a reminder for one event immediately.
func (h *ReminderHandler) Send(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.scheduler.ForceSend(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ForEvent lists the reminders dispatched for one event.
func (h *ReminderHandler) ForEvent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	rows, err := h.scheduler.ForEvent(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, rows, &response.Meta{Total: len(rows)})
}

// ResetEvent clears the reminder flag on a single event.
func (h *ReminderHandler) ResetEvent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.scheduler.ResetEvent(requestContext(c), c.Param("id"), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

// Reset triggers the reminder flag reset pass immediately.
func (h *ReminderHandler) Reset(c *gin.Context) {
	count, err := h.scheduler.RunReset(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": count})
}

// Stats returns aggregate reminder figures.
func (h *ReminderHandler) Stats(c *gin.Context) {
	stats, err := h.scheduler.Overview(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}
