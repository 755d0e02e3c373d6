package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/services"
	"github.com/JulianCR82/agenda-backend/pkg/response"
)

// CourseHandler exposes HTTP endpoints for courses and enrollment.
type CourseHandler struct {
	courses *services.CourseService
}

// NewCourseHandler constructs a course handler.
func NewCourseHandler(db *gorm.DB, notifications *services.NotificationService) (*CourseHandler, error) {
	courses, err := services.NewCourseService(db, notifications)
	if err != nil {
		return nil, err
	}
	return &CourseHandler{courses: courses}, nil
}

// Service exposes the underlying course service for cross-handler wiring.
func (h *CourseHandler) Service() *services.CourseService {
	return h.courses
}

type createCourseRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=160"`
	Description string `json:"description" validate:"max=2000"`
	Duration    string `json:"duration" validate:"max=60"`
	Color       string `json:"color" validate:"max=16"`
}

// Create registers a new course owned by the calling teacher.
func (h *CourseHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var payload createCourseRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	course, err := h.courses.Create(requestContext(c), services.CreateCourseInput{
		Name:        payload.Name,
		Description: payload.Description,
		Duration:    payload.Duration,
		Color:       payload.Color,
		TeacherID:   userID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, course)
}

// Mine lists the calling teacher's courses.
func (h *CourseHandler) Mine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	courses, err := h.courses.ListForTeacher(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, courses, &response.Meta{Total: len(courses)})
}

// Enrolled lists the calling student's accepted courses.
func (h *CourseHandler) Enrolled(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	courses, err := h.courses.ListEnrolled(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, courses, &response.Meta{Total: len(courses)})
}

// Search finds courses by name or code.
func (h *CourseHandler) Search(c *gin.Context) {
	courses, err := h.courses.Search(requestContext(c), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, courses, &response.Meta{Total: len(courses)})
}

// Available lists courses the calling student can still apply to.
func (h *CourseHandler) Available(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	courses, err := h.courses.ListAvailable(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, courses, &response.Meta{Total: len(courses)})
}

// Get returns a single course with its roster.
func (h *CourseHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	course, err := h.courses.Get(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, course)
}

// Join files a join request from the calling student.
func (h *CourseHandler) Join(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.courses.RequestJoin(requestContext(c), c.Param("id"), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"requested": true})
}

// Requests lists the pending applicants for the teacher's course.
func (h *CourseHandler) Requests(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	applicants, err := h.courses.PendingRequests(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, applicants, &response.Meta{Total: len(applicants)})
}

// Accept approves a pending join request.
func (h *CourseHandler) Accept(c *gin.Context) {
	h.resolveRequest(c, true)
}

// Reject discards a pending join request.
func (h *CourseHandler) Reject(c *gin.Context) {
	h.resolveRequest(c, false)
}

func (h *CourseHandler) resolveRequest(c *gin.Context, accept bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	courseID := c.Param("id")
	studentID := strings.TrimSpace(c.Param("studentId"))

	var err error
	if accept {
		err = h.courses.AcceptRequest(requestContext(c), courseID, userID, studentID)
	} else {
		err = h.courses.RejectRequest(requestContext(c), courseID, userID, studentID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"accepted": accept})
}

// Students lists the course roster.
func (h *CourseHandler) Students(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	roster, err := h.courses.Students(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, roster, &response.Meta{Total: len(roster)})
}
