package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/models"
	apperrors "github.com/JulianCR82/agenda-backend/pkg/errors"
	"github.com/JulianCR82/agenda-backend/pkg/logger"
)

var (
	// ErrCourseNotFound indicates the requested course does not exist.
	ErrCourseNotFound = apperrors.New("COURSE_NOT_FOUND", "Course not found", http.StatusNotFound)
	// ErrAlreadyEnrolled indicates the student already belongs to the course.
	ErrAlreadyEnrolled = apperrors.New("ALREADY_ENROLLED", "Already enrolled in this course", http.StatusConflict)
	// ErrRequestPending indicates a join request is already awaiting review.
	ErrRequestPending = apperrors.New("REQUEST_PENDING", "Join request already pending", http.StatusConflict)
	// ErrNoJoinRequest indicates the student has no pending request for the course.
	ErrNoJoinRequest = apperrors.New("NO_JOIN_REQUEST", "No pending join request for this student", http.StatusNotFound)
)

const courseCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CreateCourseInput describes the fields accepted when creating a course.
type CreateCourseInput struct {
	Name        string
	Description string
	Duration    string
	Color       string
	TeacherID   string
}

// CourseService manages courses, enrollment and the join-request workflow.
type CourseService struct {
	db            *gorm.DB
	notifications *NotificationService
}

// NewCourseService constructs a CourseService instance.
func NewCourseService(db *gorm.DB, notifications *NotificationService) (*CourseService, error) {
	if db == nil {
		return nil, errors.New("course service: db is required")
	}
	return &CourseService{db: db, notifications: notifications}, nil
}

// Create registers a new course owned by the supplied teacher.
func (s *CourseService) Create(ctx context.Context, input CreateCourseInput) (*models.Course, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("name is required")
	}
	teacherID := strings.TrimSpace(input.TeacherID)
	if teacherID == "" {
		return nil, apperrors.NewBadRequest("teacher id is required")
	}

	course := &models.Course{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Duration:    strings.TrimSpace(input.Duration),
		Color:       strings.TrimSpace(input.Color),
		TeacherID:   teacherID,
	}

	// Retry on the rare chance a generated code collides with an existing one.
	for attempt := 0; attempt < 3; attempt++ {
		code, err := generateCourseCode(6)
		if err != nil {
			return nil, fmt.Errorf("course service: generate code: %w", err)
		}
		course.Code = code

		err = s.db.WithContext(ctx).Create(course).Error
		if err == nil {
			return course, nil
		}
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("course service: create course: %w", err)
		}
		course.ID = ""
	}

	return nil, fmt.Errorf("course service: create course: code collisions exhausted retries")
}

// ListForTeacher returns the courses owned by the teacher, students preloaded.
func (s *CourseService) ListForTeacher(ctx context.Context, teacherID string) ([]models.Course, error) {
	ctx = ensureContext(ctx)

	var courses []models.Course
	if err := s.db.WithContext(ctx).
		Preload("Students").
		Preload("JoinRequests").
		Where("teacher_id = ?", teacherID).
		Order("created_at DESC").
		Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("course service: list teacher courses: %w", err)
	}
	return courses, nil
}

// ListEnrolled returns the courses the student has been accepted into.
func (s *CourseService) ListEnrolled(ctx context.Context, studentID string) ([]models.Course, error) {
	ctx = ensureContext(ctx)

	var courses []models.Course
	if err := s.db.WithContext(ctx).
		Preload("Teacher").
		Joins("JOIN course_students cs ON cs.course_id = courses.id").
		Where("cs.user_id = ?", studentID).
		Order("courses.created_at DESC").
		Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("course service: list enrolled courses: %w", err)
	}
	return courses, nil
}

// Search returns courses whose name or code matches the query.
func (s *CourseService) Search(ctx context.Context, query string) ([]models.Course, error) {
	ctx = ensureContext(ctx)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewBadRequest("search query is required")
	}

	pattern := "%" + strings.ToLower(query) + "%"
	var courses []models.Course
	if err := s.db.WithContext(ctx).
		Preload("Teacher").
		Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ?", pattern, pattern).
		Order("name ASC").
		Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("course service: search courses: %w", err)
	}
	return courses, nil
}

// ListAvailable returns courses the student is neither enrolled in nor has requested to join.
func (s *CourseService) ListAvailable(ctx context.Context, studentID string) ([]models.Course, error) {
	ctx = ensureContext(ctx)

	var courses []models.Course
	if err := s.db.WithContext(ctx).
		Preload("Teacher").
		Where("id NOT IN (?)",
			s.db.Table("course_students").Select("course_id").Where("user_id = ?", studentID)).
		Where("id NOT IN (?)",
			s.db.Table("course_join_requests").Select("course_id").Where("user_id = ?", studentID)).
		Order("created_at DESC").
		Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("course service: list available courses: %w", err)
	}
	return courses, nil
}

// Get loads a course with its teacher and roster. Only the owning teacher or
// an enrolled student may view it.
func (s *CourseService) Get(ctx context.Context, courseID, requesterID string) (*models.Course, error) {
	ctx = ensureContext(ctx)

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if course.TeacherID != requesterID && !rosterContains(course.Students, requesterID) {
		return nil, apperrors.ErrForbidden
	}
	return course, nil
}

// RequestJoin files a join request from the student for the course.
func (s *CourseService) RequestJoin(ctx context.Context, courseID, studentID string) error {
	ctx = ensureContext(ctx)

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if rosterContains(course.Students, studentID) {
		return ErrAlreadyEnrolled
	}
	if rosterContains(course.JoinRequests, studentID) {
		return ErrRequestPending
	}

	student := models.User{BaseModel: models.BaseModel{ID: studentID}}
	if err := s.db.WithContext(ctx).Model(course).
		Association("JoinRequests").Append(&student); err != nil {
		return fmt.Errorf("course service: add join request: %w", err)
	}
	return nil
}

// PendingRequests lists the students awaiting approval for the teacher's course.
func (s *CourseService) PendingRequests(ctx context.Context, courseID, teacherID string) ([]models.User, error) {
	ctx = ensureContext(ctx)

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.TeacherID != teacherID {
		return nil, apperrors.ErrForbidden
	}
	return course.JoinRequests, nil
}

// AcceptRequest moves a pending applicant onto the course roster and notifies them.
func (s *CourseService) AcceptRequest(ctx context.Context, courseID, teacherID, studentID string) error {
	return s.resolveRequest(ctx, courseID, teacherID, studentID, true)
}

// RejectRequest discards a pending applicant and notifies them.
func (s *CourseService) RejectRequest(ctx context.Context, courseID, teacherID, studentID string) error {
	return s.resolveRequest(ctx, courseID, teacherID, studentID, false)
}

// Students lists the course roster for the owning teacher or an enrolled student.
func (s *CourseService) Students(ctx context.Context, courseID, requesterID string) ([]models.User, error) {
	course, err := s.Get(ctx, courseID, requesterID)
	if err != nil {
		return nil, err
	}
	return course.Students, nil
}

// RosterIDs returns the user IDs enrolled in the course.
func (s *CourseService) RosterIDs(ctx context.Context, courseID string) ([]string, error) {
	ctx = ensureContext(ctx)

	var ids []string
	if err := s.db.WithContext(ctx).
		Table("course_students").
		Where("course_id = ?", courseID).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("course service: load roster: %w", err)
	}
	return ids, nil
}

func (s *CourseService) resolveRequest(ctx context.Context, courseID, teacherID, studentID string, accept bool) error {
	ctx = ensureContext(ctx)

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course.TeacherID != teacherID {
		return apperrors.ErrForbidden
	}
	if !rosterContains(course.JoinRequests, studentID) {
		return ErrNoJoinRequest
	}

	student := models.User{BaseModel: models.BaseModel{ID: studentID}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(course).Association("JoinRequests").Delete(&student); err != nil {
			return fmt.Errorf("remove join request: %w", err)
		}
		if accept {
			if err := tx.Model(course).Association("Students").Append(&student); err != nil {
				return fmt.Errorf("enroll student: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("course service: resolve join request: %w", err)
	}

	s.notifyRequestResolved(ctx, course, studentID, accept)
	return nil
}

func (s *CourseService) notifyRequestResolved(ctx context.Context, course *models.Course, studentID string, accepted bool) {
	if s.notifications == nil {
		return
	}

	kind := models.NotificationRequestAccepted
	title := "Solicitud aceptada"
	message := fmt.Sprintf("Tu solicitud para unirte a %s fue aceptada", course.Name)
	if !accepted {
		kind = models.NotificationRequestRejected
		title = "Solicitud rechazada"
		message = fmt.Sprintf("Tu solicitud para unirte a %s fue rechazada", course.Name)
	}

	courseID := course.ID
	if _, err := s.notifications.Create(ctx, CreateNotificationInput{
		UserID:   studentID,
		Type:     kind,
		Title:    title,
		Message:  message,
		CourseID: &courseID,
	}); err != nil {
		logger.WithModule("courses").Warn("failed to notify join request resolution",
			zap.Error(err), zap.String("course_id", course.ID), zap.String("student_id", studentID))
	}
}

func (s *CourseService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, apperrors.NewBadRequest("course id is required")
	}

	var course models.Course
	if err := s.db.WithContext(ctx).
		Preload("Teacher").
		Preload("Students").
		Preload("JoinRequests").
		First(&course, "id = ?", courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("course service: load course: %w", err)
	}
	return &course, nil
}

func rosterContains(users []models.User, userID string) bool {
	for _, user := range users {
		if user.ID == userID {
			return true
		}
	}
	return false
}

func generateCourseCode(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	for i, b := range buffer {
		buffer[i] = courseCodeAlphabet[int(b)%len(courseCodeAlphabet)]
	}
	return string(buffer), nil
}
