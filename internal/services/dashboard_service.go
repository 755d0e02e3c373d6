package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/models"
)

// dueSoonHorizon bounds the assignment/exam lookahead on the student dashboard.
const dueSoonHorizon = 72 * time.Hour

// StudentDashboard aggregates the figures shown on a student's landing page.
type StudentDashboard struct {
	EnrolledCourses     int64          `json:"enrolled_courses"`
	PendingRequests     int64          `json:"pending_requests"`
	TodayEvents         int64          `json:"today_events"`
	UpcomingEvents      int64          `json:"upcoming_events"`
	PendingEvents       int64          `json:"pending_events"`
	CompletedEvents     int64          `json:"completed_events"`
	UnreadNotifications int64          `json:"unread_notifications"`
	NextEvents          []models.Event `json:"next_events"`
	DueSoon             []models.Event `json:"due_soon"`
}

// TeacherDashboard aggregates the figures shown on a teacher's landing page.
type TeacherDashboard struct {
	Courses             int64          `json:"courses"`
	TotalStudents       int64          `json:"total_students"`
	PendingJoinRequests int64          `json:"pending_join_requests"`
	TodayEvents         int64          `json:"today_events"`
	UpcomingEvents      int64          `json:"upcoming_events"`
	RemindersSent       int64          `json:"reminders_sent"`
	RemindersPending    int64          `json:"reminders_pending"`
	UnreadNotifications int64          `json:"unread_notifications"`
	NextEvents          []models.Event `json:"next_events"`
}

// DashboardService computes per-role aggregate views.
type DashboardService struct {
	db            *gorm.DB
	events        *EventService
	notifications *NotificationService
}

// NewDashboardService constructs a DashboardService instance.
func NewDashboardService(db *gorm.DB, events *EventService, notifications *NotificationService) (*DashboardService, error) {
	if db == nil {
		return nil, errors.New("dashboard service: db is required")
	}
	if events == nil {
		return nil, errors.New("dashboard service: event service is required")
	}
	if notifications == nil {
		return nil, errors.New("dashboard service: notification service is required")
	}
	return &DashboardService{db: db, events: events, notifications: notifications}, nil
}

// ForStudent builds the student dashboard.
func (s *DashboardService) ForStudent(ctx context.Context, studentID string, now time.Time) (*StudentDashboard, error) {
	ctx = ensureContext(ctx)
	dash := &StudentDashboard{}

	if err := s.db.WithContext(ctx).
		Table("course_students").
		Where("user_id = ?", studentID).
		Count(&dash.EnrolledCourses).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count enrollments: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Table("course_join_requests").
		Where("user_id = ?", studentID).
		Count(&dash.PendingRequests).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count join requests: %w", err)
	}

	upcoming, err := s.events.ListUpcoming(ctx, studentID, now, 7*24*time.Hour, 0)
	if err != nil {
		return nil, err
	}
	dash.UpcomingEvents = int64(len(upcoming))
	dash.NextEvents = truncateEvents(upcoming, 5)

	dayStart, dayEnd := dayBounds(now)
	if err := s.visibleEvents(ctx, studentID).
		Where("starts_at >= ? AND starts_at < ?", dayStart, dayEnd).
		Count(&dash.TodayEvents).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count today events: %w", err)
	}

	if err := s.visibleEvents(ctx, studentID).
		Where("status = ?", models.EventStatusPending).
		Count(&dash.PendingEvents).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count pending events: %w", err)
	}
	if err := s.visibleEvents(ctx, studentID).
		Where("status = ?", models.EventStatusCompleted).
		Count(&dash.CompletedEvents).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count completed events: %w", err)
	}

	if err := s.visibleEvents(ctx, studentID).
		Where("category IN ?", []string{models.EventCategoryAssignment, models.EventCategoryExam}).
		Where("starts_at >= ? AND starts_at <= ? AND status <> ?",
			now.UTC(), now.UTC().Add(dueSoonHorizon), models.EventStatusCancelled).
		Order("starts_at ASC").
		Find(&dash.DueSoon).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: list due soon: %w", err)
	}

	unread, err := s.notifications.UnreadCount(ctx, studentID)
	if err != nil {
		return nil, err
	}
	dash.UnreadNotifications = unread

	return dash, nil
}

// ForTeacher builds the teacher dashboard.
func (s *DashboardService) ForTeacher(ctx context.Context, teacherID string, now time.Time) (*TeacherDashboard, error) {
	ctx = ensureContext(ctx)
	dash := &TeacherDashboard{}

	if err := s.db.WithContext(ctx).
		Model(&models.Course{}).
		Where("teacher_id = ?", teacherID).
		Count(&dash.Courses).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count courses: %w", err)
	}

	ownCourses := s.db.Model(&models.Course{}).Select("id").Where("teacher_id = ?", teacherID)

	if err := s.db.WithContext(ctx).
		Table("course_students").
		Where("course_id IN (?)", ownCourses).
		Distinct("user_id").
		Count(&dash.TotalStudents).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count students: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Table("course_join_requests").
		Where("course_id IN (?)", ownCourses).
		Count(&dash.PendingJoinRequests).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count join requests: %w", err)
	}

	upcoming, err := s.events.ListUpcoming(ctx, teacherID, now, 7*24*time.Hour, 0)
	if err != nil {
		return nil, err
	}
	dash.UpcomingEvents = int64(len(upcoming))
	dash.NextEvents = truncateEvents(upcoming, 5)

	dayStart, dayEnd := dayBounds(now)
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("creator_id = ? AND starts_at >= ? AND starts_at < ?", teacherID, dayStart, dayEnd).
		Count(&dash.TodayEvents).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count today events: %w", err)
	}

	courseEvents := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("creator_id = ? AND course_event = ?", teacherID, true)
	if err := courseEvents.Session(&gorm.Session{}).
		Where("reminder_sent = ?", true).
		Count(&dash.RemindersSent).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count reminders sent: %w", err)
	}
	if err := courseEvents.Session(&gorm.Session{}).
		Where("reminder_sent = ? AND starts_at >= ? AND status <> ?",
			false, now.UTC(), models.EventStatusCancelled).
		Count(&dash.RemindersPending).Error; err != nil {
		return nil, fmt.Errorf("dashboard service: count reminders pending: %w", err)
	}

	unread, err := s.notifications.UnreadCount(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	dash.UnreadNotifications = unread

	return dash, nil
}

// visibleEvents scopes event queries to those the user created or receives.
// Built on a subquery instead of a join so it composes with Count.
func (s *DashboardService) visibleEvents(ctx context.Context, userID string) *gorm.DB {
	recipientOf := s.db.Table("event_recipients").Select("event_id").Where("user_id = ?", userID)
	return s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("creator_id = ? OR id IN (?)", userID, recipientOf)
}

func dayBounds(now time.Time) (time.Time, time.Time) {
	utc := now.UTC()
	start := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func truncateEvents(events []models.Event, limit int) []models.Event {
	if len(events) <= limit {
		return events
	}
	return events[:limit]
}
