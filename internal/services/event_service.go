package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/models"
	apperrors "github.com/JulianCR82/agenda-backend/pkg/errors"
	"github.com/JulianCR82/agenda-backend/pkg/logger"
)

var (
	// ErrEventNotFound indicates the requested event does not exist.
	ErrEventNotFound = apperrors.New("EVENT_NOT_FOUND", "Event not found", http.StatusNotFound)
	// ErrEventImmutable indicates the event can no longer be modified.
	ErrEventImmutable = apperrors.New("EVENT_IMMUTABLE", "Event can no longer be modified", http.StatusConflict)
)

// CreateEventInput describes the fields accepted when scheduling an event.
type CreateEventInput struct {
	Title       string
	Description string
	Category    string
	StartsAt    time.Time
	EndsAt      time.Time
	CourseID    *string
	CreatorID   string
	Color       string
}

// UpdateEventInput enumerates mutable event attributes.
type UpdateEventInput struct {
	Title       *string
	Description *string
	Category    *string
	StartsAt    *time.Time
	EndsAt      *time.Time
	Status      *string
	Color       *string
}

// ListEventsInput defines filters for querying events visible to a user.
type ListEventsInput struct {
	UserID   string
	Category string
	Status   string
	CourseID string
	From     *time.Time
	To       *time.Time
}

// EventService manages calendar events and their recipient audiences.
type EventService struct {
	db            *gorm.DB
	courses       *CourseService
	notifications *NotificationService
}

// NewEventService constructs an EventService instance.
func NewEventService(db *gorm.DB, courses *CourseService, notifications *NotificationService) (*EventService, error) {
	if db == nil {
		return nil, errors.New("event service: db is required")
	}
	if courses == nil {
		return nil, errors.New("event service: course service is required")
	}
	return &EventService{db: db, courses: courses, notifications: notifications}, nil
}

// Create schedules an event. Course events require ownership of the course and
// fan out to the enrolled roster; personal events target only their creator.
func (s *EventService) Create(ctx context.Context, input CreateEventInput) (*models.Event, error) {
	ctx = ensureContext(ctx)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("title is required")
	}
	creatorID := strings.TrimSpace(input.CreatorID)
	if creatorID == "" {
		return nil, apperrors.NewBadRequest("creator id is required")
	}
	category := defaultIfEmpty(strings.TrimSpace(input.Category), models.EventCategoryOther)
	if !models.ValidEventCategory(category) {
		return nil, apperrors.NewBadRequest("invalid event category")
	}
	if input.StartsAt.IsZero() {
		return nil, apperrors.NewBadRequest("starts_at is required")
	}

	endsAt := input.EndsAt
	if endsAt.IsZero() {
		endsAt = input.StartsAt.Add(time.Hour)
	}
	if !endsAt.After(input.StartsAt) {
		return nil, apperrors.NewBadRequest("ends_at must be after starts_at")
	}

	event := &models.Event{
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Category:    category,
		StartsAt:    input.StartsAt.UTC(),
		EndsAt:      endsAt.UTC(),
		Status:      models.EventStatusPending,
		CreatorID:   creatorID,
		Color:       strings.TrimSpace(input.Color),
	}

	var recipientIDs []string
	if input.CourseID != nil && strings.TrimSpace(*input.CourseID) != "" {
		courseID := strings.TrimSpace(*input.CourseID)
		course, err := s.courses.loadCourse(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if course.TeacherID != creatorID {
			return nil, apperrors.NewForbidden("only the course teacher can schedule course events")
		}

		event.CourseID = &courseID
		event.CourseEvent = true
		event.Color = defaultIfEmpty(event.Color, defaultIfEmpty(course.Color, models.DefaultEventColor))

		for _, student := range course.Students {
			recipientIDs = append(recipientIDs, student.ID)
		}
	} else {
		event.Color = defaultIfEmpty(event.Color, models.DefaultEventColor)
		recipientIDs = []string{creatorID}
	}
	recipientIDs = normaliseIDs(recipientIDs)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		if len(recipientIDs) > 0 {
			recipients := make([]models.User, 0, len(recipientIDs))
			for _, id := range recipientIDs {
				recipients = append(recipients, models.User{BaseModel: models.BaseModel{ID: id}})
			}
			if err := tx.Model(event).Association("Recipients").Append(&recipients); err != nil {
				return fmt.Errorf("attach recipients: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("event service: %w", err)
	}

	if event.CourseEvent {
		s.notifyRecipients(ctx, event, recipientIDs, models.NotificationEventCreated,
			fmt.Sprintf("Nuevo evento: %s", event.Title),
			fmt.Sprintf("Se ha programado %s para el %s", event.Title, event.StartsAt.Format("02/01/2006 15:04")))
	}

	return event, nil
}

// ListMine returns every event the user created or is a recipient of.
func (s *EventService) ListMine(ctx context.Context, input ListEventsInput) ([]models.Event, error) {
	ctx = ensureContext(ctx)

	query := s.visibleEvents(ctx, input.UserID)
	if category := strings.TrimSpace(input.Category); category != "" {
		query = query.Where("events.category = ?", category)
	}
	if status := strings.TrimSpace(input.Status); status != "" {
		query = query.Where("events.status = ?", status)
	}
	if courseID := strings.TrimSpace(input.CourseID); courseID != "" {
		query = query.Where("events.course_id = ?", courseID)
	}
	if input.From != nil {
		query = query.Where("events.starts_at >= ?", input.From.UTC())
	}
	if input.To != nil {
		query = query.Where("events.starts_at <= ?", input.To.UTC())
	}

	var events []models.Event
	if err := query.Order("events.starts_at ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("event service: list events: %w", err)
	}
	return events, nil
}

// ListUpcoming returns future, non-cancelled events visible to the user. A
// positive horizon bounds how far ahead to look; a positive limit caps the
// result set.
func (s *EventService) ListUpcoming(ctx context.Context, userID string, now time.Time, horizon time.Duration, limit int) ([]models.Event, error) {
	ctx = ensureContext(ctx)

	query := s.visibleEvents(ctx, userID).
		Where("events.starts_at >= ? AND events.status <> ?", now.UTC(), models.EventStatusCancelled)
	if horizon > 0 {
		query = query.Where("events.starts_at <= ?", now.UTC().Add(horizon))
	}
	query = query.Order("events.starts_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.Event
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("event service: list upcoming events: %w", err)
	}
	return events, nil
}

// ListPast returns events that already ended, most recent first.
func (s *EventService) ListPast(ctx context.Context, userID string, now time.Time) ([]models.Event, error) {
	ctx = ensureContext(ctx)

	var events []models.Event
	if err := s.visibleEvents(ctx, userID).
		Where("events.ends_at < ?", now.UTC()).
		Order("events.starts_at DESC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("event service: list past events: %w", err)
	}
	return events, nil
}

// ListForCourse returns the course calendar for the teacher or an enrolled student.
func (s *EventService) ListForCourse(ctx context.Context, courseID, requesterID string) ([]models.Event, error) {
	ctx = ensureContext(ctx)

	if _, err := s.courses.Get(ctx, courseID, requesterID); err != nil {
		return nil, err
	}

	var events []models.Event
	if err := s.db.WithContext(ctx).
		Preload("Course").
		Where("course_id = ?", courseID).
		Order("starts_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("event service: list course events: %w", err)
	}
	return events, nil
}

// Get loads an event if the requester created it, receives it, or teaches its course.
func (s *EventService) Get(ctx context.Context, eventID, requesterID string) (*models.Event, error) {
	ctx = ensureContext(ctx)

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !s.canView(event, requesterID) {
		return nil, apperrors.ErrForbidden
	}
	return event, nil
}

// Update mutates an event. Only its creator may do so. Recipients are notified
// when schedule-relevant fields change.
func (s *EventService) Update(ctx context.Context, eventID, requesterID string, input UpdateEventInput) (*models.Event, error) {
	ctx = ensureContext(ctx)

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.CreatorID != requesterID {
		return nil, apperrors.NewForbidden("only the event creator can modify it")
	}

	updates := map[string]any{}
	rescheduled := false

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, apperrors.NewBadRequest("title cannot be empty")
		}
		updates["title"] = title
		event.Title = title
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
		event.Description = strings.TrimSpace(*input.Description)
	}
	if input.Category != nil {
		if !models.ValidEventCategory(*input.Category) {
			return nil, apperrors.NewBadRequest("invalid event category")
		}
		updates["category"] = *input.Category
		event.Category = *input.Category
	}
	if input.Status != nil {
		if !models.ValidEventStatus(*input.Status) {
			return nil, apperrors.NewBadRequest("invalid event status")
		}
		updates["status"] = *input.Status
		event.Status = *input.Status
	}
	if input.Color != nil {
		updates["color"] = strings.TrimSpace(*input.Color)
		event.Color = strings.TrimSpace(*input.Color)
	}

	startsAt := event.StartsAt
	endsAt := event.EndsAt
	if input.StartsAt != nil {
		startsAt = input.StartsAt.UTC()
		rescheduled = true
	}
	if input.EndsAt != nil {
		endsAt = input.EndsAt.UTC()
		rescheduled = true
	}
	if rescheduled {
		if !endsAt.After(startsAt) {
			return nil, apperrors.NewBadRequest("ends_at must be after starts_at")
		}
		updates["starts_at"] = startsAt
		updates["ends_at"] = endsAt
		// A rescheduled event is eligible for reminders again.
		updates["reminder_sent"] = false
		event.StartsAt = startsAt
		event.EndsAt = endsAt
		event.ReminderSent = false
	}

	if len(updates) == 0 {
		return event, nil
	}

	if err := s.db.WithContext(ctx).Model(event).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("event service: update event: %w", err)
	}

	if event.CourseEvent {
		recipientIDs, err := s.recipientIDs(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		kind := models.NotificationEventUpdated
		title := fmt.Sprintf("Evento actualizado: %s", event.Title)
		message := fmt.Sprintf("%s ha sido actualizado", event.Title)
		if event.Status == models.EventStatusCancelled {
			kind = models.NotificationEventCancelled
			title = fmt.Sprintf("Evento cancelado: %s", event.Title)
			message = fmt.Sprintf("%s ha sido cancelado", event.Title)
		}
		s.notifyRecipients(ctx, event, recipientIDs, kind, title, message)
	}

	return event, nil
}

// Complete marks an event as completed. The creator or any recipient may do
// so, letting students tick off their own course events.
func (s *EventService) Complete(ctx context.Context, eventID, requesterID string) (*models.Event, error) {
	ctx = ensureContext(ctx)

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !s.canView(event, requesterID) {
		return nil, apperrors.NewForbidden("only the event creator or a recipient can complete it")
	}
	if event.Status == models.EventStatusCancelled {
		return nil, ErrEventImmutable
	}

	if err := s.db.WithContext(ctx).Model(event).
		Update("status", models.EventStatusCompleted).Error; err != nil {
		return nil, fmt.Errorf("event service: complete event: %w", err)
	}
	event.Status = models.EventStatusCompleted
	return event, nil
}

// Delete removes an event and notifies course recipients of the cancellation.
func (s *EventService) Delete(ctx context.Context, eventID, requesterID string) error {
	ctx = ensureContext(ctx)

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.CreatorID != requesterID {
		return apperrors.NewForbidden("only the event creator can delete it")
	}

	var recipientIDs []string
	if event.CourseEvent {
		recipientIDs, err = s.recipientIDs(ctx, event.ID)
		if err != nil {
			return err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(event).Association("Recipients").Clear(); err != nil {
			return fmt.Errorf("clear recipients: %w", err)
		}
		if err := tx.Delete(event).Error; err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("event service: %w", err)
	}

	if event.CourseEvent {
		s.notifyRecipients(ctx, event, recipientIDs, models.NotificationEventCancelled,
			fmt.Sprintf("Evento cancelado: %s", event.Title),
			fmt.Sprintf("%s ha sido cancelado", event.Title))
	}
	return nil
}

// RecipientIDs returns the audience user IDs for an event.
func (s *EventService) RecipientIDs(ctx context.Context, eventID string) ([]string, error) {
	return s.recipientIDs(ensureContext(ctx), eventID)
}

func (s *EventService) recipientIDs(ctx context.Context, eventID string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Table("event_recipients").
		Where("event_id = ?", eventID).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("event service: load recipients: %w", err)
	}
	return ids, nil
}

func (s *EventService) visibleEvents(ctx context.Context, userID string) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.Event{}).
		Preload("Course").
		Distinct("events.*").
		Joins("LEFT JOIN event_recipients er ON er.event_id = events.id").
		Where("events.creator_id = ? OR er.user_id = ?", userID, userID)
}

func (s *EventService) canView(event *models.Event, requesterID string) bool {
	if event.CreatorID == requesterID {
		return true
	}
	for _, recipient := range event.Recipients {
		if recipient.ID == requesterID {
			return true
		}
	}
	if event.Course != nil && event.Course.TeacherID == requesterID {
		return true
	}
	return false
}

func (s *EventService) loadEvent(ctx context.Context, eventID string) (*models.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, apperrors.NewBadRequest("event id is required")
	}

	var event models.Event
	if err := s.db.WithContext(ctx).
		Preload("Course").
		Preload("Recipients").
		First(&event, "id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("event service: load event: %w", err)
	}
	return &event, nil
}

// notifyRecipients creates one notification per recipient. Individual failures
// are logged and skipped so one bad row never blocks the rest of the audience.
func (s *EventService) notifyRecipients(ctx context.Context, event *models.Event, recipientIDs []string, kind, title, message string) {
	if s.notifications == nil {
		return
	}

	eventID := event.ID
	for _, userID := range recipientIDs {
		input := CreateNotificationInput{
			UserID:   userID,
			Type:     kind,
			Title:    title,
			Message:  message,
			EventID:  &eventID,
			CourseID: event.CourseID,
		}
		if _, err := s.notifications.Create(ctx, input); err != nil {
			logger.WithModule("events").Warn("failed to notify recipient",
				zap.Error(err), zap.String("event_id", event.ID), zap.String("user_id", userID))
		}
	}
}
