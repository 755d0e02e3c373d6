package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/models"
	"github.com/JulianCR82/agenda-backend/internal/notifications"
	apperrors "github.com/JulianCR82/agenda-backend/pkg/errors"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	Type      string               `json:"type"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	EventID   *string              `json:"event_id,omitempty"`
	CourseID  *string              `json:"course_id,omitempty"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
	IsRead    bool                 `json:"is_read"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	ReadAt    *time.Time           `json:"read_at,omitempty"`
	Raw       *models.Notification `json:"-"`
}

// CreateNotificationInput defines attributes required to persist a notification.
type CreateNotificationInput struct {
	UserID   string
	Type     string
	Title    string
	Message  string
	EventID  *string
	CourseID *string
	Metadata map[string]any
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     string
	Type       string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationStats aggregates per-type counts for a user.
type NotificationStats struct {
	Total  int64            `json:"total"`
	Unread int64            `json:"unread"`
	ByType map[string]int64 `json:"by_type"`
}

// NotificationService manages user in-app notifications.
type NotificationService struct {
	db  *gorm.DB
	hub *notifications.Hub
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, hub *notifications.Hub) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db, hub: hub}, nil
}

// Create registers a new notification and broadcasts it to the recipient.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}
	kind := strings.TrimSpace(input.Type)
	if kind == "" {
		return nil, errors.New("notification service: type is required")
	}
	if !models.ValidNotificationType(kind) {
		return nil, apperrors.NewBadRequest("invalid notification type")
	}

	notification := models.Notification{
		UserID:   userID,
		Type:     kind,
		Title:    strings.TrimSpace(input.Title),
		Message:  strings.TrimSpace(input.Message),
		EventID:  input.EventID,
		CourseID: input.CourseID,
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		notification.Metadata = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	dto := mapNotification(notification)
	s.broadcast(userID, "notification.created", &dto, "")
	return &dto, nil
}

// ListForUser returns notifications ordered by recency plus the unread count.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, int64, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, 0, errors.New("notification service: user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if kind := strings.TrimSpace(input.Type); kind != "" {
		query = query.Where("type = ?", kind)
	}
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("notification service: list notifications: %w", err)
	}

	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	return mapNotificationRows(rows), unread, nil
}

// UnreadCount returns the number of unread notifications for the user.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: count unread: %w", err)
	}
	return count, nil
}

// Stats aggregates notification totals per type for the user.
func (s *NotificationService) Stats(ctx context.Context, userID string) (*NotificationStats, error) {
	ctx = ensureContext(ctx)

	stats := &NotificationStats{ByType: make(map[string]int64)}

	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ?", userID).
		Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("notification service: count total: %w", err)
	}

	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.Unread = unread

	type typeCount struct {
		Type  string
		Count int64
	}
	var counts []typeCount
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Select("type, COUNT(*) as count").
		Where("user_id = ?", userID).
		Group("type").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("notification service: count by type: %w", err)
	}
	for _, row := range counts {
		stats.ByType[row.Type] = row.Count
	}

	return stats, nil
}

// MarkRead sets the notification read flag for a user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&notification).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		}).Error; err != nil {
		return nil, fmt.Errorf("notification service: mark read: %w", err)
	}

	notification.IsRead = true
	notification.ReadAt = &now
	dto := mapNotification(notification)

	s.broadcast(userID, "notification.read", &dto, notification.ID)
	return &dto, nil
}

// MarkAllRead marks all notifications for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		}).Error; err != nil {
		return fmt.Errorf("notification service: mark all read: %w", err)
	}

	s.broadcast(userID, "notification.read_all", nil, "")
	return nil
}

// Delete removes a notification owned by the supplied user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	s.broadcast(userID, "notification.deleted", nil, notificationID)
	return nil
}

// DeleteRead removes every read notification for the user and reports how many were removed.
func (s *NotificationService) DeleteRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, true).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: delete read notifications: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.broadcast(userID, "notification.deleted_read", nil, "")
	}
	return result.RowsAffected, nil
}

func (s *NotificationService) broadcast(userID, event string, dto *NotificationDTO, notificationID string) {
	if s.hub == nil {
		return
	}
	payload := notifications.Event{
		Event:          event,
		NotificationID: notificationID,
	}
	if dto != nil {
		payload.Notification = dto
	}
	s.hub.Broadcast(userID, payload)
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.Type,
		Title:     row.Title,
		Message:   row.Message,
		EventID:   row.EventID,
		CourseID:  row.CourseID,
		Metadata:  decodeJSON(row.Metadata),
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		ReadAt:    row.ReadAt,
		Raw:       &row,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
