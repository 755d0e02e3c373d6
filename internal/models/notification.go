package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification types form a closed set.
const (
	NotificationEventCreated    = "event_created"
	NotificationEventReminder   = "event_reminder"
	NotificationEventUpdated    = "event_updated"
	NotificationEventCancelled  = "event_cancelled"
	NotificationRequestAccepted = "request_accepted"
	NotificationRequestRejected = "request_rejected"
	NotificationOther           = "other"
)

// Notification represents an in-app message delivered to one recipient.
// Rows are immutable after creation except for the read state.
type Notification struct {
	BaseModel

	UserID  string `gorm:"type:uuid;not null;index" json:"user_id"`
	Type    string `gorm:"type:varchar(32);not null;index" json:"type"`
	Title   string `gorm:"type:varchar(255);not null" json:"title"`
	Message string `gorm:"type:text" json:"message"`

	// Optional links back to the originating entities for client navigation.
	EventID  *string `gorm:"type:uuid;index" json:"event_id"`
	Event    *Event  `json:"event,omitempty"`
	CourseID *string `gorm:"type:uuid" json:"course_id"`
	Course   *Course `json:"course,omitempty"`

	Metadata datatypes.JSON `json:"metadata"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}

// ValidNotificationType reports whether the value belongs to the type set.
func ValidNotificationType(kind string) bool {
	switch kind {
	case NotificationEventCreated, NotificationEventReminder, NotificationEventUpdated,
		NotificationEventCancelled, NotificationRequestAccepted,
		NotificationRequestRejected, NotificationOther:
		return true
	}
	return false
}
