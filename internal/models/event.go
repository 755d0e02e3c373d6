package models

import "time"

// Event categories form a closed set.
const (
	EventCategoryClass      = "class"
	EventCategoryExam       = "exam"
	EventCategoryAssignment = "assignment"
	EventCategoryMeeting    = "meeting"
	EventCategoryOther      = "other"
)

// Event lifecycle states.
const (
	EventStatusPending   = "pending"
	EventStatusCompleted = "completed"
	EventStatusCancelled = "cancelled"
)

// DefaultEventColor is applied when neither the request nor the course supply one.
const DefaultEventColor = "#3B82F6"

// Event is a scheduled, time-bounded occurrence with a recipient audience.
// Course events are created by teachers and fan out to enrolled students;
// personal events target only their creator.
type Event struct {
	BaseModel

	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description"`
	Category    string `gorm:"type:varchar(16);default:'other'" json:"category"`

	StartsAt time.Time `gorm:"not null;index" json:"starts_at"`
	EndsAt   time.Time `gorm:"not null;index" json:"ends_at"`

	Status string `gorm:"type:varchar(16);default:'pending';index" json:"status"`

	// ReminderSent flips to true once the scheduler has dispatched reminders
	// for this event; the daily reset pass clears it after the event ends.
	ReminderSent bool `gorm:"default:false;index" json:"reminder_sent"`

	CourseID *string `gorm:"type:uuid;index" json:"course_id"`
	Course   *Course `json:"course,omitempty"`

	CreatorID string `gorm:"type:uuid;not null;index" json:"creator_id"`
	Creator   *User  `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`

	CourseEvent bool `gorm:"default:false" json:"course_event"`

	Recipients []User `gorm:"many2many:event_recipients;" json:"recipients,omitempty"`

	Color string `gorm:"type:varchar(16)" json:"color"`
}

// ValidEventCategory reports whether the value belongs to the category set.
func ValidEventCategory(category string) bool {
	switch category {
	case EventCategoryClass, EventCategoryExam, EventCategoryAssignment,
		EventCategoryMeeting, EventCategoryOther:
		return true
	}
	return false
}

// ValidEventStatus reports whether the value belongs to the status set.
func ValidEventStatus(status string) bool {
	switch status {
	case EventStatusPending, EventStatusCompleted, EventStatusCancelled:
		return true
	}
	return false
}
