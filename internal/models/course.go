package models

import "time"

// Course groups a teacher with enrolled students and their scheduled events.
type Course struct {
	BaseModel

	Name        string `gorm:"not null" json:"name"`
	Code        string `gorm:"uniqueIndex;not null" json:"code"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
	Color       string `gorm:"type:varchar(16)" json:"color"`

	TeacherID string `gorm:"type:uuid;not null;index" json:"teacher_id"`
	Teacher   *User  `gorm:"foreignKey:TeacherID" json:"teacher,omitempty"`

	// Students hold approved members; JoinRequests hold pending applicants.
	Students     []User `gorm:"many2many:course_students;" json:"students,omitempty"`
	JoinRequests []User `gorm:"many2many:course_join_requests;" json:"join_requests,omitempty"`

	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}
