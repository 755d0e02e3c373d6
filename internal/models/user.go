package models

import "time"

// User roles recognised by the platform.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// User describes a registered platform user, either a teacher or a student.
type User struct {
	BaseModel

	Name     string `gorm:"not null" json:"name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`
	Role     string `gorm:"type:varchar(16);not null;index" json:"role"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at"`
}

// IsTeacher reports whether the user holds the teacher role.
func (u *User) IsTeacher() bool { return u.Role == RoleTeacher }

// IsStudent reports whether the user holds the student role.
func (u *User) IsStudent() bool { return u.Role == RoleStudent }
