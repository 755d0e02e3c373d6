package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/database/testutil"
	"github.com/JulianCR82/agenda-backend/internal/models"
	"github.com/JulianCR82/agenda-backend/internal/notifications"
)

func seedUser(t *testing.T, db *gorm.DB, id, role string) models.User {
	t.Helper()

	user := models.User{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Email:     id + "@example.com",
		Password:  "hashed",
		Role:      role,
		IsActive:  true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func newServiceStack(t *testing.T) (*gorm.DB, *CourseService, *EventService, *NotificationService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	notificationSvc, err := NewNotificationService(db, notifications.NewHub())
	require.NoError(t, err)

	courseSvc, err := NewCourseService(db, notificationSvc)
	require.NoError(t, err)

	eventSvc, err := NewEventService(db, courseSvc, notificationSvc)
	require.NoError(t, err)

	return db, courseSvc, eventSvc, notificationSvc
}

func enrollStudent(t *testing.T, db *gorm.DB, courseID, studentID string) {
	t.Helper()

	course := models.Course{BaseModel: models.BaseModel{ID: courseID}}
	student := models.User{BaseModel: models.BaseModel{ID: studentID}}
	require.NoError(t, db.Model(&course).Association("Students").Append(&student))
}
