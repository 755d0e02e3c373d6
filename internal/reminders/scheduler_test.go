package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/database/testutil"
	"github.com/JulianCR82/agenda-backend/internal/models"
	"github.com/JulianCR82/agenda-backend/internal/services"
	apperrors "github.com/JulianCR82/agenda-backend/pkg/errors"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*gorm.DB, *Scheduler, *services.NotificationService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	notificationSvc, err := services.NewNotificationService(db, nil)
	require.NoError(t, err)

	scheduler, err := NewScheduler(db, notificationSvc,
		WithNow(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	return db, scheduler, notificationSvc
}

func seedUser(t *testing.T, db *gorm.DB, id string) models.User {
	t.Helper()
	user := models.User{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Email:     id + "@example.com",
		Password:  "hashed",
		Role:      models.RoleStudent,
		IsActive:  true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedEvent(t *testing.T, db *gorm.DB, id string, startsIn time.Duration, recipients ...string) models.Event {
	t.Helper()

	event := models.Event{
		BaseModel: models.BaseModel{ID: id},
		Title:     "Evento " + id,
		Category:  models.EventCategoryClass,
		StartsAt:  fixedNow.Add(startsIn),
		EndsAt:    fixedNow.Add(startsIn + time.Hour),
		Status:    models.EventStatusPending,
		CreatorID: "creator-1",
	}
	require.NoError(t, db.Create(&event).Error)

	for _, userID := range recipients {
		user := models.User{BaseModel: models.BaseModel{ID: userID}}
		require.NoError(t, db.Model(&event).Association("Recipients").Append(&user))
	}
	return event
}

func reminderSent(t *testing.T, db *gorm.DB, eventID string) bool {
	t.Helper()
	var event models.Event
	require.NoError(t, db.First(&event, "id = ?", eventID).Error)
	return event.ReminderSent
}

func remindersFor(t *testing.T, db *gorm.DB, userID string) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, db.
		Where("user_id = ? AND type = ?", userID, models.NotificationEventReminder).
		Find(&rows).Error)
	return rows
}

func TestScanDispatchesThirtyMinuteWindow(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	event := seedEvent(t, db, "ev-30", 30*time.Minute, alice.ID)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)
	require.Equal(t, 1, result.Dispatched)
	require.Zero(t, result.Failed)
	require.True(t, reminderSent(t, db, event.ID))

	rows := remindersFor(t, db, alice.ID)
	require.Len(t, rows, 1)
	require.Equal(t, "Recordatorio: Evento ev-30", rows[0].Title)
	require.Contains(t, rows[0].Message, "in 30 minutes")
	require.Equal(t, event.ID, *rows[0].EventID)
}

func TestScanDispatchesOneHourWindow(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	seedEvent(t, db, "ev-58", 58*time.Minute, alice.ID)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Dispatched)

	rows := remindersFor(t, db, alice.ID)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0].Message, "in 1 hour")
}

func TestScanDispatchesTomorrowWindow(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	seedEvent(t, db, "ev-1436", 1436*time.Minute, alice.ID)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Dispatched)

	rows := remindersFor(t, db, alice.ID)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0].Message, "tomorrow")
}

func TestScanSkipsEventsBetweenWindows(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	event := seedEvent(t, db, "ev-45", 45*time.Minute, alice.ID)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Scanned)
	require.Zero(t, result.Matched)
	require.False(t, reminderSent(t, db, event.ID))
	require.Empty(t, remindersFor(t, db, alice.ID))
}

func TestScanSkipsAlreadySentAndCancelled(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")

	sent := seedEvent(t, db, "ev-sent", 30*time.Minute, alice.ID)
	require.NoError(t, db.Model(&sent).Update("reminder_sent", true).Error)

	cancelled := seedEvent(t, db, "ev-cancelled", 30*time.Minute, alice.ID)
	require.NoError(t, db.Model(&cancelled).Update("status", models.EventStatusCancelled).Error)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Matched)
	require.Empty(t, remindersFor(t, db, alice.ID))
}

func TestScanMarksZeroRecipientEvents(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	event := seedEvent(t, db, "ev-empty", 30*time.Minute)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)
	require.Zero(t, result.Dispatched)
	// The flag still flips so the event never re-enters the scan set.
	require.True(t, reminderSent(t, db, event.ID))
}

func TestScanIsIdempotentAcrossPasses(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	seedEvent(t, db, "ev-30", 30*time.Minute, alice.ID)

	_, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)

	second, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Matched)
	require.Len(t, remindersFor(t, db, alice.ID), 1)
}

func TestScanIncludesCourseNameInMessage(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")

	course := models.Course{
		BaseModel: models.BaseModel{ID: "course-1"},
		Name:      "Historia",
		Code:      "HIST01",
		TeacherID: "creator-1",
	}
	require.NoError(t, db.Create(&course).Error)

	event := seedEvent(t, db, "ev-course", 30*time.Minute, alice.ID)
	require.NoError(t, db.Model(&event).Updates(map[string]any{
		"course_id":    course.ID,
		"course_event": true,
	}).Error)

	_, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)

	rows := remindersFor(t, db, alice.ID)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0].Message, "Historia")
	require.Equal(t, course.ID, *rows[0].CourseID)
}

func TestResetClearsFlagOnFinishedEventsOnly(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")

	finished := seedEvent(t, db, "ev-finished", -3*time.Hour)
	require.NoError(t, db.Model(&finished).Update("reminder_sent", true).Error)

	upcoming := seedEvent(t, db, "ev-upcoming", 2*time.Hour)
	require.NoError(t, db.Model(&upcoming).Update("reminder_sent", true).Error)

	finishedUnsent := seedEvent(t, db, "ev-finished-unsent", -3*time.Hour)

	count, err := scheduler.RunReset(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	require.False(t, reminderSent(t, db, finished.ID))
	require.True(t, reminderSent(t, db, upcoming.ID))
	require.False(t, reminderSent(t, db, finishedUnsent.ID))
}

func TestForceSendDispatchesManualReminder(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	event := seedEvent(t, db, "ev-manual", 45*time.Minute, alice.ID)

	result, err := scheduler.ForceSend(context.Background(), event.ID, "creator-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Dispatched)
	require.True(t, reminderSent(t, db, event.ID))

	rows := remindersFor(t, db, alice.ID)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0].Message, "in 45 minutes")
	require.Contains(t, string(rows[0].Metadata), `"manual":true`)
	require.Contains(t, string(rows[0].Metadata), "creator-1")
}

func TestForceSendPhrasesHours(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	event := seedEvent(t, db, "ev-3h", 3*time.Hour, alice.ID)

	_, err := scheduler.ForceSend(context.Background(), event.ID, "creator-1")
	require.NoError(t, err)

	rows := remindersFor(t, db, alice.ID)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0].Message, "in 3 hours")
}

func TestForceSendRequiresCreator(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	event := seedEvent(t, db, "ev-guarded", time.Hour, alice.ID)

	_, err := scheduler.ForceSend(context.Background(), event.ID, alice.ID)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrForbidden.Code, apperrors.FromError(err).Code)
	require.False(t, reminderSent(t, db, event.ID))
}

func TestForceSendRefusesStartedAndSentEvents(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")

	started := seedEvent(t, db, "ev-started", -10*time.Minute, alice.ID)
	_, err := scheduler.ForceSend(context.Background(), started.ID, "creator-1")
	require.ErrorIs(t, err, ErrEventStarted)

	sent := seedEvent(t, db, "ev-done", time.Hour, alice.ID)
	require.NoError(t, db.Model(&sent).Update("reminder_sent", true).Error)
	_, err = scheduler.ForceSend(context.Background(), sent.ID, "creator-1")
	require.ErrorIs(t, err, ErrReminderSent)

	_, err = scheduler.ForceSend(context.Background(), "missing", "creator-1")
	require.ErrorIs(t, err, services.ErrEventNotFound)

	cancelled := seedEvent(t, db, "ev-cancelled", 2*time.Hour, alice.ID)
	require.NoError(t, db.Model(&cancelled).Update("status", models.EventStatusCancelled).Error)
	_, err = scheduler.ForceSend(context.Background(), cancelled.ID, "creator-1")
	require.ErrorIs(t, err, ErrEventCancelled)
}

func TestPendingListsEligibleEvents(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")

	inRange := seedEvent(t, db, "ev-soon", 2*time.Hour)
	seedEvent(t, db, "ev-far", 48*time.Hour)
	sent := seedEvent(t, db, "ev-sent", 3*time.Hour)
	require.NoError(t, db.Model(&sent).Update("reminder_sent", true).Error)

	pending, err := scheduler.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, inRange.ID, pending[0].Event.ID)
	require.Equal(t, 120, pending[0].MinutesRemaining)
	require.Equal(t, 2, pending[0].HoursRemaining)
}

func TestOverviewCounts(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")

	seedEvent(t, db, "ev-30", 30*time.Minute, alice.ID)
	seedEvent(t, db, "ev-far", 48*time.Hour)

	_, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)

	stats, err := scheduler.Overview(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.PendingEvents)
	require.EqualValues(t, 1, stats.SentEvents)
	require.EqualValues(t, 1, stats.RemindersDelivered)
}

func TestRunOnceScansAndResets(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")

	seedEvent(t, db, "ev-30", 30*time.Minute, alice.ID)
	finished := seedEvent(t, db, "ev-finished", -3*time.Hour)
	require.NoError(t, db.Model(&finished).Update("reminder_sent", true).Error)

	result, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Dispatched)
	require.False(t, reminderSent(t, db, finished.ID))
}

func TestWiderPollIntervalWidensWindows(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	notificationSvc, err := services.NewNotificationService(db, nil)
	require.NoError(t, err)

	scheduler, err := NewScheduler(db, notificationSvc,
		WithNow(func() time.Time { return fixedNow }),
		WithPollInterval(10*time.Minute))
	require.NoError(t, err)

	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	// 22 minutes out: misses the default (25,30] window but falls in (20,30].
	seedEvent(t, db, "ev-22", 22*time.Minute, alice.ID)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Dispatched)
}

func TestForEventListsDispatchedReminders(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	event := seedEvent(t, db, "ev-list", 30*time.Minute, alice.ID)

	_, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)

	rows, err := scheduler.ForEvent(context.Background(), event.ID, "creator-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, alice.ID, rows[0].UserID)

	// Only the creator may inspect an event's reminders.
	_, err = scheduler.ForEvent(context.Background(), event.ID, alice.ID)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, 403, appErr.StatusCode)
}

func TestResetEventClearsFlag(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	event := seedEvent(t, db, "ev-reset", 30*time.Minute, alice.ID)

	_, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.True(t, reminderSent(t, db, event.ID))

	require.NoError(t, scheduler.ResetEvent(context.Background(), event.ID, "creator-1"))
	require.False(t, reminderSent(t, db, event.ID))

	err = scheduler.ResetEvent(context.Background(), event.ID, alice.ID)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, 403, appErr.StatusCode)
}

func TestScanFloorsRemainingToWholeMinutes(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")

	// 30m30s out floors to 30 whole minutes, inside the 30-minute window.
	event := seedEvent(t, db, "ev-3030", 30*time.Minute+30*time.Second, alice.ID)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)
	require.Equal(t, 1, result.Dispatched)
	require.True(t, reminderSent(t, db, event.ID))

	rows := remindersFor(t, db, alice.ID)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0].Message, "in 30 minutes")
}

func TestScanContinuesWhenMarkingOneEventFails(t *testing.T) {
	db, scheduler, _ := newTestScheduler(t)
	seedUser(t, db, "creator-1")
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	blocked := seedEvent(t, db, "ev-blocked", 28*time.Minute, alice.ID)
	ok := seedEvent(t, db, "ev-ok", 29*time.Minute, bob.ID)

	// Make persisting the flag fail for one event only.
	require.NoError(t, db.Exec(`
		CREATE TRIGGER lock_reminder_flag BEFORE UPDATE OF reminder_sent ON events
		WHEN NEW.id = 'ev-blocked' AND NEW.reminder_sent = 1
		BEGIN SELECT RAISE(ABORT, 'reminder flag locked'); END`).Error)

	result, err := scheduler.RunScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Matched)
	require.Equal(t, 2, result.Dispatched)
	require.Equal(t, 1, result.Failed)

	// The failing event stays unmarked; the rest of the pass still runs.
	require.False(t, reminderSent(t, db, blocked.ID))
	require.True(t, reminderSent(t, db, ok.ID))
	require.Len(t, remindersFor(t, db, bob.ID), 1)
}
