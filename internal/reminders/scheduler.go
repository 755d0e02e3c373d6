package reminders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/models"
	"github.com/JulianCR82/agenda-backend/internal/services"
	apperrors "github.com/JulianCR82/agenda-backend/pkg/errors"
	"github.com/JulianCR82/agenda-backend/pkg/logger"
	"github.com/JulianCR82/agenda-backend/pkg/metrics"
)

const (
	defaultScanSpec     = "*/5 * * * *"
	defaultResetSpec    = "0 2 * * *"
	defaultPollInterval = 5 * time.Minute

	// scanHorizon bounds the lookahead query; the largest reminder window is 24h.
	scanHorizon = 24 * time.Hour
)

var (
	// ErrEventStarted indicates a manual reminder was requested for an event already underway.
	ErrEventStarted = apperrors.New("EVENT_STARTED", "Event has already started", http.StatusConflict)
	// ErrReminderSent indicates reminders for this event were already dispatched.
	ErrReminderSent = apperrors.New("REMINDER_SENT", "Reminder already sent for this event", http.StatusConflict)
	// ErrEventCancelled indicates a reminder was requested for a cancelled event.
	ErrEventCancelled = apperrors.New("EVENT_CANCELLED", "Event is cancelled", http.StatusConflict)
)

// window describes a reminder threshold. An event matches when the minutes
// remaining fall inside (threshold-width, threshold], so each scan pass claims
// exactly one poll interval worth of events per threshold.
type window struct {
	threshold int
	label     string
	phrase    string
}

// ScanResult summarises a single scheduler pass.
type ScanResult struct {
	Scanned    int `json:"scanned"`
	Matched    int `json:"matched"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

// Stats aggregates reminder figures for the stats endpoint.
type Stats struct {
	PendingEvents      int64 `json:"pending_events"`
	SentEvents         int64 `json:"sent_events"`
	RemindersDelivered int64 `json:"reminders_delivered"`
}

// Scheduler dispatches event reminders on a polling schedule. Each pass scans
// for events whose start time falls inside one of the reminder windows,
// notifies every recipient, and flips the event's reminder flag so a
// subsequent pass never dispatches twice.
type Scheduler struct {
	db            *gorm.DB
	notifications *services.NotificationService
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger

	scanSchedule  string
	resetSchedule string
	pollInterval  time.Duration

	// mu serialises passes so an overlapping cron tick or manual trigger can
	// never observe an event before the previous pass persisted its flag.
	mu sync.Mutex
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for window computations.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithScanSchedule overrides the cron specification for the reminder scan.
func WithScanSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.scanSchedule = spec
		}
	}
}

// WithResetSchedule overrides the cron specification for the nightly flag reset.
func WithResetSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.resetSchedule = spec
		}
	}
}

// WithPollInterval sets the width of each reminder window. It must match the
// cadence of the scan schedule or events can slip between passes.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// NewScheduler constructs a Scheduler with the default five-minute cadence.
func NewScheduler(db *gorm.DB, notifications *services.NotificationService, opts ...Option) (*Scheduler, error) {
	if db == nil {
		return nil, errors.New("reminder scheduler: db is required")
	}
	if notifications == nil {
		return nil, errors.New("reminder scheduler: notification service is required")
	}

	s := &Scheduler{
		db:            db,
		notifications: notifications,
		now:           time.Now,
		log:           logger.WithModule("reminders"),
		scanSchedule:  defaultScanSpec,
		resetSchedule: defaultResetSpec,
		pollInterval:  defaultPollInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return s, nil
}

// Start registers the scan and reset jobs and launches the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.scanSchedule, func() {
		if _, err := s.RunScan(context.Background()); err != nil {
			s.log.Warn("reminder scan failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.resetSchedule, func() {
		if _, err := s.RunReset(context.Background()); err != nil {
			s.log.Warn("reminder reset failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying cron scheduler, waiting for running jobs to finish.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes a scan followed by a reset pass. Used in tests and by the
// manual processing endpoint.
func (s *Scheduler) RunOnce(ctx context.Context) (ScanResult, error) {
	result, err := s.RunScan(ctx)
	if _, resetErr := s.RunReset(ctx); resetErr != nil {
		err = multierr.Append(err, resetErr)
	}
	return result, err
}

// RunScan performs a single reminder pass over the upcoming events.
func (s *Scheduler) RunScan(ctx context.Context) (ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	defer func() {
		metrics.ReminderPassDuration.Observe(time.Since(started).Seconds())
	}()

	now := s.now().UTC()
	result := ScanResult{}

	var events []models.Event
	if err := s.db.WithContext(ctx).
		Preload("Course").
		Where("starts_at >= ? AND starts_at <= ?", now, now.Add(scanHorizon)).
		Where("reminder_sent = ? AND status <> ?", false, models.EventStatusCancelled).
		Find(&events).Error; err != nil {
		return result, fmt.Errorf("reminder scheduler: scan events: %w", err)
	}
	result.Scanned = len(events)

	for i := range events {
		event := &events[i]

		win, ok := s.matchWindow(now, event.StartsAt)
		if !ok {
			continue
		}
		result.Matched++

		dispatched, failed := s.dispatch(ctx, event, win.phrase, win.label, "scan", nil)
		result.Dispatched += dispatched
		result.Failed += failed

		// The flag is persisted last so a crash mid-dispatch retries the whole
		// event rather than silently dropping recipients. Zero-recipient events
		// are still marked to keep them out of future passes. A persistence
		// failure on one event never aborts the rest of the pass.
		if err := s.db.WithContext(ctx).Model(event).
			Update("reminder_sent", true).Error; err != nil {
			result.Failed++
			s.log.Warn("failed to mark reminder sent",
				zap.Error(err), zap.String("event_id", event.ID))
			continue
		}
		event.ReminderSent = true
	}

	if result.Matched > 0 {
		s.log.Info("reminder pass complete",
			zap.Int("scanned", result.Scanned),
			zap.Int("matched", result.Matched),
			zap.Int("dispatched", result.Dispatched),
			zap.Int("failed", result.Failed))
	}

	return result, nil
}

// RunReset clears the reminder flag on events that already ended, making
// recurring schedules eligible again after they are moved forward.
func (s *Scheduler) RunReset(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	result := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("ends_at < ? AND reminder_sent = ?", s.now().UTC(), true).
		Update("reminder_sent", false)
	if result.Error != nil {
		return 0, fmt.Errorf("reminder scheduler: reset flags: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.Info("reminder flags reset", zap.Int64("events", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// ForceSend dispatches a reminder for one event immediately. Only the event's
// creator may trigger it, and only before the event starts.
func (s *Scheduler) ForceSend(ctx context.Context, eventID, requesterID string) (ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	result := ScanResult{}

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return result, err
	}
	if event.CreatorID != requesterID {
		return result, apperrors.NewForbidden("only the event creator can send reminders")
	}

	if event.Status == models.EventStatusCancelled {
		return result, ErrEventCancelled
	}

	now := s.now().UTC()
	if !event.StartsAt.After(now) {
		return result, ErrEventStarted
	}
	if event.ReminderSent {
		return result, ErrReminderSent
	}

	remaining := event.StartsAt.Sub(now)
	phrase := manualPhrase(remaining)

	metadata := map[string]any{
		"manual":    true,
		"sender_id": requesterID,
	}

	result.Scanned = 1
	result.Matched = 1
	dispatched, failed := s.dispatch(ctx, event, phrase, "manual", "manual", metadata)
	result.Dispatched = dispatched
	result.Failed = failed

	if err := s.db.WithContext(ctx).Model(event).
		Update("reminder_sent", true).Error; err != nil {
		return result, fmt.Errorf("reminder scheduler: mark reminder sent: %w", err)
	}

	return result, nil
}

// ResetEvent clears the reminder flag on one event, making it eligible for
// dispatch again. Only the event's creator may reset it.
func (s *Scheduler) ResetEvent(ctx context.Context, eventID, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.CreatorID != requesterID {
		return apperrors.NewForbidden("only the event creator can reset reminders")
	}

	if err := s.db.WithContext(ctx).Model(event).
		Update("reminder_sent", false).Error; err != nil {
		return fmt.Errorf("reminder scheduler: reset event flag: %w", err)
	}
	return nil
}

// PendingReminder pairs an event awaiting its reminder with the time left
// before it starts.
type PendingReminder struct {
	Event            models.Event `json:"event"`
	MinutesRemaining int          `json:"minutes_remaining"`
	HoursRemaining   int          `json:"hours_remaining"`
}

// Pending lists upcoming events that have not yet had reminders dispatched,
// annotated with the minutes remaining until each one starts.
func (s *Scheduler) Pending(ctx context.Context) ([]PendingReminder, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	var events []models.Event
	if err := s.db.WithContext(ctx).
		Preload("Course").
		Where("starts_at >= ? AND starts_at <= ?", now, now.Add(scanHorizon)).
		Where("reminder_sent = ? AND status <> ?", false, models.EventStatusCancelled).
		Order("starts_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("reminder scheduler: list pending: %w", err)
	}

	pending := make([]PendingReminder, 0, len(events))
	for _, event := range events {
		minutes := int(event.StartsAt.Sub(now).Minutes())
		pending = append(pending, PendingReminder{
			Event:            event,
			MinutesRemaining: minutes,
			HoursRemaining:   minutes / 60,
		})
	}
	return pending, nil
}

// ForUser lists the reminder notifications delivered to the user.
func (s *Scheduler) ForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Notification
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, models.NotificationEventReminder).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reminder scheduler: list user reminders: %w", err)
	}
	return rows, nil
}

// ForEvent lists the reminder notifications dispatched for one event. Only
// the event's creator may inspect them.
func (s *Scheduler) ForEvent(ctx context.Context, eventID, requesterID string) ([]models.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.CreatorID != requesterID {
		return nil, apperrors.NewForbidden("only the event creator can list its reminders")
	}

	var rows []models.Notification
	if err := s.db.WithContext(ctx).
		Where("event_id = ? AND type = ?", event.ID, models.NotificationEventReminder).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reminder scheduler: list event reminders: %w", err)
	}
	return rows, nil
}

func (s *Scheduler) loadEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	if err := s.db.WithContext(ctx).
		Preload("Course").
		First(&event, "id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrEventNotFound
		}
		return nil, fmt.Errorf("reminder scheduler: load event: %w", err)
	}
	return &event, nil
}

// Overview computes aggregate reminder figures.
func (s *Scheduler) Overview(ctx context.Context) (*Stats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	stats := &Stats{}

	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("starts_at >= ? AND reminder_sent = ? AND status <> ?", now, false, models.EventStatusCancelled).
		Count(&stats.PendingEvents).Error; err != nil {
		return nil, fmt.Errorf("reminder scheduler: count pending: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("reminder_sent = ?", true).
		Count(&stats.SentEvents).Error; err != nil {
		return nil, fmt.Errorf("reminder scheduler: count sent: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("type = ?", models.NotificationEventReminder).
		Count(&stats.RemindersDelivered).Error; err != nil {
		return nil, fmt.Errorf("reminder scheduler: count delivered: %w", err)
	}

	return stats, nil
}

// dispatch creates one reminder notification per recipient. Individual
// failures are logged and skipped so one bad row never blocks the audience.
func (s *Scheduler) dispatch(ctx context.Context, event *models.Event, phrase, label, trigger string, metadata map[string]any) (dispatched, failed int) {
	recipientIDs, err := s.recipientIDs(ctx, event.ID)
	if err != nil {
		s.log.Warn("failed to load recipients", zap.Error(err), zap.String("event_id", event.ID))
		return 0, 0
	}

	title := fmt.Sprintf("Recordatorio: %s", event.Title)
	message := fmt.Sprintf("%s comienza %s", event.Title, phrase)
	if event.Course != nil && event.Course.Name != "" {
		message = fmt.Sprintf("%s (%s) comienza %s", event.Title, event.Course.Name, phrase)
	}

	eventID := event.ID
	for _, userID := range recipientIDs {
		input := services.CreateNotificationInput{
			UserID:   userID,
			Type:     models.NotificationEventReminder,
			Title:    title,
			Message:  message,
			EventID:  &eventID,
			CourseID: event.CourseID,
			Metadata: metadata,
		}
		if _, err := s.notifications.Create(ctx, input); err != nil {
			failed++
			s.log.Warn("failed to create reminder notification",
				zap.Error(err), zap.String("event_id", event.ID), zap.String("user_id", userID))
			continue
		}
		dispatched++
		metrics.RemindersDispatched.WithLabelValues(trigger, label).Inc()
	}

	return dispatched, failed
}

func (s *Scheduler) recipientIDs(ctx context.Context, eventID string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Table("event_recipients").
		Where("event_id = ?", eventID).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// matchWindow reports the reminder window the event currently falls in, if any.
// Remaining time is floored to whole minutes, so an event 30m30s out counts as
// 30 minutes away and lands inside the 30-minute window.
func (s *Scheduler) matchWindow(now, startsAt time.Time) (window, bool) {
	remaining := int(startsAt.Sub(now).Minutes())
	width := int(s.pollInterval.Minutes())

	for _, win := range reminderWindows {
		if remaining > win.threshold-width && remaining <= win.threshold {
			return win, true
		}
	}
	return window{}, false
}

var reminderWindows = []window{
	{threshold: 30, label: "30m", phrase: "in 30 minutes"},
	{threshold: 60, label: "1h", phrase: "in 1 hour"},
	{threshold: 1440, label: "24h", phrase: "tomorrow"},
}

func manualPhrase(remaining time.Duration) string {
	minutes := int(remaining.Minutes())
	if minutes < 60 {
		if minutes < 1 {
			minutes = 1
		}
		if minutes == 1 {
			return "in 1 minute"
		}
		return fmt.Sprintf("in %d minutes", minutes)
	}

	hours := minutes / 60
	if hours == 1 {
		return "in 1 hour"
	}
	return fmt.Sprintf("in %d hours", hours)
}
