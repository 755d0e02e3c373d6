package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JulianCR82/agenda-backend/internal/models"
	apperrors "github.com/JulianCR82/agenda-backend/pkg/errors"
)

func TestNotificationServiceCreateAndList(t *testing.T) {
	db, _, _, svc := newServiceStack(t)
	user := seedUser(t, db, "user-1", models.RoleStudent)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID:   user.ID,
		Type:     models.NotificationEventReminder,
		Title:    "Recordatorio: Examen",
		Message:  "Examen comienza in 30 minutes",
		Metadata: map[string]any{"window": "30m"},
	})
	require.NoError(t, err)
	require.Equal(t, models.NotificationEventReminder, dto.Type)
	require.Equal(t, "30m", dto.Metadata["window"])

	items, unread, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: user.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 1, unread)
	require.False(t, items[0].IsRead)
}

func TestNotificationServiceRejectsUnknownType(t *testing.T) {
	db, _, _, svc := newServiceStack(t)
	user := seedUser(t, db, "user-1", models.RoleStudent)

	_, err := svc.Create(context.Background(), CreateNotificationInput{
		UserID: user.ID,
		Type:   "spam",
		Title:  "Nope",
	})
	require.Error(t, err)
	require.Equal(t, apperrors.ErrBadRequest.Code, apperrors.FromError(err).Code)
}

func TestNotificationServiceMarkReadAndMarkAll(t *testing.T) {
	db, _, _, svc := newServiceStack(t)
	user := seedUser(t, db, "user-1", models.RoleStudent)

	ctx := context.Background()
	first, err := svc.Create(ctx, CreateNotificationInput{
		UserID: user.ID, Type: models.NotificationEventCreated, Title: "One",
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateNotificationInput{
		UserID: user.ID, Type: models.NotificationEventUpdated, Title: "Two",
	})
	require.NoError(t, err)

	read, err := svc.MarkRead(ctx, user.ID, first.ID)
	require.NoError(t, err)
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	unread, err := svc.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, unread)

	require.NoError(t, svc.MarkAllRead(ctx, user.ID))

	unread, err = svc.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, unread)
}

func TestNotificationServiceMarkReadScopedToOwner(t *testing.T) {
	db, _, _, svc := newServiceStack(t)
	owner := seedUser(t, db, "owner", models.RoleStudent)
	other := seedUser(t, db, "other", models.RoleStudent)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID: owner.ID, Type: models.NotificationOther, Title: "Private",
	})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, other.ID, dto.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.ErrorIs(t, svc.Delete(ctx, other.ID, dto.ID), apperrors.ErrNotFound)
}

func TestNotificationServiceStats(t *testing.T) {
	db, _, _, svc := newServiceStack(t)
	user := seedUser(t, db, "user-1", models.RoleStudent)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.Create(ctx, CreateNotificationInput{
			UserID: user.ID, Type: models.NotificationEventReminder, Title: "R",
		})
		require.NoError(t, err)
	}
	created, err := svc.Create(ctx, CreateNotificationInput{
		UserID: user.ID, Type: models.NotificationEventCreated, Title: "C",
	})
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, user.ID, created.ID)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Total)
	require.EqualValues(t, 2, stats.Unread)
	require.EqualValues(t, 2, stats.ByType[models.NotificationEventReminder])
	require.EqualValues(t, 1, stats.ByType[models.NotificationEventCreated])
}

func TestNotificationServiceDeleteRead(t *testing.T) {
	db, _, _, svc := newServiceStack(t)
	user := seedUser(t, db, "user-1", models.RoleStudent)

	ctx := context.Background()
	read, err := svc.Create(ctx, CreateNotificationInput{
		UserID: user.ID, Type: models.NotificationOther, Title: "Old",
	})
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, user.ID, read.ID)
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateNotificationInput{
		UserID: user.ID, Type: models.NotificationOther, Title: "Fresh",
	})
	require.NoError(t, err)

	removed, err := svc.DeleteRead(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	items, _, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Fresh", items[0].Title)
}

func TestNotificationServiceUnreadOnlyFilter(t *testing.T) {
	db, _, _, svc := newServiceStack(t)
	user := seedUser(t, db, "user-1", models.RoleStudent)

	ctx := context.Background()
	read, err := svc.Create(ctx, CreateNotificationInput{
		UserID: user.ID, Type: models.NotificationOther, Title: "Seen",
	})
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, user.ID, read.ID)
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateNotificationInput{
		UserID: user.ID, Type: models.NotificationOther, Title: "New",
	})
	require.NoError(t, err)

	items, unread, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: user.ID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "New", items[0].Title)
	require.EqualValues(t, 1, unread)
}
