package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/app"
	iauth "github.com/JulianCR82/agenda-backend/internal/auth"
	"github.com/JulianCR82/agenda-backend/internal/database/testutil"
	"github.com/JulianCR82/agenda-backend/internal/notifications"
	"github.com/JulianCR82/agenda-backend/internal/reminders"
	"github.com/JulianCR82/agenda-backend/internal/services"
)

func testConfig() *app.Config {
	cfg := &app.Config{}
	cfg.Server.Port = 4000
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"
	cfg.Monitoring.Health.Enabled = true
	return cfg
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "router-test-secret",
		Issuer:         "agenda-backend",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	hub := notifications.NewHub()
	notificationSvc, err := services.NewNotificationService(db, hub)
	require.NoError(t, err)

	scheduler, err := reminders.NewScheduler(db, notificationSvc)
	require.NoError(t, err)

	router, err := NewRouter(db, jwtSvc, testConfig(), hub, scheduler)
	require.NoError(t, err)
	return router, db
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, router *gin.Engine, name, role string) string {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register", "", map[string]any{
		"name":     name,
		"email":    name + "@example.com",
		"password": "secret-password",
		"role":     role,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var payload struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotEmpty(t, payload.Data.Token)
	return payload.Data.Token
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/events/mine", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterRegisterLoginAndMe(t *testing.T) {
	router, _ := newTestRouter(t)

	registerUser(t, router, "ana", "teacher")

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "ana@example.com",
		"password": "secret-password",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload struct {
		Data struct {
			Token string `json:"token"`
			User  struct {
				Email string `json:"email"`
				Role  string `json:"role"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "teacher", payload.Data.User.Role)

	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", payload.Data.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ana@example.com")
}

func TestRouterRoleEnforcement(t *testing.T) {
	router, _ := newTestRouter(t)

	studentToken := registerUser(t, router, "student", "student")

	// Students cannot create courses.
	rec := doJSON(t, router, http.MethodPost, "/api/courses", studentToken, map[string]any{
		"name": "Forbidden course",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Teachers cannot browse the student catalogue.
	teacherToken := registerUser(t, router, "teacher", "teacher")
	rec = doJSON(t, router, http.MethodGet, "/api/courses/available", teacherToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterCourseJoinFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	teacherToken := registerUser(t, router, "teacher", "teacher")
	studentToken := registerUser(t, router, "student", "student")

	rec := doJSON(t, router, http.MethodPost, "/api/courses", teacherToken, map[string]any{
		"name": "Mathematics",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	courseID := created.Data.ID
	require.NotEmpty(t, courseID)

	rec = doJSON(t, router, http.MethodPost, "/api/courses/"+courseID+"/join", studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/courses/"+courseID+"/requests", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var requests struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &requests))
	require.Len(t, requests.Data, 1)
	studentID := requests.Data[0].ID

	accept := fmt.Sprintf("/api/courses/%s/requests/%s/accept", courseID, studentID)
	rec = doJSON(t, router, http.MethodPost, accept, teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/courses/enrolled", studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Mathematics")

	// The acceptance produced a notification for the student.
	rec = doJSON(t, router, http.MethodGet, "/api/notifications", studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "request_accepted")
}

func TestRouterReminderEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	teacherToken := registerUser(t, router, "teacher", "teacher")
	studentToken := registerUser(t, router, "student", "student")

	rec := doJSON(t, router, http.MethodPost, "/api/reminders/process", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/reminders/stats", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Students may list their own reminders but not run scheduler passes.
	rec = doJSON(t, router, http.MethodGet, "/api/reminders/mine", studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/reminders/process", studentToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "agenda_api_latency_seconds")
}

func TestRouterUnknownRouteReturnsJSON404(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestRouterManualNotificationAndEventReminders(t *testing.T) {
	router, _ := newTestRouter(t)

	teacherToken := registerUser(t, router, "teacher", "teacher")
	studentToken := registerUser(t, router, "student", "student")

	rec := doJSON(t, router, http.MethodGet, "/api/auth/me", studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))

	// Teachers may record manual notifications; students may not.
	rec = doJSON(t, router, http.MethodPost, "/api/notifications", teacherToken, map[string]any{
		"user_id": me.Data.ID,
		"type":    "other",
		"title":   "Aviso",
		"message": "Clase cancelada",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/notifications", studentToken, map[string]any{
		"user_id": me.Data.ID,
		"type":    "other",
		"title":   "Aviso",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Schedule an event and drive its reminder lifecycle over HTTP.
	starts := time.Now().Add(45 * time.Minute).UTC().Format(time.RFC3339)
	rec = doJSON(t, router, http.MethodPost, "/api/events", teacherToken, map[string]any{
		"title":     "Tutoria",
		"starts_at": starts,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	eventID := created.Data.ID

	rec = doJSON(t, router, http.MethodPost, "/api/reminders/event/"+eventID+"/send", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/reminders/event/"+eventID, teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Recordatorio: Tutoria")

	// Only the creator may reset or inspect the event's reminders.
	rec = doJSON(t, router, http.MethodGet, "/api/reminders/event/"+eventID, studentToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/reminders/event/"+eventID+"/reset", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// After the reset the event can be force-sent again.
	rec = doJSON(t, router, http.MethodPost, "/api/reminders/event/"+eventID+"/send", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
