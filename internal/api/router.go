package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/app"
	iauth "github.com/JulianCR82/agenda-backend/internal/auth"
	"github.com/JulianCR82/agenda-backend/internal/handlers"
	"github.com/JulianCR82/agenda-backend/internal/middleware"
	"github.com/JulianCR82/agenda-backend/internal/notifications"
	"github.com/JulianCR82/agenda-backend/internal/reminders"
	"github.com/JulianCR82/agenda-backend/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, hub *notifications.Hub, scheduler *reminders.Scheduler) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if hub == nil {
		hub = notifications.NewHub()
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(100, time.Minute))

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		healthHandler := handlers.NewHealthHandler(db)
		r.GET("/health", healthHandler.Check)
	}

	authHandler, err := handlers.NewAuthHandler(db, jwt)
	if err != nil {
		return nil, err
	}

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	notificationHandler, err := handlers.NewNotificationHandler(db, hub, jwt)
	if err != nil {
		return nil, err
	}
	courseHandler, err := handlers.NewCourseHandler(db, notificationHandler.Service())
	if err != nil {
		return nil, err
	}
	eventSvc, err := services.NewEventService(db, courseHandler.Service(), notificationHandler.Service())
	if err != nil {
		return nil, err
	}
	eventHandler, err := handlers.NewEventHandler(eventSvc)
	if err != nil {
		return nil, err
	}
	dashboardSvc, err := services.NewDashboardService(db, eventSvc, notificationHandler.Service())
	if err != nil {
		return nil, err
	}
	dashboardHandler, err := handlers.NewDashboardHandler(dashboardSvc)
	if err != nil {
		return nil, err
	}

	// The stream endpoint authenticates via query token, so it stays outside
	// the authed group.
	r.GET("/api/notifications/stream", notificationHandler.Stream)

	requireAuth := middleware.Auth(jwt)
	api := r.Group("/api")
	api.Use(requireAuth)

	api.GET("/auth/me", authHandler.Me)

	courses := api.Group("/courses")
	{
		courses.POST("", middleware.RequireTeacher(), courseHandler.Create)
		courses.GET("/mine", middleware.RequireTeacher(), courseHandler.Mine)
		courses.GET("/enrolled", middleware.RequireStudent(), courseHandler.Enrolled)
		courses.GET("/search", courseHandler.Search)
		courses.GET("/available", middleware.RequireStudent(), courseHandler.Available)
		courses.GET("/:id", courseHandler.Get)
		courses.POST("/:id/join", middleware.RequireStudent(), courseHandler.Join)
		courses.GET("/:id/requests", middleware.RequireTeacher(), courseHandler.Requests)
		courses.POST("/:id/requests/:studentId/accept", middleware.RequireTeacher(), courseHandler.Accept)
		courses.POST("/:id/requests/:studentId/reject", middleware.RequireTeacher(), courseHandler.Reject)
		courses.GET("/:id/students", courseHandler.Students)
		courses.GET("/:id/events", eventHandler.ForCourse)
	}

	events := api.Group("/events")
	{
		events.POST("", eventHandler.Create)
		events.GET("/mine", eventHandler.Mine)
		events.GET("/upcoming", eventHandler.Upcoming)
		events.GET("/past", eventHandler.Past)
		events.GET("/:id", eventHandler.Get)
		events.PUT("/:id", eventHandler.Update)
		events.PATCH("/:id/complete", eventHandler.Complete)
		events.DELETE("/:id", eventHandler.Delete)
	}

	notificationRoutes := api.Group("/notifications")
	{
		notificationRoutes.POST("", middleware.RequireTeacher(), notificationHandler.Create)
		notificationRoutes.GET("", notificationHandler.List)
		notificationRoutes.GET("/unread", notificationHandler.Unread)
		notificationRoutes.GET("/stats", notificationHandler.Stats)
		notificationRoutes.POST("/read-all", notificationHandler.MarkAllRead)
		notificationRoutes.POST("/:id/read", notificationHandler.MarkRead)
		notificationRoutes.DELETE("/read", notificationHandler.DeleteRead)
		notificationRoutes.DELETE("/:id", notificationHandler.Delete)
	}

	if scheduler != nil {
		reminderHandler, err := handlers.NewReminderHandler(scheduler)
		if err != nil {
			return nil, err
		}
		reminderRoutes := api.Group("/reminders")
		{
			reminderRoutes.POST("/process", middleware.RequireTeacher(), reminderHandler.Process)
			reminderRoutes.GET("/pending", middleware.RequireTeacher(), reminderHandler.Pending)
			reminderRoutes.GET("/mine", reminderHandler.Mine)
			reminderRoutes.GET("/event/:id", reminderHandler.ForEvent)
			reminderRoutes.POST("/event/:id/send", reminderHandler.Send)
			reminderRoutes.POST("/event/:id/reset", reminderHandler.ResetEvent)
			reminderRoutes.POST("/reset", middleware.RequireTeacher(), reminderHandler.Reset)
			reminderRoutes.GET("/stats", middleware.RequireTeacher(), reminderHandler.Stats)
		}
	}

	dashboard := api.Group("/dashboard")
	{
		dashboard.GET("", dashboardHandler.Overview)
		dashboard.GET("/student", middleware.RequireStudent(), dashboardHandler.Student)
		dashboard.GET("/teacher", middleware.RequireTeacher(), dashboardHandler.Teacher)
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
