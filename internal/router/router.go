package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/classpoint/proctor-backend/internal/config"
	"github.com/classpoint/proctor-backend/internal/handler"
	"github.com/classpoint/proctor-backend/internal/middleware"
	"github.com/classpoint/proctor-backend/internal/response"
	"github.com/classpoint/proctor-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	Review  *handler.ReviewHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// CORS: restrict to the configured allowlist, or allow all when unset
	// so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.System.Health)

	// Auth routes are rate limited per IP to slow credential stuffing.
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/instructor/login", handlers.Auth.InstructorLogin)

		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/instructor/me", middleware.RequireInstructorJWT(authService), handlers.Auth.GetInstructorProfile)
	}

	// Student REST surface: session lifecycle plus degraded-client
	// fallbacks for save and violation reporting.
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceLogin(authService),
	)
	{
		studentAPI.GET("/quizzes", handlers.Session.GetLobby)
		studentAPI.GET("/quizzes/:quiz_id/paper", handlers.Session.GetQuizPaper)
		studentAPI.POST("/quizzes/:quiz_id/sessions", handlers.Session.StartSession)

		studentAPI.POST("/sessions/:session_id/environment", handlers.Session.ConfirmEnvironment)
		studentAPI.GET("/sessions/:session_id/state", handlers.Session.GetState)
		studentAPI.PUT("/sessions/:session_id/answers", handlers.Session.SaveAnswers)
		studentAPI.POST("/sessions/:session_id/submit", handlers.Session.Submit)
		studentAPI.POST("/sessions/:session_id/violations", handlers.Session.ReportViolation)
		studentAPI.GET("/sessions/:session_id/violations", handlers.Session.ListViolations)
	}

	// WebSocket groups authenticate via ?token= because browsers cannot
	// set headers on upgrade requests.
	studentWS := router.Group("/ws/v1/student")
	studentWS.Use(middleware.RequireWSAuth(authService, service.TokenTypeStudent))
	{
		studentWS.GET("/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	instructorWS := router.Group("/ws/v1/instructor")
	instructorWS.Use(middleware.RequireWSAuth(authService, service.TokenTypeInstructor))
	{
		instructorWS.GET("/quizzes/:quiz_id/monitor", handlers.Monitor.MonitorStream)
	}

	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(middleware.RequireInstructorJWT(authService))
	{
		instructorAPI.GET("/classrooms/:classroom_id/review-queue", handlers.Review.GetReviewQueue)
		instructorAPI.POST("/sessions/:session_id/review", handlers.Review.ReviewSession)
		instructorAPI.GET("/sessions/:session_id/review", handlers.Review.GetDecision)
		instructorAPI.POST("/sessions/:session_id/flag", handlers.Review.FlagSession)
		instructorAPI.GET("/system/stats", handlers.System.Stats)
	}

	return router
}
