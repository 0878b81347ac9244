package router

import (
	"net/http"
	"time"

	"github.com/assesshub/assess-backend/internal/config"
	"github.com/assesshub/assess-backend/internal/handler"
	"github.com/assesshub/assess-backend/internal/middleware"
	"github.com/assesshub/assess-backend/internal/response"
	"github.com/assesshub/assess-backend/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	Assessment    *handler.AssessmentHandler
	WS            *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
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

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/instructor/login", handlers.Auth.InstructorLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/instructor/me", middleware.RequireInstructorJWT(authService), handlers.Auth.GetInstructorProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/portal", handlers.StudentPortal.GetPortal)
		studentAPI.GET("/submissions/active", handlers.StudentPortal.GetActiveSubmission)
		studentAPI.POST("/assessments/:assessment_id/start", handlers.StudentPortal.StartSubmission)
		studentAPI.GET("/assessments/:assessment_id/paper", handlers.StudentPortal.GetAssessmentPaper)
		studentAPI.PUT("/submissions/:submission_id/answer", handlers.StudentPortal.SaveAnswer)
		studentAPI.POST("/submissions/:submission_id/submit", handlers.StudentPortal.SubmitSubmission)
		studentAPI.GET("/submissions/:submission_id/state", handlers.StudentPortal.GetSubmissionState)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/submissions/:submission_id/stream", handlers.WS.SubmissionStream)
	}

	// ─── 4. Instructor Group (JWT) ─────────────────────────────────────
	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(middleware.RequireInstructorJWT(authService))
	{
		instructorAPI.GET("/assessments", handlers.Assessment.ListAssessments)
		instructorAPI.POST("/assessments", handlers.Assessment.CreateAssessment)
		instructorAPI.GET("/assessments/:assessment_id", handlers.Assessment.GetAssessment)
		instructorAPI.PUT("/assessments/:assessment_id", handlers.Assessment.UpdateAssessment)
		instructorAPI.POST("/assessments/:assessment_id/publish", handlers.Assessment.PublishAssessment)
		instructorAPI.POST("/assessments/:assessment_id/refresh-cache", handlers.Assessment.RefreshAssessmentCache)
		instructorAPI.GET("/assessments/:assessment_id/questions", handlers.Assessment.ListQuestions)
		instructorAPI.POST("/assessments/:assessment_id/questions", handlers.Assessment.AddQuestion)
		instructorAPI.PUT("/assessments/:assessment_id/questions", handlers.Assessment.ReplaceQuestions)
		instructorAPI.GET("/assessments/:assessment_id/results", handlers.Assessment.GetResults)
	}

	return router
}
