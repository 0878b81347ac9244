package handler

import (
	"errors"
	"net/http"

	"github.com/assesshub/assess-backend/internal/middleware"
	"github.com/assesshub/assess-backend/internal/model"
	"github.com/assesshub/assess-backend/internal/repository"
	"github.com/assesshub/assess-backend/internal/response"
	"github.com/assesshub/assess-backend/internal/service"
	"github.com/assesshub/assess-backend/internal/validator"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService    *service.AuthService
	studentRepo    *repository.StudentRepository
	instructorRepo *repository.InstructorRepository
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	authService *service.AuthService,
	studentRepo *repository.StudentRepository,
	instructorRepo *repository.InstructorRepository,
) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		studentRepo:    studentRepo,
		instructorRepo: instructorRepo,
	}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates email + password, checks for existing session (rejects if active), returns JWT.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	student, err := h.studentRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(student.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateStudentToken(c.Request.Context(), student.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionAlreadyActive) {
			response.Fail(c, http.StatusConflict, response.ErrSessionActive)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"student": gin.H{
			"id":         student.ID,
			"student_no": student.StudentNo,
			"name":       student.Name,
			"email":      student.Email,
		},
	})
}

// GetStudentProfile godoc
// GET /api/v1/auth/student/me
// Returns the profile of the currently authenticated student.
func (h *AuthHandler) GetStudentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	student, err := h.studentRepo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"student": gin.H{
			"id":         student.ID,
			"student_no": student.StudentNo,
			"name":       student.Name,
			"email":      student.Email,
		},
	})
}

// StudentLogout godoc
// POST /api/v1/auth/student/logout
// Logs out the currently authenticated student.
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	err := h.authService.ResetStudentSession(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// InstructorLogin godoc
// POST /api/v1/auth/instructor/login
// Validates email + password, returns JWT.
func (h *AuthHandler) InstructorLogin(c *gin.Context) {
	var req model.InstructorLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	instructor, err := h.instructorRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(instructor.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateInstructorToken(instructor.ID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"instructor": gin.H{
			"id":    instructor.ID,
			"name":  instructor.Name,
			"email": instructor.Email,
		},
	})
}

// GetInstructorProfile godoc
// GET /api/v1/auth/instructor/me
// Returns the profile of the currently authenticated instructor.
func (h *AuthHandler) GetInstructorProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	instructor, err := h.instructorRepo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"instructor": gin.H{
			"id":    instructor.ID,
			"name":  instructor.Name,
			"email": instructor.Email,
		},
	})
}
