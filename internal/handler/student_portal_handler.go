package handler

import (
	"errors"
	"net/http"

	"github.com/assesshub/assess-backend/internal/middleware"
	"github.com/assesshub/assess-backend/internal/model"
	"github.com/assesshub/assess-backend/internal/response"
	"github.com/assesshub/assess-backend/internal/service"
	"github.com/assesshub/assess-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StudentPortalHandler handles student-facing endpoints (portal, attempt taking).
type StudentPortalHandler struct {
	submissionService *service.SubmissionService
	assessmentService *service.AssessmentService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	submissionService *service.SubmissionService,
	assessmentService *service.AssessmentService,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		submissionService: submissionService,
		assessmentService: assessmentService,
	}
}

// GetPortal godoc
// GET /api/v1/student/portal
// Returns published assessments with the student's submission status overlaid.
func (h *StudentPortalHandler) GetPortal(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	portal, err := h.submissionService.GetPortal(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if portal == nil {
		portal = []service.PortalAssessment{}
	}

	response.Success(c, http.StatusOK, gin.H{"assessments": portal})
}

// StartSubmission godoc
// POST /api/v1/student/assessments/:assessment_id/start
// Starts a new submission or resumes the existing one (idempotent).
func (h *StudentPortalHandler) StartSubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartSubmissionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.submissionService.StartOrResume(c.Request.Context(), assessmentID, claims.UserID, req.AccessCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAccessCode):
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidAccessCode)
		case errors.Is(err, service.ErrAssessmentNotAvailable):
			response.Fail(c, http.StatusBadRequest, response.ErrAssessmentNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	remaining, err := h.submissionService.RemainingSeconds(c.Request.Context(), submission)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"submission":        submission,
		"remaining_seconds": remaining,
	})
}

// GetAssessmentPaper godoc
// GET /api/v1/student/assessments/:assessment_id/paper
// Returns the question payload from Redis (bypasses PostgreSQL).
// Requires an existing submission for this assessment — prevents IDOR.
func (h *StudentPortalHandler) GetAssessmentPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.submissionService.VerifyAttempt(c.Request.Context(), assessmentID, claims.UserID); err != nil {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	payload, err := h.assessmentService.GetPayload(c.Request.Context(), assessmentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotPublished)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// SaveAnswer godoc
// PUT /api/v1/student/submissions/:submission_id/answer
// Autosaves a single answer. Last write wins per question.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	err = h.submissionService.SaveAnswer(c.Request.Context(), submissionID, claims.UserID, questionID, req.Answer)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotSubmissionOwner):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		case errors.Is(err, service.ErrSubmissionClosed):
			response.Fail(c, http.StatusConflict, response.ErrSubmissionClosed)
		case errors.Is(err, service.ErrTimeExpired):
			response.Fail(c, http.StatusConflict, response.ErrTimeExpired)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// SubmitSubmission godoc
// POST /api/v1/student/submissions/:submission_id/submit
// Terminal submit with the full local answer buffer. Idempotent.
func (h *StudentPortalHandler) SubmitSubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	submission, err := h.submissionService.Submit(c.Request.Context(), submissionID, claims.UserID, req.Answers)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotSubmissionOwner):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": submission})
}

// GetSubmissionState godoc
// GET /api/v1/student/submissions/:submission_id/state
// Returns autosaved answers and the remaining time. Covers page reload so the
// frontend resumes with the original countdown, not a restarted one.
func (h *StudentPortalHandler) GetSubmissionState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.submissionService.GetState(c.Request.Context(), submissionID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrNotSubmissionOwner) {
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetActiveSubmission godoc
// GET /api/v1/student/submissions/active
// Returns the student's currently open submission id, if any. Lets a client
// that lost all local state find its way back into the attempt.
func (h *StudentPortalHandler) GetActiveSubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	id, err := h.submissionService.ActiveSubmissionID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission_id": id})
}
