package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/assesshub/assess-backend/internal/middleware"
	"github.com/assesshub/assess-backend/internal/model"
	"github.com/assesshub/assess-backend/internal/response"
	"github.com/assesshub/assess-backend/internal/service"
	"github.com/assesshub/assess-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AssessmentHandler handles instructor assessment management endpoints.
type AssessmentHandler struct {
	assessmentService *service.AssessmentService
	submissionService *service.SubmissionService
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(
	assessmentService *service.AssessmentService,
	submissionService *service.SubmissionService,
) *AssessmentHandler {
	return &AssessmentHandler{
		assessmentService: assessmentService,
		submissionService: submissionService,
	}
}

// ListAssessments godoc
// GET /api/v1/instructor/assessments
// Lists the instructor's own assessments with pagination.
func (h *AssessmentHandler) ListAssessments(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	assessments, pagination, err := h.assessmentService.ListByAuthor(c.Request.Context(), claims.UserID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"assessments": assessments}, pagination)
}

// CreateAssessment godoc
// POST /api/v1/instructor/assessments
// Creates a new draft assessment.
func (h *AssessmentHandler) CreateAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assessment := &model.Assessment{
		Title:           req.Title,
		AuthorID:        claims.UserID,
		ScheduledStart:  req.ScheduledStart,
		ScheduledEnd:    req.ScheduledEnd,
		DurationMinutes: req.DurationMinutes,
		AccessCode:      req.AccessCode,
	}

	if err := h.assessmentService.Create(c.Request.Context(), assessment); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"assessment": assessment})
}

// GetAssessment godoc
// GET /api/v1/instructor/assessments/:assessment_id
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
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

	assessment, err := h.assessmentService.GetByID(c.Request.Context(), assessmentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if assessment.AuthorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentAuthor)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": assessment})
}

// UpdateAssessment godoc
// PUT /api/v1/instructor/assessments/:assessment_id
func (h *AssessmentHandler) UpdateAssessment(c *gin.Context) {
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

	var req model.UpdateAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assessment, err := h.assessmentService.Update(c.Request.Context(), assessmentID, claims.UserID, &req)
	if err != nil {
		if errors.Is(err, service.ErrNotAssessmentAuthor) {
			response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentAuthor)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": assessment})
}

// PublishAssessment godoc
// POST /api/v1/instructor/assessments/:assessment_id/publish
// Publishes an assessment: caches payload + answer key to Redis, changes status.
func (h *AssessmentHandler) PublishAssessment(c *gin.Context) {
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

	if err := h.assessmentService.Publish(c.Request.Context(), assessmentID, claims.UserID); err != nil {
		switch {
		case errors.Is(err, service.ErrNotAssessmentAuthor):
			response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentAuthor)
		case errors.Is(err, service.ErrNoQuestions):
			response.Fail(c, http.StatusBadRequest, response.ErrNoQuestions)
		case errors.Is(err, service.ErrAssessmentNotDraft):
			response.Fail(c, http.StatusBadRequest, response.ErrAssessmentNotDraft)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "published"})
}

// RefreshAssessmentCache godoc
// POST /api/v1/instructor/assessments/:assessment_id/refresh-cache
// Re-caches the payload + answer key for a published assessment.
func (h *AssessmentHandler) RefreshAssessmentCache(c *gin.Context) {
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

	if err := h.assessmentService.RefreshCache(c.Request.Context(), assessmentID, claims.UserID); err != nil {
		switch {
		case errors.Is(err, service.ErrNotAssessmentAuthor):
			response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentAuthor)
		case errors.Is(err, service.ErrAssessmentNotPublished):
			response.Fail(c, http.StatusBadRequest, response.ErrAssessmentNotPublished)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "cache refreshed"})
}

// ListQuestions godoc
// GET /api/v1/instructor/assessments/:assessment_id/questions
func (h *AssessmentHandler) ListQuestions(c *gin.Context) {
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

	questions, err := h.assessmentService.ListQuestions(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrNotAssessmentAuthor) {
			response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentAuthor)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if questions == nil {
		questions = []model.Question{}
	}
	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// AddQuestion godoc
// POST /api/v1/instructor/assessments/:assessment_id/questions
func (h *AssessmentHandler) AddQuestion(c *gin.Context) {
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

	var req model.AddQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	question := &model.Question{
		AssessmentID:  assessmentID,
		QuestionText:  req.QuestionText,
		QuestionType:  model.QuestionType(req.QuestionType),
		Options:       req.Options,
		CorrectOption: req.CorrectOption,
		OrderNum:      req.OrderNum,
	}

	if err := h.assessmentService.AddQuestion(c.Request.Context(), assessmentID, claims.UserID, question); err != nil {
		if errors.Is(err, service.ErrNotAssessmentAuthor) {
			response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentAuthor)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"question": question})
}

// ReplaceQuestions godoc
// PUT /api/v1/instructor/assessments/:assessment_id/questions
// Replaces the whole question set in one transaction.
func (h *AssessmentHandler) ReplaceQuestions(c *gin.Context) {
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

	var req model.ReplaceQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions := make([]model.Question, 0, len(req.Questions))
	for i, q := range req.Questions {
		orderNum := q.OrderNum
		if orderNum == 0 {
			orderNum = i + 1
		}
		questions = append(questions, model.Question{
			AssessmentID:  assessmentID,
			QuestionText:  q.QuestionText,
			QuestionType:  model.QuestionType(q.QuestionType),
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
			OrderNum:      orderNum,
		})
	}

	if err := h.assessmentService.ReplaceQuestions(c.Request.Context(), assessmentID, claims.UserID, questions); err != nil {
		if errors.Is(err, service.ErrNotAssessmentAuthor) {
			response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentAuthor)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"count": len(questions)})
}

// GetResults godoc
// GET /api/v1/instructor/assessments/:assessment_id/results
// Paginated submission results for an assessment.
func (h *AssessmentHandler) GetResults(c *gin.Context) {
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

	assessment, err := h.assessmentService.GetByID(c.Request.Context(), assessmentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if assessment.AuthorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentAuthor)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	results, total, err := h.submissionService.GetResults(c.Request.Context(), assessmentID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": results},
		response.NewPagination(page, perPage, int(total)))
}
