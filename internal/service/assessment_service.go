package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/assesshub/assess-backend/internal/config"
	"github.com/assesshub/assess-backend/internal/model"
	"github.com/assesshub/assess-backend/internal/repository"
	"github.com/assesshub/assess-backend/internal/response"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Domain errors.
var (
	ErrNotAssessmentAuthor    = errors.New("not the author of this assessment")
	ErrNoQuestions            = errors.New("assessment has no questions, cannot publish")
	ErrAssessmentNotDraft     = errors.New("assessment status is not DRAFT")
	ErrAssessmentNotPublished = errors.New("assessment status is not PUBLISHED")
)

// AssessmentService handles assessment business logic and Redis caching.
type AssessmentService struct {
	assessmentRepo *repository.AssessmentRepository
	questionRepo   *repository.QuestionRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(
	assessmentRepo *repository.AssessmentRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *AssessmentService {
	return &AssessmentService{
		assessmentRepo: assessmentRepo,
		questionRepo:   questionRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "assessment_service").Logger(),
	}
}

// GetByID retrieves an assessment by its UUID.
func (s *AssessmentService) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	return s.assessmentRepo.GetByID(ctx, id)
}

// ListByAuthor retrieves an instructor's assessments, paginated.
func (s *AssessmentService) ListByAuthor(ctx context.Context, authorID, page, perPage int) ([]model.Assessment, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	limit := perPage
	offset := (page - 1) * perPage

	assessments, total, err := s.assessmentRepo.ListByAuthorPaginated(ctx, authorID, limit, offset)
	if err != nil {
		return nil, nil, err
	}

	if assessments == nil {
		assessments = []model.Assessment{}
	}

	return assessments, response.NewPagination(page, perPage, total), nil
}

// Create inserts a new assessment as DRAFT.
func (s *AssessmentService) Create(ctx context.Context, a *model.Assessment) error {
	a.Status = model.AssessmentStatusDraft
	return s.assessmentRepo.Create(ctx, a)
}

// Update edits an assessment's metadata. Published assessments get their
// cache re-warmed so the duration students see stays in sync.
func (s *AssessmentService) Update(ctx context.Context, assessmentID uuid.UUID, authorID int, req *model.UpdateAssessmentRequest) (*model.Assessment, error) {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	if assessment.AuthorID != authorID {
		return nil, ErrNotAssessmentAuthor
	}

	if req.Title != "" {
		assessment.Title = req.Title
	}
	if req.ScheduledStart != nil {
		assessment.ScheduledStart = req.ScheduledStart
	}
	if req.ScheduledEnd != nil {
		assessment.ScheduledEnd = req.ScheduledEnd
	}
	if req.DurationMinutes > 0 {
		assessment.DurationMinutes = req.DurationMinutes
	}
	if req.AccessCode != "" {
		assessment.AccessCode = req.AccessCode
	}

	if err := s.assessmentRepo.Update(ctx, assessment); err != nil {
		return nil, fmt.Errorf("update assessment: %w", err)
	}

	if assessment.Status == model.AssessmentStatusPublished {
		if err := s.WarmAssessmentCache(ctx, assessment); err != nil {
			s.log.Warn().Err(err).Str("assessment_id", assessmentID.String()).Msg("Cache re-warm after update failed")
		}
	}

	return assessment, nil
}

// Publish changes assessment status to PUBLISHED and caches the payload,
// duration, and answer key in Redis. This is the critical path that populates
// the fast lane students read from during a live assessment.
func (s *AssessmentService) Publish(ctx context.Context, assessmentID uuid.UUID, authorID int) error {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}

	if assessment.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}
	if assessment.Status != model.AssessmentStatusDraft {
		return ErrAssessmentNotDraft
	}

	if err := s.WarmAssessmentCache(ctx, assessment); err != nil {
		return err
	}

	if err := s.assessmentRepo.UpdateStatus(ctx, assessmentID, model.AssessmentStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("assessment_id", assessmentID.String()).Msg("Assessment published")
	return nil
}

// RefreshCache re-caches the payload + answer key for a published assessment.
// Called when questions are updated after publish.
func (s *AssessmentService) RefreshCache(ctx context.Context, assessmentID uuid.UUID, authorID int) error {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}

	if authorID != 0 && assessment.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}
	if assessment.Status != model.AssessmentStatusPublished {
		return ErrAssessmentNotPublished
	}

	if err := s.WarmAssessmentCache(ctx, assessment); err != nil {
		return err
	}

	s.log.Info().Str("assessment_id", assessmentID.String()).Msg("Cache refreshed")
	return nil
}

// WarmAssessmentCache loads an assessment's payload, duration and answer key
// from PostgreSQL into Redis. Used by Publish, RefreshCache and PrewarmAllCaches.
func (s *AssessmentService) WarmAssessmentCache(ctx context.Context, assessment *model.Assessment) error {
	questions, err := s.questionRepo.ListByAssessment(ctx, assessment.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	// Build student-facing payload (without correct answers).
	studentQuestions := make([]model.QuestionForStudent, len(questions))
	for i, q := range questions {
		studentQuestions[i] = model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Options:      q.Options,
			OrderNum:     q.OrderNum,
		}
	}

	payload := model.AssessmentPayload{
		AssessmentID: assessment.ID,
		Title:        assessment.Title,
		Duration:     assessment.DurationMinutes,
		Questions:    studentQuestions,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// Answer key covers auto-gradable questions only; essays are graded by hand.
	answerKey := make(map[string]interface{}, len(questions))
	for _, q := range questions {
		if q.QuestionType == model.QuestionTypeMultipleChoice {
			answerKey[q.ID.String()] = q.CorrectOption
		}
	}

	id := assessment.ID.String()

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AssessmentPayloadKey(id), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.AssessmentDurationKey(id), assessment.DurationMinutes, 0)
	pipe.Del(ctx, config.CacheKey.AssessmentAnswerKey(id))
	if len(answerKey) > 0 {
		pipe.HSet(ctx, config.CacheKey.AssessmentAnswerKey(id), answerKey)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("assessment_id", id).
		Int("questions", len(questions)).
		Msg("Assessment cache warmed")

	return nil
}

// PrewarmAllCaches loads every published assessment into Redis. Called at boot
// before traffic is accepted so a restarted server never lazy-loads under a
// thundering herd of mid-assessment clients.
func (s *AssessmentService) PrewarmAllCaches(ctx context.Context) error {
	assessments, err := s.assessmentRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published: %w", err)
	}

	warmed := 0
	for i := range assessments {
		if err := s.WarmAssessmentCache(ctx, &assessments[i]); err != nil {
			s.log.Warn().Err(err).
				Str("assessment_id", assessments[i].ID.String()).
				Msg("Prewarm failed for assessment")
			continue
		}
		warmed++
	}

	s.log.Info().Int("count", warmed).Msg("Assessment caches prewarmed")
	return nil
}

// GetPayload returns the cached student-facing paper for an assessment.
func (s *AssessmentService) GetPayload(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentPayload, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.AssessmentPayloadKey(assessmentID.String())).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Cache miss — rebuild from PostgreSQL if the assessment is live.
			assessment, dbErr := s.assessmentRepo.GetByID(ctx, assessmentID)
			if dbErr != nil {
				return nil, fmt.Errorf("assessment not found: %w", dbErr)
			}
			if assessment.Status != model.AssessmentStatusPublished {
				return nil, ErrAssessmentNotPublished
			}
			if err := s.WarmAssessmentCache(ctx, assessment); err != nil {
				return nil, err
			}
			raw, err = s.rdb.Get(ctx, config.CacheKey.AssessmentPayloadKey(assessmentID.String())).Result()
			if err != nil {
				return nil, fmt.Errorf("get payload after warm: %w", err)
			}
		} else {
			return nil, fmt.Errorf("get payload: %w", err)
		}
	}

	var payload model.AssessmentPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// AddQuestion appends a question to a draft assessment.
func (s *AssessmentService) AddQuestion(ctx context.Context, assessmentID uuid.UUID, authorID int, q *model.Question) error {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}
	if assessment.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}

	q.AssessmentID = assessmentID
	return s.questionRepo.Create(ctx, q)
}

// ReplaceQuestions swaps the full question set of an assessment.
func (s *AssessmentService) ReplaceQuestions(ctx context.Context, assessmentID uuid.UUID, authorID int, questions []model.Question) error {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}
	if assessment.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}

	if err := s.questionRepo.ReplaceAll(ctx, assessmentID, questions); err != nil {
		return err
	}

	// A published assessment keeps serving the cached paper until re-warmed.
	if assessment.Status == model.AssessmentStatusPublished {
		if err := s.WarmAssessmentCache(ctx, assessment); err != nil {
			s.log.Warn().Err(err).Msg("Cache re-warm after question replace failed")
		}
	}
	return nil
}

// ListQuestions returns the full question set (correct answers included) for the author.
func (s *AssessmentService) ListQuestions(ctx context.Context, assessmentID uuid.UUID, authorID int) ([]model.Question, error) {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	if assessment.AuthorID != authorID {
		return nil, ErrNotAssessmentAuthor
	}
	return s.questionRepo.ListByAssessment(ctx, assessmentID)
}
