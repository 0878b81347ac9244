package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/assesshub/assess-backend/internal/config"
	"github.com/assesshub/assess-backend/internal/model"
	"github.com/assesshub/assess-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Submission domain errors.
var (
	ErrAssessmentNotAvailable = errors.New("assessment is not available")
	ErrInvalidAccessCode      = errors.New("invalid access code")
	ErrNotSubmissionOwner     = errors.New("submission belongs to another student")
	ErrSubmissionClosed       = errors.New("submission is already closed")
	ErrTimeExpired            = errors.New("submission time has expired")
)

// SubmissionService implements the submission store: the durable lifecycle of
// a student's attempt (start-or-resume, autosave, terminal submit, state).
type SubmissionService struct {
	submissionRepo *repository.SubmissionRepository
	assessmentRepo *repository.AssessmentRepository
	rdb            *redis.Client
	grace          time.Duration
	log            zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	submissionRepo *repository.SubmissionRepository,
	assessmentRepo *repository.AssessmentRepository,
	rdb *redis.Client,
	grace time.Duration,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		submissionRepo: submissionRepo,
		assessmentRepo: assessmentRepo,
		rdb:            rdb,
		grace:          grace,
		log:            log.With().Str("component", "submission_service").Logger(),
	}
}

// PortalAssessment is an assessment as displayed in the student portal, with
// the student's own submission status overlaid.
type PortalAssessment struct {
	model.Assessment
	SubmissionID     *uuid.UUID              `json:"submission_id,omitempty"`
	SubmissionStatus *model.SubmissionStatus `json:"submission_status,omitempty"`
	Score            *float64                `json:"score,omitempty"`
}

// GetPortal returns published assessments with the student's submission overlay.
func (s *SubmissionService) GetPortal(ctx context.Context, studentID int) ([]PortalAssessment, error) {
	assessments, err := s.assessmentRepo.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list published: %w", err)
	}

	submissions, err := s.submissionRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	subMap := make(map[uuid.UUID]*model.Submission, len(submissions))
	for i := range submissions {
		subMap[submissions[i].AssessmentID] = &submissions[i]
	}

	var portal []PortalAssessment
	now := time.Now()

	for i := range assessments {
		a := assessments[i]

		// Hide assessments whose window has not opened or is already over,
		// unless the student has a submission to show results for.
		sub, hasSub := subMap[a.ID]
		if !hasSub {
			if a.ScheduledStart != nil && a.ScheduledStart.After(now) {
				continue
			}
			if a.ScheduledEnd != nil && a.ScheduledEnd.Before(now) {
				continue
			}
		}

		// Never leak the access code through the portal listing.
		a.AccessCode = ""

		entry := PortalAssessment{Assessment: a}
		if hasSub {
			entry.SubmissionID = &sub.ID
			entry.SubmissionStatus = &sub.Status
			entry.Score = sub.Score
		}
		portal = append(portal, entry)
	}

	return portal, nil
}

// StartOrResume returns the student's submission for an assessment, creating
// it on first call. Resuming never creates a duplicate: the unique
// (assessment, student) constraint collapses concurrent starts into one row.
func (s *SubmissionService) StartOrResume(ctx context.Context, assessmentID uuid.UUID, studentID int, accessCode string) (*model.Submission, error) {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	if assessment.Status != model.AssessmentStatusPublished {
		return nil, ErrAssessmentNotAvailable
	}
	now := time.Now()
	if assessment.ScheduledStart != nil && assessment.ScheduledStart.After(now) {
		return nil, ErrAssessmentNotAvailable
	}
	if assessment.ScheduledEnd != nil && assessment.ScheduledEnd.Before(now) {
		return nil, ErrAssessmentNotAvailable
	}
	if assessment.AccessCode != "" && assessment.AccessCode != accessCode {
		return nil, ErrInvalidAccessCode
	}

	existing, err := s.submissionRepo.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing submission: %w", err)
	}

	// Resume path: re-seed the cached start time so a reloading client keeps
	// its original countdown no matter which device it resumes from.
	if existing != nil {
		s.cacheStart(ctx, existing)
		return existing, nil
	}

	submission := &model.Submission{
		AssessmentID: assessmentID,
		StudentID:    studentID,
		// StartedAt is set by the DB default NOW(); we need it for Redis.
		StartedAt: now,
	}

	if err := s.submissionRepo.Create(ctx, submission); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start from another tab won the insert race.
			existing, fetchErr := s.submissionRepo.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			s.cacheStart(ctx, existing)
			return existing, nil
		}
		return nil, fmt.Errorf("create submission: %w", err)
	}

	submission.Status = model.SubmissionStatusInProgress
	s.cacheStart(ctx, submission)

	s.log.Info().
		Str("submission_id", submission.ID.String()).
		Int("student_id", studentID).
		Msg("Submission started")

	return submission, nil
}

// cacheStart stores the start timestamp and active-submission pointer in Redis.
// Failures are logged, not fatal: RemainingSeconds falls back to PostgreSQL.
func (s *SubmissionService) cacheStart(ctx context.Context, sub *model.Submission) {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.SubmissionStartKey(sub.ID.String()), sub.StartedAt.Unix(), 0)
	if !sub.Status.Closed() {
		pipe.Set(ctx, config.CacheKey.StudentActiveSubmissionKey(sub.StudentID), sub.ID.String(), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to cache start time")
	}
}

// VerifyAttempt checks that the student has a submission for the assessment
// and returns it. Gate for the paper endpoint: no attempt, no questions.
func (s *SubmissionService) VerifyAttempt(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Submission, error) {
	sub, err := s.submissionRepo.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err != nil {
		return nil, fmt.Errorf("verify attempt: %w", err)
	}
	return sub, nil
}

// GetOwned fetches a submission and verifies the student owns it.
func (s *SubmissionService) GetOwned(ctx context.Context, submissionID uuid.UUID, studentID int) (*model.Submission, error) {
	sub, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub.StudentID != studentID {
		return nil, ErrNotSubmissionOwner
	}
	return sub, nil
}

// SaveAnswer autosaves a single answer: the Redis hash is the hot buffer and
// the persist queue hands it to the autosave worker for durable storage.
// Rejected once the submission is closed or past its deadline plus grace.
func (s *SubmissionService) SaveAnswer(ctx context.Context, submissionID uuid.UUID, studentID int, questionID uuid.UUID, answer string) error {
	sub, err := s.GetOwned(ctx, submissionID, studentID)
	if err != nil {
		return err
	}
	if sub.Status.Closed() {
		return ErrSubmissionClosed
	}

	left, err := s.timeLeft(ctx, sub)
	if err != nil {
		return err
	}
	if left < -s.grace {
		return ErrTimeExpired
	}

	answersKey := config.CacheKey.SubmissionAnswersKey(submissionID.String())
	if err := s.rdb.HSet(ctx, answersKey, questionID.String(), answer).Err(); err != nil {
		return fmt.Errorf("autosave to redis: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"submission_id": submissionID.String(),
		"question_id":   questionID.String(),
		"answer":        answer,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		// The hash still holds the answer and the final submit re-sends the
		// full set, so a queue hiccup is not data loss.
		s.log.Warn().Err(err).Str("submission_id", submissionID.String()).Msg("Persist queue push failed")
	}

	return nil
}

// Submit performs the terminal transition with the client's full answer
// buffer. Idempotent: a repeat call (second tab, retry after timeout) returns
// the already-submitted record without error or side effects.
func (s *SubmissionService) Submit(ctx context.Context, submissionID uuid.UUID, studentID int, answers map[string]string) (*model.Submission, error) {
	sub, err := s.GetOwned(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Closed() {
		return sub, nil
	}

	parsed := make(map[uuid.UUID]string, len(answers))
	for qid, ans := range answers {
		id, err := uuid.Parse(qid)
		if err != nil {
			return nil, fmt.Errorf("invalid question id %q: %w", qid, err)
		}
		parsed[id] = ans
	}

	submitted, err := s.submissionRepo.Submit(ctx, submissionID, parsed, time.Now())
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	s.enqueueEvaluation(ctx, submitted)
	s.rdb.Del(ctx, config.CacheKey.StudentActiveSubmissionKey(studentID))

	s.log.Info().
		Str("submission_id", submissionID.String()).
		Int("answers", len(answers)).
		Msg("Submission turned in")

	return submitted, nil
}

// enqueueEvaluation hands a submitted attempt to the evaluation worker.
func (s *SubmissionService) enqueueEvaluation(ctx context.Context, sub *model.Submission) {
	payload, _ := json.Marshal(map[string]interface{}{
		"submission_id": sub.ID.String(),
		"assessment_id": sub.AssessmentID.String(),
		"student_id":    sub.StudentID,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.EvaluateSubmissionsQueue, payload).Err(); err != nil {
		// The expiry worker re-enqueues stragglers, so this is recoverable.
		s.log.Error().Err(err).Str("submission_id", sub.ID.String()).Msg("Evaluation enqueue failed")
	}
}

// RemainingSeconds recomputes the time left on a submission from the wall
// clock (deadline minus now), never from a decrementing counter, clamped at
// zero for display.
func (s *SubmissionService) RemainingSeconds(ctx context.Context, sub *model.Submission) (float64, error) {
	if sub.Status.Closed() {
		return 0, nil
	}
	left, err := s.timeLeft(ctx, sub)
	if err != nil {
		return 0, err
	}
	if left < 0 {
		left = 0
	}
	return left.Seconds(), nil
}

// timeLeft returns the unclamped duration until the submission's deadline.
// Negative values mean the deadline has passed. Start time comes from Redis
// with a PostgreSQL fallback that self-heals the cache.
func (s *SubmissionService) timeLeft(ctx context.Context, sub *model.Submission) (time.Duration, error) {
	durationMinutes, err := s.assessmentDuration(ctx, sub.AssessmentID)
	if err != nil {
		return 0, err
	}

	var startUnix int64
	startKey := config.CacheKey.SubmissionStartKey(sub.ID.String())

	val, err := s.rdb.Get(ctx, startKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Cache miss (eviction, restart). The submission row is the source
		// of truth; put it back so the next request is fast.
		startUnix = sub.StartedAt.Unix()
		_ = s.rdb.Set(ctx, startKey, startUnix, 0)
	case err != nil:
		return 0, fmt.Errorf("redis error getting start time: %w", err)
	default:
		startUnix, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid start time format in cache: %w", err)
		}
	}

	deadline := time.Unix(startUnix, 0).Add(time.Duration(durationMinutes) * time.Minute)
	return time.Until(deadline), nil
}

// assessmentDuration reads the cached duration, falling back to PostgreSQL.
func (s *SubmissionService) assessmentDuration(ctx context.Context, assessmentID uuid.UUID) (int, error) {
	val, err := s.rdb.Get(ctx, config.CacheKey.AssessmentDurationKey(assessmentID.String())).Result()
	if err == nil {
		minutes, parseErr := strconv.Atoi(val)
		if parseErr == nil {
			return minutes, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis error getting duration: %w", err)
	}

	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return 0, fmt.Errorf("get assessment for duration: %w", err)
	}
	_ = s.rdb.Set(ctx, config.CacheKey.AssessmentDurationKey(assessmentID.String()), assessment.DurationMinutes, 0)
	return assessment.DurationMinutes, nil
}

// GetState is the reload/resume endpoint payload: autosaved answers plus the
// remaining time, so a refreshed client resumes exactly where it left off
// without restarting the clock.
func (s *SubmissionService) GetState(ctx context.Context, submissionID uuid.UUID, studentID int) (*model.SubmissionState, error) {
	sub, err := s.GetOwned(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}

	answersKey := config.CacheKey.SubmissionAnswersKey(submissionID.String())
	answers, err := s.rdb.HGetAll(ctx, answersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("get autosaved answers: %w", err)
	}

	// Hash lost (eviction, restart): rebuild it from the durably persisted
	// answers so the student doesn't resume with a blank paper.
	if len(answers) == 0 && !sub.Status.Closed() {
		persisted, dbErr := s.submissionRepo.ListAnswers(ctx, submissionID)
		if dbErr != nil {
			return nil, fmt.Errorf("list persisted answers: %w", dbErr)
		}
		if len(persisted) > 0 {
			answers = make(map[string]string, len(persisted))
			restore := make(map[string]interface{}, len(persisted))
			for _, a := range persisted {
				answers[a.QuestionID.String()] = a.Answer
				restore[a.QuestionID.String()] = a.Answer
			}
			_ = s.rdb.HSet(ctx, answersKey, restore)
		}
	}
	if answers == nil {
		answers = map[string]string{}
	}

	remaining, err := s.RemainingSeconds(ctx, sub)
	if err != nil {
		return nil, err
	}

	return &model.SubmissionState{
		SubmissionID:     sub.ID,
		AssessmentID:     sub.AssessmentID,
		Status:           sub.Status,
		StartedAt:        sub.StartedAt,
		AutosavedAnswers: answers,
		RemainingSeconds: remaining,
	}, nil
}

// GetResults retrieves paginated submission results for an assessment.
func (s *SubmissionService) GetResults(ctx context.Context, assessmentID uuid.UUID, page, perPage int) ([]repository.SubmissionResult, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return s.submissionRepo.ListByAssessment(ctx, assessmentID, page, perPage)
}

// ActiveSubmissionID returns the student's currently open submission id, if any.
func (s *SubmissionService) ActiveSubmissionID(ctx context.Context, studentID int) (*uuid.UUID, error) {
	val, err := s.rdb.Get(ctx, config.CacheKey.StudentActiveSubmissionKey(studentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active submission: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return nil, nil
	}
	// Verify it is still open; the pointer can outlive a force-submit.
	sub, err := s.submissionRepo.GetByID(ctx, id)
	if err != nil || sub.Status.Closed() {
		_ = s.rdb.Del(ctx, config.CacheKey.StudentActiveSubmissionKey(studentID))
		return nil, nil
	}
	return &id, nil
}
