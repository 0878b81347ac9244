package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/assesshub/assess-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubmissionResult combines student data with their submission details.
type SubmissionResult struct {
	StudentID   int                    `json:"student_id"`
	StudentNo   string                 `json:"student_no"`
	Name        string                 `json:"name"`
	Score       *float64               `json:"score"`
	Status      model.SubmissionStatus `json:"status"`
	StartedAt   *time.Time             `json:"started_at"`
	SubmittedAt *time.Time             `json:"submitted_at"`
}

// OverdueSubmission identifies a force-submitted attempt for downstream evaluation.
type OverdueSubmission struct {
	ID           uuid.UUID
	AssessmentID uuid.UUID
	StudentID    int
}

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// GetByID retrieves a submission by its UUID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, assessment_id, student_id, status, started_at, submitted_at, evaluated_at, score
		 FROM submissions
		 WHERE id = $1`, id,
	).Scan(&s.ID, &s.AssessmentID, &s.StudentID, &s.Status, &s.StartedAt, &s.SubmittedAt, &s.EvaluatedAt, &s.Score)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByAssessmentAndStudent retrieves the single submission for an
// assessment-student combination, if any.
func (r *SubmissionRepository) GetByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, assessment_id, student_id, status, started_at, submitted_at, evaluated_at, score
		 FROM submissions
		 WHERE assessment_id = $1 AND student_id = $2`, assessmentID, studentID,
	).Scan(&s.ID, &s.AssessmentID, &s.StudentID, &s.Status, &s.StartedAt, &s.SubmittedAt, &s.EvaluatedAt, &s.Score)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new submission. The unique (assessment_id, student_id)
// constraint makes concurrent starts collapse into a single attempt:
// ON CONFLICT DO NOTHING returns pgx.ErrNoRows for the loser, which callers
// resolve by fetching the existing record.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO submissions (assessment_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (assessment_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		s.AssessmentID, s.StudentID, model.SubmissionStatusInProgress,
	).Scan(&s.ID, &s.StartedAt)
}

// ListByStudent retrieves all submissions for a given student.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, student_id, status, started_at, submitted_at, evaluated_at, score
		 FROM submissions
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.AssessmentID, &s.StudentID, &s.Status, &s.StartedAt, &s.SubmittedAt, &s.EvaluatedAt, &s.Score); err != nil {
			return nil, err
		}
		submissions = append(submissions, s)
	}
	return submissions, rows.Err()
}

// Submit performs the terminal transition in one transaction: the row is
// locked, the full answer buffer is upserted, and status moves to SUBMITTED.
// If the submission is already closed the existing record is returned
// untouched, making repeat calls idempotent.
func (r *SubmissionRepository) Submit(ctx context.Context, id uuid.UUID, answers map[uuid.UUID]string, submittedAt time.Time) (*model.Submission, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s := &model.Submission{}
	err = tx.QueryRow(ctx,
		`SELECT id, assessment_id, student_id, status, started_at, submitted_at, evaluated_at, score
		 FROM submissions
		 WHERE id = $1
		 FOR UPDATE`, id,
	).Scan(&s.ID, &s.AssessmentID, &s.StudentID, &s.Status, &s.StartedAt, &s.SubmittedAt, &s.EvaluatedAt, &s.Score)
	if err != nil {
		return nil, err
	}

	if s.Status.Closed() {
		return s, nil
	}

	// The submit buffer is authoritative: it overwrites whatever autosave
	// managed to persist before now.
	for qID, ans := range answers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO submission_answers (submission_id, question_id, answer)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (submission_id, question_id) DO UPDATE
			 SET answer = EXCLUDED.answer, updated_at = NOW()`,
			id, qID, ans,
		); err != nil {
			return nil, fmt.Errorf("upsert answer %s: %w", qID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE submissions SET status = $1, submitted_at = $2 WHERE id = $3`,
		model.SubmissionStatusSubmitted, submittedAt, id,
	); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.Status = model.SubmissionStatusSubmitted
	s.SubmittedAt = &submittedAt
	return s, nil
}

// ListAnswers retrieves the persisted answers for a submission, in question order.
func (r *SubmissionRepository) ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]model.SubmissionAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT sa.submission_id, sa.question_id, sa.answer, sa.updated_at
		 FROM submission_answers sa
		 JOIN questions q ON q.id = sa.question_id
		 WHERE sa.submission_id = $1
		 ORDER BY q.order_num`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.SubmissionAnswer
	for rows.Next() {
		var a model.SubmissionAnswer
		if err := rows.Scan(&a.SubmissionID, &a.QuestionID, &a.Answer, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ForceSubmitOverdue moves every IN_PROGRESS submission whose deadline plus
// grace has passed to SUBMITTED. submitted_at is clamped to the deadline so a
// force-closed attempt never shows a later turn-in time than the student was
// allowed. Returns the affected submissions for evaluation.
func (r *SubmissionRepository) ForceSubmitOverdue(ctx context.Context, graceSeconds int) ([]OverdueSubmission, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE submissions s
		 SET status = 'SUBMITTED',
		     submitted_at = s.started_at + make_interval(mins => a.duration_minutes)
		 FROM assessments a
		 WHERE a.id = s.assessment_id
		   AND s.status = 'IN_PROGRESS'
		   AND NOW() > s.started_at + make_interval(mins => a.duration_minutes, secs => $1)
		 RETURNING s.id, s.assessment_id, s.student_id`,
		graceSeconds,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []OverdueSubmission
	for rows.Next() {
		var o OverdueSubmission
		if err := rows.Scan(&o.ID, &o.AssessmentID, &o.StudentID); err != nil {
			return nil, err
		}
		overdue = append(overdue, o)
	}
	return overdue, rows.Err()
}

// ListByAssessment retrieves all student results for an assessment, paginated.
func (r *SubmissionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID, page, perPage int) ([]SubmissionResult, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE assessment_id = $1`, assessmentID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT st.id, st.student_no, st.name, s.score, s.status, s.started_at, s.submitted_at
		 FROM submissions s
		 JOIN students st ON s.student_id = st.id
		 WHERE s.assessment_id = $1
		 ORDER BY st.name ASC
		 LIMIT $2 OFFSET $3`,
		assessmentID, perPage, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []SubmissionResult
	for rows.Next() {
		var res SubmissionResult
		if err := rows.Scan(
			&res.StudentID, &res.StudentNo, &res.Name,
			&res.Score, &res.Status, &res.StartedAt, &res.SubmittedAt,
		); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}

	return results, total, rows.Err()
}
