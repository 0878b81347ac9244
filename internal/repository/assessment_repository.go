package repository

import (
	"context"

	"github.com/assesshub/assess-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AssessmentRepository handles assessment data access.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

const assessmentColumns = `id, title, author_id, scheduled_start, scheduled_end,
	duration_minutes, access_code, question_count, status, created_at, updated_at`

func scanAssessment(row interface{ Scan(...any) error }) (*model.Assessment, error) {
	a := &model.Assessment{}
	err := row.Scan(
		&a.ID, &a.Title, &a.AuthorID, &a.ScheduledStart, &a.ScheduledEnd,
		&a.DurationMinutes, &a.AccessCode, &a.QuestionCount, &a.Status,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an assessment by its UUID.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	return scanAssessment(r.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id))
}

// Create inserts a new assessment.
func (r *AssessmentRepository) Create(ctx context.Context, a *model.Assessment) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO assessments (title, author_id, scheduled_start, scheduled_end, duration_minutes, access_code, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		a.Title, a.AuthorID, a.ScheduledStart, a.ScheduledEnd, a.DurationMinutes, a.AccessCode, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// Update modifies an existing assessment's mutable fields.
func (r *AssessmentRepository) Update(ctx context.Context, a *model.Assessment) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE assessments
		 SET title = $1, scheduled_start = $2, scheduled_end = $3,
		     duration_minutes = $4, access_code = $5, updated_at = NOW()
		 WHERE id = $6`,
		a.Title, a.ScheduledStart, a.ScheduledEnd, a.DurationMinutes, a.AccessCode, a.ID)
	return err
}

// UpdateStatus transitions the assessment to a new status.
func (r *AssessmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssessmentStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE assessments SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// ListByAuthorPaginated retrieves assessments for an author, newest first.
func (r *AssessmentRepository) ListByAuthorPaginated(ctx context.Context, authorID, limit, offset int) ([]model.Assessment, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assessments WHERE author_id = $1`, authorID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+`
		 FROM assessments
		 WHERE author_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		authorID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var assessments []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		assessments = append(assessments, *a)
	}
	return assessments, total, rows.Err()
}

// ListPublished retrieves all currently published assessments.
func (r *AssessmentRepository) ListPublished(ctx context.Context) ([]model.Assessment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+`
		 FROM assessments
		 WHERE status = $1
		 ORDER BY scheduled_start NULLS LAST, created_at DESC`,
		model.AssessmentStatusPublished,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, *a)
	}
	return assessments, rows.Err()
}
