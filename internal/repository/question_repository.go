package repository

import (
	"context"
	"fmt"

	"github.com/assesshub/assess-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByAssessment retrieves all questions for an assessment, ordered by order_num.
func (r *QuestionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, question_text, question_type, options, correct_option, order_num
		 FROM questions WHERE assessment_id = $1
		 ORDER BY order_num`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.QuestionText, &q.QuestionType, &q.Options, &q.CorrectOption, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (assessment_id, question_text, question_type, options, correct_option, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		q.AssessmentID, q.QuestionText, q.QuestionType, q.Options, q.CorrectOption, q.OrderNum,
	).Scan(&q.ID)
}

// ReplaceAll atomically swaps the full question set of an assessment and
// refreshes the cached question_count.
func (r *QuestionRepository) ReplaceAll(ctx context.Context, assessmentID uuid.UUID, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM questions WHERE assessment_id = $1`, assessmentID,
	); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}

	for i := range questions {
		q := &questions[i]
		if err := tx.QueryRow(ctx,
			`INSERT INTO questions (assessment_id, question_text, question_type, options, correct_option, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			assessmentID, q.QuestionText, q.QuestionType, q.Options, q.CorrectOption, q.OrderNum,
		).Scan(&q.ID); err != nil {
			return fmt.Errorf("insert question %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE assessments SET question_count = $1, updated_at = NOW() WHERE id = $2`,
		len(questions), assessmentID,
	); err != nil {
		return fmt.Errorf("update question count: %w", err)
	}

	return tx.Commit(ctx)
}
