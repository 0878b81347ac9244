package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/assesshub/assess-backend/internal/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	EvalBatchSize    = 50
	EvalBatchTimeout = 2 * time.Second
	EvalPollTimeout  = 1 * time.Second
)

// EvaluationWorker consumes evaluate_submissions_queue and grades submitted
// attempts: multiple-choice answers are scored against the cached answer key
// and the submission moves SUBMITTED → EVALUATED in bulk.
type EvaluationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewEvaluationWorker creates a new EvaluationWorker.
func NewEvaluationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *EvaluationWorker {
	return &EvaluationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "evaluation_worker").Logger(),
	}
}

type evaluatePayload struct {
	SubmissionID string `json:"submission_id"`
	AssessmentID string `json:"assessment_id"`
	StudentID    int    `json:"student_id"`
}

type gradedSubmission struct {
	payload *evaluatePayload
	score   float64
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *EvaluationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EvaluationWorker started")

	batch := make([]*evaluatePayload, 0, EvalBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= EvalBatchSize || time.Since(lastFlush) >= EvalBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, EvalPollTimeout, config.WorkerKey.EvaluateSubmissionsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p evaluatePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

// ----------------------------------------------------------------
// Grading + batch update wrapper
// ----------------------------------------------------------------

func (w *EvaluationWorker) flushSafe(ctx context.Context, batch []*evaluatePayload) {
	if len(batch) == 0 {
		return
	}

	graded := make([]*gradedSubmission, 0, len(batch))
	for _, p := range batch {
		score, err := w.grade(ctx, p)
		if err != nil {
			w.log.Error().Err(err).
				Str("submission_id", p.SubmissionID).
				Msg("Grading failed — requeueing")
			raw, _ := json.Marshal(p)
			w.rdb.RPush(ctx, config.WorkerKey.EvaluateSubmissionsQueue, raw)
			continue
		}
		graded = append(graded, &gradedSubmission{payload: p, score: score})
	}

	if len(graded) == 0 {
		return
	}

	if err := w.bulkEvaluate(ctx, graded); err != nil {
		w.log.Warn().Err(err).Msg("Bulk evaluate failed, using fallback")

		for _, g := range graded {
			if err := w.evaluateSingle(ctx, g); err != nil {
				w.log.Error().Err(err).Msg("evaluateSingle failed — requeueing")
				raw, _ := json.Marshal(g.payload)
				w.rdb.RPush(ctx, config.WorkerKey.EvaluateSubmissionsQueue, raw)
			}
		}
		return
	}

	// Evaluation is terminal — the autosave buffers are no longer needed.
	w.bulkClearAutosaveBuffers(ctx, graded)
}

// grade scores one submission: persisted answers vs the cached answer key.
// Essay questions are outside the key and do not count toward the auto score.
func (w *EvaluationWorker) grade(ctx context.Context, p *evaluatePayload) (float64, error) {
	answerKey, err := w.answerKey(ctx, p.AssessmentID)
	if err != nil {
		return 0, err
	}

	submissionID, err := uuid.Parse(p.SubmissionID)
	if err != nil {
		return 0, err
	}

	rows, err := w.pool.Query(ctx,
		`SELECT question_id, answer FROM submission_answers WHERE submission_id = $1`,
		submissionID,
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var qID uuid.UUID
		var ans string
		if err := rows.Scan(&qID, &ans); err != nil {
			return 0, err
		}
		answers[qID.String()] = ans
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	correct := 0
	total := len(answerKey)
	for qID, correctAns := range answerKey {
		if studentAns, ok := answers[qID]; ok && studentAns == correctAns {
			correct++
		}
	}

	var score float64
	if total > 0 {
		score = (float64(correct) / float64(total)) * 100
	}
	return score, nil
}

// answerKey reads the cached key, rebuilding it from PostgreSQL on a miss.
func (w *EvaluationWorker) answerKey(ctx context.Context, assessmentID string) (map[string]string, error) {
	keyName := config.CacheKey.AssessmentAnswerKey(assessmentID)
	key, err := w.rdb.HGetAll(ctx, keyName).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(key) > 0 {
		return key, nil
	}

	id, err := uuid.Parse(assessmentID)
	if err != nil {
		return nil, err
	}

	rows, err := w.pool.Query(ctx,
		`SELECT id, correct_option FROM questions
		 WHERE assessment_id = $1 AND question_type = 'MULTIPLE_CHOICE'`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key = make(map[string]string)
	restore := make(map[string]interface{})
	for rows.Next() {
		var qID uuid.UUID
		var correct string
		if err := rows.Scan(&qID, &correct); err != nil {
			return nil, err
		}
		key[qID.String()] = correct
		restore[qID.String()] = correct
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(restore) > 0 {
		_ = w.rdb.HSet(ctx, keyName, restore).Err()
	}
	return key, nil
}

// ----------------------------------------------------------------
// BULK PostgreSQL UPDATE using UNNEST + alias
// ----------------------------------------------------------------

func (w *EvaluationWorker) bulkEvaluate(ctx context.Context, graded []*gradedSubmission) error {
	n := len(graded)

	ids := make([]uuid.UUID, 0, n)
	scores := make([]float64, 0, n)
	evaluatedAts := make([]time.Time, n)

	now := time.Now()
	for i, g := range graded {
		id, err := uuid.Parse(g.payload.SubmissionID)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		scores = append(scores, g.score)
		evaluatedAts[i] = now
	}

	query := `
		UPDATE submissions AS s
		SET status = 'EVALUATED',
		    score = t.score,
		    evaluated_at = t.evaluated_at
		FROM (
			SELECT
				u.id,
				u.score,
				u.evaluated_at
			FROM UNNEST(
				$1::uuid[],
				$2::float8[],
				$3::timestamptz[]
			) AS u (id, score, evaluated_at)
		) AS t
		WHERE s.id = t.id
		  AND s.status = 'SUBMITTED'
	`

	_, err := w.pool.Exec(ctx, query, ids, scores, evaluatedAts)
	return err
}

// ----------------------------------------------------------------
// BULK Redis DEL for clearing autosave buffers
// ----------------------------------------------------------------

func (w *EvaluationWorker) bulkClearAutosaveBuffers(ctx context.Context, graded []*gradedSubmission) {
	pipe := w.rdb.Pipeline()

	for _, g := range graded {
		pipe.Del(ctx, config.CacheKey.SubmissionAnswersKey(g.payload.SubmissionID))
		pipe.Del(ctx, config.CacheKey.SubmissionStartKey(g.payload.SubmissionID))
	}

	_, _ = pipe.Exec(ctx)
}

// ----------------------------------------------------------------
// FALLBACK single update
// ----------------------------------------------------------------

func (w *EvaluationWorker) evaluateSingle(ctx context.Context, g *gradedSubmission) error {
	id, err := uuid.Parse(g.payload.SubmissionID)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = 'EVALUATED',
		     score = $1,
		     evaluated_at = NOW()
		 WHERE id = $2 AND status = 'SUBMITTED'`,
		g.score, id,
	)

	return err
}
