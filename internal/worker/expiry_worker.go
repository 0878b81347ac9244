package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/assesshub/assess-backend/internal/config"
	"github.com/assesshub/assess-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ExpiryWorker periodically force-submits attempts that ran past their
// deadline plus grace. It is the server-side backstop for clients that
// disappeared mid-attempt; a live client submits itself before the sweep
// ever sees it.
type ExpiryWorker struct {
	submissionRepo *repository.SubmissionRepository
	rdb            *redis.Client
	interval       time.Duration
	graceSeconds   int
	log            zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(
	submissionRepo *repository.SubmissionRepository,
	rdb *redis.Client,
	interval time.Duration,
	graceSeconds int,
	log zerolog.Logger,
) *ExpiryWorker {
	return &ExpiryWorker{
		submissionRepo: submissionRepo,
		rdb:            rdb,
		interval:       interval,
		graceSeconds:   graceSeconds,
		log:            log.With().Str("component", "expiry_worker").Logger(),
	}
}

func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Int("grace_seconds", w.graceSeconds).
		Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	overdue, err := w.submissionRepo.ForceSubmitOverdue(ctx, w.graceSeconds)
	if err != nil {
		w.log.Error().Err(err).Msg("Force-submit sweep failed")
		return
	}
	if len(overdue) == 0 {
		return
	}

	w.log.Info().Int("count", len(overdue)).Msg("Force-submitted overdue submissions")

	pipe := w.rdb.Pipeline()
	for _, o := range overdue {
		payload, err := json.Marshal(map[string]interface{}{
			"submission_id": o.ID.String(),
			"assessment_id": o.AssessmentID.String(),
			"student_id":    o.StudentID,
		})
		if err != nil {
			continue
		}
		pipe.RPush(ctx, config.WorkerKey.EvaluateSubmissionsQueue, payload)
		pipe.Del(ctx, config.CacheKey.StudentActiveSubmissionKey(o.StudentID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("Failed to enqueue evaluations for overdue submissions")
	}
}
