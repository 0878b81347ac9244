package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// autoSaver flushes dirty answers to the store on a fixed interval. A single
// goroutine does all the saving, so flushes never overlap; if one flush runs
// long the next tick simply picks up whatever is dirty by then.
type autoSaver struct {
	store        Store
	submissionID string
	interval     time.Duration
	clock        func() time.Time
	onClosed     func()
	log          zerolog.Logger

	mu          sync.Mutex
	dirty       map[string]string
	saving      bool
	lastSavedAt time.Time
}

func newAutoSaver(store Store, submissionID string, interval time.Duration, clock func() time.Time, onClosed func(), log zerolog.Logger) *autoSaver {
	return &autoSaver{
		store:        store,
		submissionID: submissionID,
		interval:     interval,
		clock:        clock,
		onClosed:     onClosed,
		log:          log.With().Str("component", "autosaver").Logger(),
		dirty:        make(map[string]string),
	}
}

// markDirty queues the latest value of a question for the next flush.
// A newer value for the same question replaces the queued one.
func (s *autoSaver) markDirty(questionID, value string) {
	s.mu.Lock()
	s.dirty[questionID] = value
	s.mu.Unlock()
}

func (s *autoSaver) run(done <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			// Final flush so nothing typed just before closing is lost.
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(context.Background())
		}
	}
}

// flush saves every dirty answer, one at a time. An entry is cleared only if
// its value has not changed since the snapshot, so an edit made during the
// save is never dropped.
func (s *autoSaver) flush(ctx context.Context) {
	s.mu.Lock()
	if s.saving || len(s.dirty) == 0 {
		s.mu.Unlock()
		return
	}
	s.saving = true
	snapshot := make(map[string]string, len(s.dirty))
	for q, v := range s.dirty {
		snapshot[q] = v
	}
	s.mu.Unlock()

	closed := false
	for q, v := range snapshot {
		err := s.store.SaveAnswer(ctx, s.submissionID, q, v)
		if err != nil {
			if errors.Is(err, ErrSubmissionClosed) {
				closed = true
				break
			}
			// Keep the entry dirty; the next tick retries.
			s.log.Warn().Err(err).Str("question_id", q).Msg("Autosave failed, will retry")
			continue
		}

		s.mu.Lock()
		if s.dirty[q] == v {
			delete(s.dirty, q)
		}
		s.lastSavedAt = s.clock()
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.saving = false
	s.mu.Unlock()

	if closed {
		s.onClosed()
	}
}

func (s *autoSaver) isSaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

func (s *autoSaver) lastSaved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSavedAt
}
