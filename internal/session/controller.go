package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Phase is the controller's lifecycle state.
type Phase string

const (
	PhaseLoading    Phase = "LOADING"
	PhaseActive     Phase = "ACTIVE"
	PhaseSubmitting Phase = "SUBMITTING"
	PhaseClosed     Phase = "CLOSED"
)

// Controller drives one timed attempt: it owns the local answer buffer, the
// countdown, the autosave coordinator and the single terminal submit.
//
// The remaining time is always recomputed from a deadline instant and the
// clock, never decremented, so a stalled or backgrounded client cannot gain
// time.
type Controller struct {
	store      Store
	clock      func() time.Time
	saveEvery  time.Duration
	watchEvery time.Duration
	log        zerolog.Logger

	mu          sync.Mutex
	phase       Phase
	attempt     *Attempt
	deadline    time.Time
	answers     map[string]string
	questionIDs []string
	cursor      int
	submitted   bool
	submitting  bool
	expired     bool

	saver     *autoSaver
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects the time source. Tests use a fake clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithAutosaveInterval sets how often dirty answers are flushed.
func WithAutosaveInterval(d time.Duration) Option {
	return func(c *Controller) { c.saveEvery = d }
}

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// NewController creates a Controller in the Loading phase.
func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		clock:      time.Now,
		saveEvery:  5 * time.Second,
		watchEvery: 500 * time.Millisecond,
		log:        zerolog.Nop(),
		phase:      PhaseLoading,
		answers:    make(map[string]string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins or resumes the attempt. On resume the server's autosaved
// answers seed the local buffer and the countdown picks up mid-flight; a
// reload never restarts the clock.
func (c *Controller) Start(ctx context.Context, assessmentID, accessCode string) error {
	c.mu.Lock()
	if c.phase != PhaseLoading {
		c.mu.Unlock()
		return ErrSubmissionClosed
	}
	c.mu.Unlock()

	attempt, err := c.store.StartOrResume(ctx, assessmentID, accessCode)
	if err != nil {
		return err
	}

	if attempt.Closed() {
		c.mu.Lock()
		c.attempt = attempt
		c.submitted = true
		c.phase = PhaseClosed
		c.mu.Unlock()
		return nil
	}

	state, err := c.store.State(ctx, attempt.ID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.attempt = attempt
	c.deadline = c.clock().Add(time.Duration(state.RemainingSeconds * float64(time.Second)))
	for q, v := range state.Answers {
		c.answers[q] = v
	}
	c.phase = PhaseActive
	c.saver = newAutoSaver(c.store, attempt.ID, c.saveEvery, c.clock, c.onStoreClosed, c.log)
	c.mu.Unlock()

	go c.saver.run(c.done)
	go c.watchDeadline()

	return nil
}

func (c *Controller) watchDeadline() {
	ticker := time.NewTicker(c.watchEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.CheckDeadline(context.Background())
		}
	}
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Attempt returns the last attempt record seen from the store.
func (c *Controller) Attempt() *Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Remaining returns the time left on the attempt, clamped at zero.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseClosed || c.phase == PhaseLoading {
		return 0
	}
	left := c.deadline.Sub(c.clock())
	if left < 0 {
		return 0
	}
	return left
}

// SetAnswer records an answer locally and marks it for autosave. The latest
// value per question wins. Rejected once the attempt is no longer active.
func (c *Controller) SetAnswer(questionID, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return ErrSubmissionClosed
	}
	c.answers[questionID] = value
	c.saver.markDirty(questionID, value)
	return nil
}

// Answer returns the local value for a question.
func (c *Controller) Answer(questionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.answers[questionID]
	return v, ok
}

// Answers returns a snapshot of the local answer buffer.
func (c *Controller) Answers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]string, len(c.answers))
	for q, v := range c.answers {
		snapshot[q] = v
	}
	return snapshot
}

// SetQuestions installs the question order used by navigation.
func (c *Controller) SetQuestions(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questionIDs = append([]string(nil), ids...)
	if c.cursor >= len(c.questionIDs) {
		c.cursor = len(c.questionIDs) - 1
	}
	if c.cursor < 0 {
		c.cursor = 0
	}
}

// GoTo moves the cursor to index i, clamped to the question range, and
// returns the resulting index.
func (c *Controller) GoTo(i int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.questionIDs) == 0 {
		c.cursor = 0
		return 0
	}
	if i < 0 {
		i = 0
	}
	if i >= len(c.questionIDs) {
		i = len(c.questionIDs) - 1
	}
	c.cursor = i
	return i
}

// Next advances the cursor by one, clamped.
func (c *Controller) Next() int { return c.GoTo(c.Cursor() + 1) }

// Prev moves the cursor back by one, clamped.
func (c *Controller) Prev() int { return c.GoTo(c.Cursor() - 1) }

// Cursor returns the current question index.
func (c *Controller) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// CurrentQuestion returns the question id at the cursor.
func (c *Controller) CurrentQuestion() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor < 0 || c.cursor >= len(c.questionIDs) {
		return "", false
	}
	return c.questionIDs[c.cursor], true
}

// CheckDeadline fires the expiry transition if the deadline has passed:
// edits freeze and the attempt auto-submits exactly once. The background
// watcher calls this periodically; callers may also invoke it directly after
// a long suspend.
func (c *Controller) CheckDeadline(ctx context.Context) bool {
	// The expiry decision happens in one critical section: a submit that
	// raced in (phase left Active) must not be clobbered, and the flag
	// guarantees the transition fires at most once.
	c.mu.Lock()
	if c.expired {
		c.mu.Unlock()
		return true
	}
	if c.phase != PhaseActive || c.clock().Before(c.deadline) {
		c.mu.Unlock()
		return false
	}
	c.expired = true
	c.phase = PhaseSubmitting
	c.mu.Unlock()

	c.log.Info().Msg("Deadline reached, auto-submitting")
	if err := c.RequestSubmit(ctx); err != nil {
		c.log.Error().Err(err).Msg("Auto-submit failed")
	}
	return true
}

// RequestSubmit performs the terminal submit with the full local buffer.
// Repeat calls while a submit is running or after success do nothing and make
// no further store calls. A failed submit may be retried.
func (c *Controller) RequestSubmit(ctx context.Context) error {
	c.mu.Lock()
	if c.attempt == nil {
		c.mu.Unlock()
		return errors.New("session not started")
	}
	if c.submitted || c.phase == PhaseClosed || c.submitting {
		c.mu.Unlock()
		return nil
	}
	c.submitting = true
	c.phase = PhaseSubmitting
	id := c.attempt.ID
	snapshot := make(map[string]string, len(c.answers))
	for q, v := range c.answers {
		snapshot[q] = v
	}
	c.mu.Unlock()

	attempt, err := c.store.Submit(ctx, id, snapshot)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		// Allow a retry. After expiry the edits stay frozen.
		if !c.expired {
			c.phase = PhaseActive
		}
		return err
	}
	c.attempt = attempt
	c.submitted = true
	c.phase = PhaseClosed
	return nil
}

// onStoreClosed is called by the autosaver when the store rejects a write
// because the attempt closed elsewhere (another tab, the expiry sweep).
func (c *Controller) onStoreClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseClosed {
		return
	}
	c.phase = PhaseClosed
	c.submitted = true
	c.log.Info().Msg("Attempt closed by the server")
}

// IsSaving reports whether an autosave flush is in flight.
func (c *Controller) IsSaving() bool {
	c.mu.Lock()
	saver := c.saver
	c.mu.Unlock()
	if saver == nil {
		return false
	}
	return saver.isSaving()
}

// LastSavedAt returns the time of the last successful autosave flush.
func (c *Controller) LastSavedAt() time.Time {
	c.mu.Lock()
	saver := c.saver
	c.mu.Unlock()
	if saver == nil {
		return time.Time{}
	}
	return saver.lastSaved()
}

// Flush forces an immediate autosave of all dirty answers.
func (c *Controller) Flush(ctx context.Context) {
	c.mu.Lock()
	saver := c.saver
	c.mu.Unlock()
	if saver != nil {
		saver.flush(ctx)
	}
}

// Close stops the autosaver and the deadline watcher. It does not cancel an
// in-flight submit; callers control that through the submit context.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
