package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore is an in-memory Store that records calls.
type fakeStore struct {
	mu          sync.Mutex
	attemptID   string
	status      string
	remaining   float64
	answers     map[string]string
	saveCalls   int
	submitCalls int
	failSubmits int
	closed      bool
}

func newFakeStore(remaining float64) *fakeStore {
	return &fakeStore{
		attemptID: "sub-1",
		status:    "IN_PROGRESS",
		remaining: remaining,
		answers:   make(map[string]string),
	}
}

func (f *fakeStore) StartOrResume(ctx context.Context, assessmentID, accessCode string) (*Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Attempt{ID: f.attemptID, AssessmentID: assessmentID, Status: f.status, RemainingSeconds: f.remaining}, nil
}

func (f *fakeStore) State(ctx context.Context, submissionID string) (*AttemptState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	answers := make(map[string]string, len(f.answers))
	for q, v := range f.answers {
		answers[q] = v
	}
	return &AttemptState{Status: f.status, Answers: answers, RemainingSeconds: f.remaining}, nil
}

func (f *fakeStore) SaveAnswer(ctx context.Context, submissionID, questionID, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.closed {
		return ErrSubmissionClosed
	}
	f.answers[questionID] = answer
	return nil
}

func (f *fakeStore) Submit(ctx context.Context, submissionID string, answers map[string]string) (*Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.failSubmits > 0 {
		f.failSubmits--
		return nil, errors.New("network down")
	}
	for q, v := range answers {
		f.answers[q] = v
	}
	f.closed = true
	f.status = "SUBMITTED"
	return &Attempt{ID: f.attemptID, Status: "SUBMITTED"}, nil
}

func (f *fakeStore) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

// startController builds and starts a controller on a fake store and clock.
// The autosave interval is huge so only explicit Flush calls save.
func startController(t *testing.T, store *fakeStore, clock *fakeClock) *Controller {
	t.Helper()
	c := NewController(store,
		WithClock(clock.Now),
		WithAutosaveInterval(time.Hour),
	)
	if err := c.Start(context.Background(), "assess-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestStartAndCountdown(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600) // 10 minutes
	c := startController(t, store, clock)

	if c.Phase() != PhaseActive {
		t.Fatalf("phase = %s, want ACTIVE", c.Phase())
	}
	if got := c.Remaining(); got != 10*time.Minute {
		t.Fatalf("remaining = %s, want 10m", got)
	}

	// Time passes: remaining shrinks against the wall clock.
	clock.Advance(3 * time.Minute)
	if got := c.Remaining(); got != 7*time.Minute {
		t.Fatalf("remaining after 3m = %s, want 7m", got)
	}

	// Never negative.
	clock.Advance(20 * time.Minute)
	if got := c.Remaining(); got != 0 {
		t.Fatalf("remaining past deadline = %s, want 0", got)
	}
}

func TestResumeSeedsAnswersAndShrinksClock(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	store.answers["q1"] = "autosaved"

	c := startController(t, store, clock)

	if v, ok := c.Answer("q1"); !ok || v != "autosaved" {
		t.Fatalf("answer q1 = %q, %v; want autosaved", v, ok)
	}

	// A later reload sees less time, not a restarted clock.
	store.mu.Lock()
	store.remaining = 240
	store.mu.Unlock()

	c2 := NewController(store, WithClock(clock.Now), WithAutosaveInterval(time.Hour))
	if err := c2.Start(context.Background(), "assess-1", ""); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer c2.Close()

	if c2.Attempt().ID != c.Attempt().ID {
		t.Fatalf("resume returned different attempt: %s vs %s", c2.Attempt().ID, c.Attempt().ID)
	}
	if got := c2.Remaining(); got != 4*time.Minute {
		t.Fatalf("resumed remaining = %s, want 4m", got)
	}
}

func TestLastWriteWins(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	c := startController(t, store, clock)

	// Rapid edits to the same question coalesce into one save.
	for _, v := range []string{"a", "ab", "abc"} {
		if err := c.SetAnswer("q1", v); err != nil {
			t.Fatalf("set answer: %v", err)
		}
	}
	c.Flush(context.Background())

	if store.answers["q1"] != "abc" {
		t.Fatalf("stored q1 = %q, want abc", store.answers["q1"])
	}
	if store.saveCalls != 1 {
		t.Fatalf("save calls = %d, want 1", store.saveCalls)
	}

	// A later edit wins over the earlier stored value.
	if err := c.SetAnswer("q1", "final"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	c.Flush(context.Background())
	if store.answers["q1"] != "final" {
		t.Fatalf("stored q1 = %q, want final", store.answers["q1"])
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	c := startController(t, store, clock)

	c.SetAnswer("q1", "42")

	if err := c.RequestSubmit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if c.Phase() != PhaseClosed {
		t.Fatalf("phase = %s, want CLOSED", c.Phase())
	}

	// Second submit is a no-op: no extra store call.
	if err := c.RequestSubmit(context.Background()); err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if got := store.submitCount(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}

	if store.answers["q1"] != "42" {
		t.Fatalf("submitted buffer lost q1: %q", store.answers["q1"])
	}
}

func TestConcurrentSubmitMakesOneCall(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	c := startController(t, store, clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.RequestSubmit(context.Background())
		}()
	}
	wg.Wait()

	if got := store.submitCount(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}
}

// slowSubmitStore holds Submit until released so a deadline check can run
// while a submit is in flight.
type slowSubmitStore struct {
	*fakeStore
	entered chan struct{}
	release chan struct{}
}

func (s *slowSubmitStore) Submit(ctx context.Context, submissionID string, answers map[string]string) (*Attempt, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.fakeStore.Submit(ctx, submissionID, answers)
}

func TestDeadlineDuringInFlightSubmit(t *testing.T) {
	clock := newFakeClock()
	store := &slowSubmitStore{
		fakeStore: newFakeStore(600),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c := NewController(store, WithClock(clock.Now), WithAutosaveInterval(time.Hour))
	if err := c.Start(context.Background(), "assess-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	c.SetAnswer("q1", "mine")

	errCh := make(chan error, 1)
	go func() { errCh <- c.RequestSubmit(context.Background()) }()
	<-store.entered

	// The deadline passes while the student's submit is on the wire. The
	// check must not hijack the in-flight submit or leave the session
	// stuck in SUBMITTING.
	clock.Advance(11 * time.Minute)
	if c.CheckDeadline(context.Background()) {
		t.Fatal("deadline check fired over an in-flight submit")
	}

	close(store.release)
	if err := <-errCh; err != nil {
		t.Fatalf("submit: %v", err)
	}

	if c.Phase() != PhaseClosed {
		t.Fatalf("phase = %s, want CLOSED", c.Phase())
	}

	// Later checks see a closed attempt and add nothing.
	c.CheckDeadline(context.Background())
	if got := store.submitCount(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}
}

func TestConcurrentSubmitAndDeadline(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	c := startController(t, store, clock)

	clock.Advance(11 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.RequestSubmit(context.Background())
		}()
		go func() {
			defer wg.Done()
			c.CheckDeadline(context.Background())
		}()
	}
	wg.Wait()

	if c.Phase() != PhaseClosed {
		t.Fatalf("phase = %s, want CLOSED", c.Phase())
	}
	if got := store.submitCount(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}
}

func TestSubmitRetryAfterFailure(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	store.failSubmits = 1
	c := startController(t, store, clock)

	if err := c.RequestSubmit(context.Background()); err == nil {
		t.Fatal("expected first submit to fail")
	}
	if c.Phase() != PhaseActive {
		t.Fatalf("phase after failed submit = %s, want ACTIVE", c.Phase())
	}

	if err := c.RequestSubmit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.Phase() != PhaseClosed {
		t.Fatalf("phase = %s, want CLOSED", c.Phase())
	}
	if got := store.submitCount(); got != 2 {
		t.Fatalf("submit calls = %d, want 2", got)
	}
}

func TestEditsRejectedAfterSubmit(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	c := startController(t, store, clock)

	if err := c.RequestSubmit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := c.SetAnswer("q1", "late"); !errors.Is(err, ErrSubmissionClosed) {
		t.Fatalf("SetAnswer after submit = %v, want ErrSubmissionClosed", err)
	}
}

func TestExpiryAutoSubmitsOnce(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	c := startController(t, store, clock)

	c.SetAnswer("q1", "kept")

	clock.Advance(11 * time.Minute)

	if !c.CheckDeadline(context.Background()) {
		t.Fatal("CheckDeadline did not fire past the deadline")
	}
	if c.Phase() != PhaseClosed {
		t.Fatalf("phase = %s, want CLOSED", c.Phase())
	}
	if store.answers["q1"] != "kept" {
		t.Fatalf("auto-submit dropped buffered answer: %q", store.answers["q1"])
	}

	// A second check fires no second submit.
	c.CheckDeadline(context.Background())
	if got := store.submitCount(); got != 1 {
		t.Fatalf("submit calls after expiry = %d, want 1", got)
	}

	if err := c.SetAnswer("q2", "too late"); !errors.Is(err, ErrSubmissionClosed) {
		t.Fatalf("edit after expiry = %v, want ErrSubmissionClosed", err)
	}
}

func TestClosedElsewhereDetectedByAutosave(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	c := startController(t, store, clock)

	c.SetAnswer("q1", "v")

	// Another tab submitted; the store now rejects writes.
	store.mu.Lock()
	store.closed = true
	store.mu.Unlock()

	c.Flush(context.Background())

	if c.Phase() != PhaseClosed {
		t.Fatalf("phase = %s, want CLOSED after store rejection", c.Phase())
	}
}

func TestStartOnClosedAttempt(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(0)
	store.status = "SUBMITTED"
	store.closed = true

	c := NewController(store, WithClock(clock.Now), WithAutosaveInterval(time.Hour))
	if err := c.Start(context.Background(), "assess-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	if c.Phase() != PhaseClosed {
		t.Fatalf("phase = %s, want CLOSED", c.Phase())
	}
	if got := c.Remaining(); got != 0 {
		t.Fatalf("remaining on closed attempt = %s, want 0", got)
	}
}

func TestNavigationClamped(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	c := startController(t, store, clock)

	c.SetQuestions([]string{"q1", "q2", "q3"})

	if got := c.GoTo(-5); got != 0 {
		t.Fatalf("GoTo(-5) = %d, want 0", got)
	}
	if got := c.GoTo(99); got != 2 {
		t.Fatalf("GoTo(99) = %d, want 2", got)
	}
	if got := c.Prev(); got != 1 {
		t.Fatalf("Prev = %d, want 1", got)
	}
	if got := c.Next(); got != 2 {
		t.Fatalf("Next = %d, want 2", got)
	}
	if got := c.Next(); got != 2 {
		t.Fatalf("Next at end = %d, want 2", got)
	}

	q, ok := c.CurrentQuestion()
	if !ok || q != "q3" {
		t.Fatalf("current = %q, %v; want q3", q, ok)
	}
}
