package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// blockingStore gates SaveAnswer on a channel and counts concurrent saves.
type blockingStore struct {
	fakeStore
	gate       chan struct{}
	inFlight   int32
	maxFlight  int32
	totalSaves int32
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		fakeStore: fakeStore{
			attemptID: "sub-1",
			status:    "IN_PROGRESS",
			remaining: 600,
			answers:   make(map[string]string),
		},
		gate: make(chan struct{}),
	}
}

func (b *blockingStore) SaveAnswer(ctx context.Context, submissionID, questionID, answer string) error {
	cur := atomic.AddInt32(&b.inFlight, 1)
	for {
		max := atomic.LoadInt32(&b.maxFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&b.maxFlight, max, cur) {
			break
		}
	}
	<-b.gate
	atomic.AddInt32(&b.inFlight, -1)
	atomic.AddInt32(&b.totalSaves, 1)

	b.mu.Lock()
	b.answers[questionID] = answer
	b.mu.Unlock()
	return nil
}

func TestFlushesNeverOverlap(t *testing.T) {
	store := newBlockingStore()
	clock := newFakeClock()
	saver := newAutoSaver(store, "sub-1", time.Hour, clock.Now, func() {}, zerolog.Nop())

	saver.markDirty("q1", "v1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		saver.flush(context.Background())
	}()

	// Wait for the first flush to be blocked inside SaveAnswer.
	for atomic.LoadInt32(&store.inFlight) == 0 {
		time.Sleep(time.Millisecond)
	}

	// A second flush while one is in flight returns immediately without
	// starting another save.
	saver.markDirty("q2", "v2")
	saver.flush(context.Background())
	if got := atomic.LoadInt32(&store.inFlight); got != 1 {
		t.Fatalf("in-flight saves = %d, want 1", got)
	}

	close(store.gate)
	wg.Wait()

	if got := atomic.LoadInt32(&store.maxFlight); got != 1 {
		t.Fatalf("max concurrent saves = %d, want 1", got)
	}

	// q2 stayed dirty and goes out with the next flush.
	saver.flush(context.Background())
	store.mu.Lock()
	v := store.answers["q2"]
	store.mu.Unlock()
	if v != "v2" {
		t.Fatalf("q2 = %q, want v2 after second flush", v)
	}
}

func TestEditDuringSaveStaysDirty(t *testing.T) {
	store := newBlockingStore()
	clock := newFakeClock()
	saver := newAutoSaver(store, "sub-1", time.Hour, clock.Now, func() {}, zerolog.Nop())

	saver.markDirty("q1", "old")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		saver.flush(context.Background())
	}()

	for atomic.LoadInt32(&store.inFlight) == 0 {
		time.Sleep(time.Millisecond)
	}

	// The user keeps typing while "old" is being saved.
	saver.markDirty("q1", "new")

	close(store.gate)
	wg.Wait()

	// "new" must still be queued; the completed save of "old" may not clear it.
	saver.mu.Lock()
	queued := saver.dirty["q1"]
	saver.mu.Unlock()
	if queued != "new" {
		t.Fatalf("dirty q1 = %q, want new", queued)
	}

	saver.flush(context.Background())
	store.mu.Lock()
	v := store.answers["q1"]
	store.mu.Unlock()
	if v != "new" {
		t.Fatalf("stored q1 = %q, want new", v)
	}
}

func TestFailedSaveRetriesNextFlush(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	store.closed = true // every save rejected

	closedCalls := 0
	saver := newAutoSaver(store, "sub-1", time.Hour, clock.Now, func() { closedCalls++ }, zerolog.Nop())

	saver.markDirty("q1", "v1")
	saver.flush(context.Background())

	if closedCalls != 1 {
		t.Fatalf("onClosed calls = %d, want 1", closedCalls)
	}
	// Entry is still dirty; a reopened store would pick it up.
	saver.mu.Lock()
	_, stillDirty := saver.dirty["q1"]
	saver.mu.Unlock()
	if !stillDirty {
		t.Fatal("q1 should stay dirty after a rejected save")
	}
}

func TestLastSavedAtAdvances(t *testing.T) {
	clock := newFakeClock()
	store := newFakeStore(600)
	saver := newAutoSaver(store, "sub-1", time.Hour, clock.Now, func() {}, zerolog.Nop())

	if !saver.lastSaved().IsZero() {
		t.Fatal("lastSaved should start zero")
	}

	saver.markDirty("q1", "v1")
	saver.flush(context.Background())

	if saver.lastSaved() != clock.Now() {
		t.Fatalf("lastSaved = %s, want %s", saver.lastSaved(), clock.Now())
	}
}
