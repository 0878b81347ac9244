// Package session is the client-side counterpart of the submission API: a
// controller that drives one timed attempt end to end (countdown, autosave,
// terminal submit) against any Store implementation.
package session

import (
	"context"
	"errors"
)

// Store is the submission backend as seen by the controller. HTTPStore talks
// to the real API; tests plug in a fake.
type Store interface {
	// StartOrResume returns the attempt for an assessment, creating it on the
	// first call. Calling it again returns the same attempt.
	StartOrResume(ctx context.Context, assessmentID, accessCode string) (*Attempt, error)

	// State returns the autosaved answers and the remaining time, recomputed
	// by the server.
	State(ctx context.Context, submissionID string) (*AttemptState, error)

	// SaveAnswer durably stores a single answer. Last write per question wins.
	// Returns ErrSubmissionClosed once the attempt no longer accepts writes.
	SaveAnswer(ctx context.Context, submissionID, questionID, answer string) error

	// Submit performs the terminal transition with the full answer buffer.
	// Idempotent on the server side.
	Submit(ctx context.Context, submissionID string, answers map[string]string) (*Attempt, error)
}

// ErrSubmissionClosed is returned by a Store when the attempt has been
// submitted (by this client, another tab, or the server's expiry sweep).
var ErrSubmissionClosed = errors.New("submission is closed")

// Attempt is the store's view of one submission.
type Attempt struct {
	ID               string
	AssessmentID     string
	Status           string
	RemainingSeconds float64
	Score            *float64
}

// Closed reports whether the attempt accepts no further answer writes.
func (a *Attempt) Closed() bool {
	return a.Status != "IN_PROGRESS"
}

// AttemptState is the resume payload: what a reloading client needs to pick
// up exactly where it left off.
type AttemptState struct {
	Status           string
	Answers          map[string]string
	RemainingSeconds float64
}
