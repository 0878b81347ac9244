package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates submission lifecycle states.
// Transitions are one-directional: IN_PROGRESS → SUBMITTED → EVALUATED.
type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "IN_PROGRESS"
	SubmissionStatusSubmitted  SubmissionStatus = "SUBMITTED"
	SubmissionStatusEvaluated  SubmissionStatus = "EVALUATED"
)

// Closed reports whether the submission no longer accepts answer writes.
func (s SubmissionStatus) Closed() bool {
	return s != SubmissionStatusInProgress
}

// Submission represents a student's attempt at one assessment.
// At most one submission exists per (assessment, student) pair.
type Submission struct {
	ID           uuid.UUID        `json:"id"`
	AssessmentID uuid.UUID        `json:"assessment_id"`
	StudentID    int              `json:"student_id"`
	Status       SubmissionStatus `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	SubmittedAt  *time.Time       `json:"submitted_at,omitempty"`
	EvaluatedAt  *time.Time       `json:"evaluated_at,omitempty"`
	Score        *float64         `json:"score,omitempty"`
}

// SubmissionAnswer is one stored answer within a submission. Answers are
// upserted in place while the submission is IN_PROGRESS and frozen afterwards.
type SubmissionAnswer struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	Answer       string    `json:"answer"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StartSubmissionRequest is the payload for starting or resuming a submission.
type StartSubmissionRequest struct {
	AccessCode string `json:"access_code" binding:"omitempty,min=4,max=20"`
}

// SaveAnswerRequest is the payload for autosaving a single answer.
type SaveAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"required,max=10000"`
}

// SubmitRequest carries the full local answer buffer for the terminal submit.
// The buffer is authoritative: it includes edits that autosave may have missed.
type SubmitRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// SubmissionState is the resume payload for a reloading client: the autosaved
// answers plus the remaining time recomputed from the wall clock.
type SubmissionState struct {
	SubmissionID     uuid.UUID         `json:"submission_id"`
	AssessmentID     uuid.UUID         `json:"assessment_id"`
	Status           SubmissionStatus  `json:"status"`
	StartedAt        time.Time         `json:"started_at"`
	AutosavedAnswers map[string]string `json:"autosaved_answers"`
	RemainingSeconds float64           `json:"remaining_seconds"`
}
