package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus enumerates the possible states of an assessment.
type AssessmentStatus string

const (
	AssessmentStatusDraft     AssessmentStatus = "DRAFT"
	AssessmentStatusPublished AssessmentStatus = "PUBLISHED"
	AssessmentStatusArchived  AssessmentStatus = "ARCHIVED"
)

// Assessment represents an assessment entity.
type Assessment struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	AuthorID        int              `json:"author_id"`
	ScheduledStart  *time.Time       `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time       `json:"scheduled_end,omitempty"`
	DurationMinutes int              `json:"duration_minutes"`
	AccessCode      string           `json:"access_code,omitempty"`
	QuestionCount   int              `json:"question_count"`
	Status          AssessmentStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Deadline returns the instant after which a submission started at startedAt
// stops accepting writes. Remaining time is always recomputed against the
// wall clock, never decremented.
func (a *Assessment) Deadline(startedAt time.Time) time.Time {
	return startedAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// CreateAssessmentRequest is the payload for creating a new assessment.
type CreateAssessmentRequest struct {
	Title           string     `json:"title" binding:"required,min=3,max=255"`
	ScheduledStart  *time.Time `json:"scheduled_start" binding:"omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end" binding:"omitempty,gtfield=ScheduledStart"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,min=1,max=480"`
	AccessCode      string     `json:"access_code" binding:"omitempty,min=4,max=20"`
}

// UpdateAssessmentRequest is the payload for updating an existing assessment.
type UpdateAssessmentRequest struct {
	Title           string     `json:"title" binding:"omitempty,min=3,max=255"`
	ScheduledStart  *time.Time `json:"scheduled_start" binding:"omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end" binding:"omitempty,gtfield=ScheduledStart"`
	DurationMinutes int        `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	AccessCode      string     `json:"access_code" binding:"omitempty,min=4,max=20"`
}

// AssessmentPayload is the Redis-cached paper sent to students (no correct answers).
type AssessmentPayload struct {
	AssessmentID uuid.UUID            `json:"assessment_id"`
	Title        string               `json:"title"`
	Duration     int                  `json:"duration_minutes"`
	Questions    []QuestionForStudent `json:"questions"`
}
