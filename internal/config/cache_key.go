package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// SubmissionStartKey returns the cache key for a submission's start timestamp
func (r *CacheKeyStruct) SubmissionStartKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:started_at", submissionID)
}

// SubmissionAnswersKey returns the cache key for a submission's autosaved answers
func (r *CacheKeyStruct) SubmissionAnswersKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:answers", submissionID)
}

// AssessmentPayloadKey returns the cache key for an assessment's student payload
func (r *CacheKeyStruct) AssessmentPayloadKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:payload", assessmentID)
}

// AssessmentDurationKey returns the cache key for an assessment's duration
func (r *CacheKeyStruct) AssessmentDurationKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:duration", assessmentID)
}

// AssessmentAnswerKey returns the cache key for an assessment's answer key
func (r *CacheKeyStruct) AssessmentAnswerKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:key", assessmentID)
}

// StudentActiveSubmissionKey returns the cache key for a student's currently open submission
func (r *CacheKeyStruct) StudentActiveSubmissionKey(studentID int) string {
	return fmt.Sprintf("student:%d:active_submission", studentID)
}

var CacheKey = NewCacheKeyStruct()
