package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPStore implements Store against the REST API.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPStore creates a store for the API at baseURL (e.g.
// "http://localhost:8080") authenticated with a student bearer token.
func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// envelope mirrors the API's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type wireSubmission struct {
	ID           string   `json:"id"`
	AssessmentID string   `json:"assessment_id"`
	Status       string   `json:"status"`
	Score        *float64 `json:"score"`
}

func (s *HTTPStore) StartOrResume(ctx context.Context, assessmentID, accessCode string) (*Attempt, error) {
	body := map[string]string{}
	if accessCode != "" {
		body["access_code"] = accessCode
	}

	var data struct {
		Submission       wireSubmission `json:"submission"`
		RemainingSeconds float64        `json:"remaining_seconds"`
	}
	err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/student/assessments/%s/start", assessmentID), body, &data)
	if err != nil {
		return nil, err
	}

	return &Attempt{
		ID:               data.Submission.ID,
		AssessmentID:     data.Submission.AssessmentID,
		Status:           data.Submission.Status,
		RemainingSeconds: data.RemainingSeconds,
		Score:            data.Submission.Score,
	}, nil
}

func (s *HTTPStore) State(ctx context.Context, submissionID string) (*AttemptState, error) {
	var data struct {
		Status           string            `json:"status"`
		AutosavedAnswers map[string]string `json:"autosaved_answers"`
		RemainingSeconds float64           `json:"remaining_seconds"`
	}
	err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/student/submissions/%s/state", submissionID), nil, &data)
	if err != nil {
		return nil, err
	}

	answers := data.AutosavedAnswers
	if answers == nil {
		answers = map[string]string{}
	}
	return &AttemptState{
		Status:           data.Status,
		Answers:          answers,
		RemainingSeconds: data.RemainingSeconds,
	}, nil
}

func (s *HTTPStore) SaveAnswer(ctx context.Context, submissionID, questionID, answer string) error {
	body := map[string]string{
		"question_id": questionID,
		"answer":      answer,
	}
	return s.do(ctx, http.MethodPut,
		fmt.Sprintf("/api/v1/student/submissions/%s/answer", submissionID), body, nil)
}

func (s *HTTPStore) Submit(ctx context.Context, submissionID string, answers map[string]string) (*Attempt, error) {
	body := map[string]interface{}{"answers": answers}

	var data struct {
		Submission wireSubmission `json:"submission"`
	}
	err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/student/submissions/%s/submit", submissionID), body, &data)
	if err != nil {
		return nil, err
	}

	return &Attempt{
		ID:           data.Submission.ID,
		AssessmentID: data.Submission.AssessmentID,
		Status:       data.Submission.Status,
		Score:        data.Submission.Score,
	}, nil
}

// do sends one request and decodes the envelope. API error codes that mean
// the attempt is closed map to ErrSubmissionClosed so the controller treats
// REST and fake stores the same.
func (s *HTTPStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if env.Error != nil {
		switch env.Error.Code {
		case "SUBMISSION_CLOSED", "TIME_EXPIRED":
			return ErrSubmissionClosed
		default:
			return fmt.Errorf("api error %s: %s", env.Error.Code, env.Error.Message)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
