package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/assesshub/assess-backend/internal/session"
	"golang.org/x/term"
)

// take is a terminal client for sitting an assessment. It logs in as a
// student, starts or resumes the attempt, and runs the session controller:
// answers autosave in the background and the countdown runs off the wall
// clock, so quitting and rerunning resumes mid-attempt.
func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:8080", "API base URL")
		email        = flag.String("email", "", "student email")
		assessmentID = flag.String("assessment", "", "assessment UUID")
		accessCode   = flag.String("code", "", "assessment access code, if required")
	)
	flag.Parse()

	if *email == "" || *assessmentID == "" {
		fmt.Println("Usage: take -email <email> -assessment <uuid> [-code <access code>] [-url <base>]")
		os.Exit(1)
	}

	fmt.Print("Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		os.Exit(1)
	}

	token, err := login(*baseURL, *email, string(bytePassword))
	if err != nil {
		fmt.Printf("Login failed: %v\n", err)
		os.Exit(1)
	}

	store := session.NewHTTPStore(*baseURL, token)
	ctrl := session.NewController(store, session.WithAutosaveInterval(3*time.Second))
	defer ctrl.Close()

	ctx := context.Background()
	if err := ctrl.Start(ctx, *assessmentID, *accessCode); err != nil {
		fmt.Printf("Could not start attempt: %v\n", err)
		os.Exit(1)
	}

	if ctrl.Phase() == session.PhaseClosed {
		att := ctrl.Attempt()
		fmt.Printf("This attempt is already %s.\n", att.Status)
		if att.Score != nil {
			fmt.Printf("Score: %.1f\n", *att.Score)
		}
		return
	}

	paper, err := fetchPaper(*baseURL, token, *assessmentID)
	if err != nil {
		fmt.Printf("Could not load paper: %v\n", err)
		os.Exit(1)
	}

	ids := make([]string, len(paper.Questions))
	for i, q := range paper.Questions {
		ids[i] = q.ID
	}
	ctrl.SetQuestions(ids)

	fmt.Printf("\n=== %s ===\n", paper.Title)
	fmt.Printf("%d questions, %s remaining.\n", len(paper.Questions), ctrl.Remaining().Round(time.Second))
	fmt.Println("Commands: <answer text> | n(ext) | p(rev) | g <num> | status | submit | quit")

	reader := bufio.NewReader(os.Stdin)
	for {
		if ctrl.Phase() == session.PhaseClosed {
			fmt.Println("\nAttempt closed.")
			break
		}

		idx := ctrl.Cursor()
		q := paper.Questions[idx]
		fmt.Printf("\n[%d/%d] (%s left) %s\n", idx+1, len(paper.Questions), ctrl.Remaining().Round(time.Second), q.QuestionText)
		if len(q.Options) > 0 {
			var opts []string
			if json.Unmarshal(q.Options, &opts) == nil {
				for i, o := range opts {
					fmt.Printf("  %d) %s\n", i, o)
				}
			}
		}
		if v, ok := ctrl.Answer(q.ID); ok {
			fmt.Printf("  current answer: %s\n", v)
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "quit":
			ctrl.Flush(ctx)
			fmt.Println("Progress saved. Rerun to resume.")
			return
		case line == "submit":
			if err := ctrl.RequestSubmit(ctx); err != nil {
				fmt.Printf("Submit failed (will keep your answers, try again): %v\n", err)
				continue
			}
			fmt.Println("Submitted.")
			return
		case line == "status":
			fmt.Printf("answered %d/%d, %s remaining, last saved %s\n",
				len(ctrl.Answers()), len(paper.Questions),
				ctrl.Remaining().Round(time.Second), lastSaved(ctrl))
		case line == "n":
			ctrl.Next()
		case line == "p":
			ctrl.Prev()
		case strings.HasPrefix(line, "g "):
			var n int
			if _, err := fmt.Sscanf(line, "g %d", &n); err == nil {
				ctrl.GoTo(n - 1)
			}
		case line == "":
			// Just redraw.
		default:
			if err := ctrl.SetAnswer(q.ID, line); err != nil {
				fmt.Printf("Rejected: %v\n", err)
				continue
			}
			ctrl.Next()
		}
	}
}

func lastSaved(ctrl *session.Controller) string {
	at := ctrl.LastSavedAt()
	if at.IsZero() {
		return "never"
	}
	return at.Format("15:04:05")
}

type paperQuestion struct {
	ID           string          `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType string          `json:"question_type"`
	Options      json.RawMessage `json:"options"`
}

type paper struct {
	Title     string          `json:"title"`
	Questions []paperQuestion `json:"questions"`
}

func login(baseURL, email, password string) (string, error) {
	raw, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(baseURL+"/api/v1/auth/student/login", "application/json", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Error != nil {
		return "", fmt.Errorf("%s", body.Error.Message)
	}
	if body.Data.Token == "" {
		return "", fmt.Errorf("no token in response")
	}
	return body.Data.Token, nil
}

func fetchPaper(baseURL, token, assessmentID string) (*paper, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/student/assessments/%s/paper", baseURL, assessmentID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Data  paper `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Error != nil {
		return nil, fmt.Errorf("%s", body.Error.Message)
	}
	return &body.Data, nil
}
