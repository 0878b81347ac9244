package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/assesshub/assess-backend/internal/middleware"
	"github.com/assesshub/assess-backend/internal/service"
	ws "github.com/assesshub/assess-backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the WebSocket submission stream: autosave and submit over
// a single connection, with the remaining time piggybacked on every reply.
type WSHandler struct {
	submissionService *service.SubmissionService
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(submissionService *service.SubmissionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		submissionService: submissionService,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// SubmissionStream godoc
// WS /ws/v1/student/submissions/:submission_id/stream
// Upgrades to WebSocket for real-time autosave and submit.
func (h *WSHandler) SubmissionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission ID"})
		return
	}

	// Ownership check before the upgrade; after it the HTTP error path is gone.
	if _, err := h.submissionService.GetOwned(c.Request.Context(), submissionID, claims.UserID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("submission_id", submissionID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.AutosaveRequest
		err := ws.ReadJSON(conn, &msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, wsLog, submissionID, studentID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, submissionID, studentID)
		case ws.ActionPing:
			h.handlePing(conn, submissionID, studentID)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "UNKNOWN_ACTION", "unknown action: "+string(msg.Action))
		}
	}
}

// handleAutosave saves a single answer through the submission service, so the
// closed/expired gates apply the same as on the REST path.
func (h *WSHandler) handleAutosave(conn *websocket.Conn, wsLog zerolog.Logger, submissionID uuid.UUID, studentID int, msg *ws.AutosaveRequest) {
	ctx := context.Background()

	if msg.QID == "" || msg.Answer == "" {
		ws.WriteError(conn, "VALIDATION_ERROR", "q_id and ans are required")
		return
	}

	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		ws.WriteError(conn, "VALIDATION_ERROR", "invalid q_id format")
		return
	}

	if err := h.submissionService.SaveAnswer(ctx, submissionID, studentID, questionID, msg.Answer); err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionClosed):
			ws.WriteError(conn, "SUBMISSION_CLOSED", "submission no longer accepts answers")
		case errors.Is(err, service.ErrTimeExpired):
			ws.WriteError(conn, "TIME_EXPIRED", "time is up")
		default:
			wsLog.Error().Err(err).Msg("Autosave error")
			ws.WriteError(conn, "INTERNAL_ERROR", "save failed")
		}
		return
	}

	remaining := h.remaining(ctx, submissionID, studentID)
	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, RemainingSeconds: remaining})
}

// handleSubmit performs the terminal submit with whatever the autosave buffer
// holds. Clients with a richer local buffer use the REST submit instead.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, submissionID uuid.UUID, studentID int) {
	ctx := context.Background()

	state, err := h.submissionService.GetState(ctx, submissionID, studentID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Get state before submit failed")
		ws.WriteError(conn, "INTERNAL_ERROR", "submit failed")
		return
	}

	if _, err := h.submissionService.Submit(ctx, submissionID, studentID, state.AutosavedAnswers); err != nil {
		wsLog.Error().Err(err).Msg("Submit error")
		ws.WriteError(conn, "INTERNAL_ERROR", "submit failed")
		return
	}

	wsLog.Info().Int("answers", len(state.AutosavedAnswers)).Msg("Submission turned in over WebSocket")
	ws.WriteTyped(conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Status: "submitted"})
}

// handlePing lets the client resynchronize its countdown against the server
// clock without a REST round trip.
func (h *WSHandler) handlePing(conn *websocket.Conn, submissionID uuid.UUID, studentID int) {
	remaining := h.remaining(context.Background(), submissionID, studentID)
	ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong, RemainingSeconds: remaining})
}

func (h *WSHandler) remaining(ctx context.Context, submissionID uuid.UUID, studentID int) int {
	sub, err := h.submissionService.GetOwned(ctx, submissionID, studentID)
	if err != nil {
		return 0
	}
	secs, err := h.submissionService.RemainingSeconds(ctx, sub)
	if err != nil {
		return 0
	}
	return int(secs)
}
