package handler

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/middleware"
	"github.com/classpoint/proctor-backend/internal/monitor"
	"github.com/classpoint/proctor-backend/internal/proctor"
	"github.com/classpoint/proctor-backend/internal/service"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowlist permits all origins (development mode).
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

// wsConn serializes writes to one WebSocket connection. The read loop and
// the hub forwarder both write replies, and gorilla allows one writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) write(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return monitor.WriteTyped(w.conn, v)
}

func (w *wsConn) writeRaw(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsConn) writeError(msg string) {
	w.write(monitor.ErrorResponse{Event: monitor.EventError, Error: msg})
}

// WSHandler handles the student session stream.
type WSHandler struct {
	sessionService *service.SessionService
	hub            *monitor.Hub
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, hub *monitor.Hub, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		hub:            hub,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
// Bidirectional session channel: autosave, progress, violations and
// submit inbound; low-time warnings and instructor interventions outbound.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	rawConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer rawConn.Close()
	conn := &wsConn{conn: rawConn}

	rt, err := h.sessionService.Runtime(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		conn.writeError("no running session")
		return
	}

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	// Forward targeted hub events (interventions, low-time) to the client.
	sub := h.hub.SubscribeStudent(rt.QuizID(), sessionID)
	defer h.hub.Unsubscribe(sub)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case payload, ok := <-sub.C:
				if !ok {
					return
				}
				if err := conn.writeRaw(payload); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var msg monitor.StudentRequest
		if err := monitor.ReadJSON(rawConn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case monitor.ActionAutosave:
			h.handleAutosave(conn, rt, &msg)
		case monitor.ActionSave:
			h.handleSave(c, conn, rt, &msg)
		case monitor.ActionProgress:
			rt.UpdateProgress(msg.CurrentQuestion)
		case monitor.ActionViolation:
			h.handleViolation(c, conn, sessionID, claims.UserID, &msg)
		case monitor.ActionSubmit:
			h.handleSubmit(c, conn, wsLog, rt)
		case monitor.ActionPing:
			conn.write(monitor.PongResponse{
				Event:            monitor.EventPong,
				RemainingSeconds: rt.Remaining().Seconds(),
			})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.writeError("unknown action: " + string(msg.Action))
		}
	}
}

// handleAutosave buffers one edit; the runtime flushes on its debounce
// timer. The ack means buffered, not persisted.
func (h *WSHandler) handleAutosave(conn *wsConn, rt *proctor.Runtime, msg *monitor.StudentRequest) {
	if msg.QuestionID == "" {
		conn.writeError("question_id is required")
		return
	}

	if err := rt.UpdateAnswer(msg.QuestionID, msg.Answer); err != nil {
		conn.writeError("session is no longer accepting edits")
		return
	}

	conn.write(monitor.SavedResponse{Event: monitor.EventSaved, Status: "buffered"})
}

// handleSave applies an optional edit and forces an immediate flush.
func (h *WSHandler) handleSave(c *gin.Context, conn *wsConn, rt *proctor.Runtime, msg *monitor.StudentRequest) {
	if msg.QuestionID != "" {
		if err := rt.UpdateAnswer(msg.QuestionID, msg.Answer); err != nil {
			conn.writeError("session is no longer accepting edits")
			return
		}
	}

	if err := rt.SaveNow(c.Request.Context()); err != nil {
		conn.writeError("save failed")
		return
	}

	conn.write(monitor.SavedResponse{Event: monitor.EventSaved, Status: "saved"})
}

func (h *WSHandler) handleViolation(c *gin.Context, conn *wsConn, sessionID uuid.UUID, studentID int, msg *monitor.StudentRequest) {
	if !msg.Type.Valid() {
		conn.writeError("unknown violation type")
		return
	}
	if !msg.Severity.Valid() {
		conn.writeError("unknown severity")
		return
	}

	risk, accepted, err := h.sessionService.ReportViolation(c.Request.Context(), sessionID, studentID, msg.Type, msg.Severity, msg.Description)
	if err != nil {
		conn.writeError("violation rejected")
		return
	}

	event := monitor.EventAccepted
	if !accepted {
		event = monitor.EventDuplicate
	}
	conn.write(monitor.ViolationAck{Event: event, RiskScore: risk})
}

func (h *WSHandler) handleSubmit(c *gin.Context, conn *wsConn, wsLog zerolog.Logger, rt *proctor.Runtime) {
	result, err := rt.Submit(c.Request.Context())
	if err != nil {
		wsLog.Error().Err(err).Msg("Submit failed")
		conn.writeError("submit failed")
		return
	}

	wsLog.Info().
		Float64("percentage", result.Percentage).
		Int("time_spent", result.TimeSpentSeconds).
		Msg("Session submitted")

	conn.write(monitor.SubmittedResponse{Event: monitor.EventSubmitted, Result: result})
}
