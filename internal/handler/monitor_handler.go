package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/middleware"
	"github.com/classpoint/proctor-backend/internal/monitor"
	"github.com/classpoint/proctor-backend/internal/repository"
	"github.com/classpoint/proctor-backend/internal/service"
)

// MonitorHandler handles the instructor monitoring stream.
type MonitorHandler struct {
	monitorService *service.MonitorService
	quizRepo       *repository.QuizRepository
	instructorRepo *repository.InstructorRepository
	hub            *monitor.Hub
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	monitorService *service.MonitorService,
	quizRepo *repository.QuizRepository,
	instructorRepo *repository.InstructorRepository,
	hub *monitor.Hub,
	log zerolog.Logger,
	allowedOrigins []string,
) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		quizRepo:       quizRepo,
		instructorRepo: instructorRepo,
		hub:            hub,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// MonitorStream godoc
// WS /ws/v1/instructor/quizzes/:quiz_id/monitor
// Sends a roster snapshot, then the live feed: progress, violations,
// completions, low-time warnings. Inbound messages carry interventions.
func (h *MonitorHandler) MonitorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	quizID, err := uuid.Parse(c.Param("quiz_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quiz ID"})
		return
	}

	quiz, err := h.quizRepo.GetByID(c.Request.Context(), quizID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quiz not found"})
		return
	}

	owns, err := h.instructorRepo.OwnsClassroom(c.Request.Context(), claims.UserID, quiz.ClassroomID)
	if err != nil || !owns {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your classroom"})
		return
	}

	rawConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer rawConn.Close()
	conn := &wsConn{conn: rawConn}

	wsLog := h.log.With().
		Int("instructor_id", claims.UserID).
		Str("quiz_id", quizID.String()).
		Logger()
	wsLog.Info().Msg("Instructor connected")

	// Roster snapshot first, so the dashboard has state before the feed.
	snapshot, err := h.monitorService.QuizSnapshot(c.Request.Context(), quizID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Snapshot failed")
		conn.writeError("snapshot failed")
		return
	}
	conn.write(gin.H{"event": monitor.EventSnapshot, "sessions": snapshot})

	sub := h.hub.SubscribeInstructor(quizID)
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
		var msg monitor.InstructorRequest
		if err := monitor.ReadJSON(rawConn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if msg.Action != "intervention" {
			conn.writeError("unknown action: " + msg.Action)
			continue
		}
		if !msg.Do.Valid() {
			conn.writeError("unknown intervention action")
			continue
		}
		if msg.SessionID == uuid.Nil {
			conn.writeError("session_id is required")
			continue
		}

		h.hub.SendIntervention(quizID, monitor.Intervention{
			SessionID:    msg.SessionID,
			InstructorID: claims.UserID,
			Action:       msg.Do,
			Message:      msg.Message,
		})

		wsLog.Info().
			Str("session_id", msg.SessionID.String()).
			Str("do", string(msg.Do)).
			Msg("Intervention sent")
	}
}
