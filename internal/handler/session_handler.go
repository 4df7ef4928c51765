package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/middleware"
	"github.com/classpoint/proctor-backend/internal/model"
	"github.com/classpoint/proctor-backend/internal/proctor"
	"github.com/classpoint/proctor-backend/internal/response"
	"github.com/classpoint/proctor-backend/internal/service"
	"github.com/classpoint/proctor-backend/internal/validator"
)

// SessionHandler handles the student-facing session lifecycle over REST.
// The WebSocket stream is the preferred path while a session is live;
// these endpoints cover start/resume/submit and degraded clients.
type SessionHandler struct {
	sessionService *service.SessionService
	quizService    *service.QuizService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, quizService *service.QuizService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		quizService:    quizService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// GetLobby godoc
// GET /api/v1/student/quizzes
// Lists the published quizzes a student can attempt.
func (h *SessionHandler) GetLobby(c *gin.Context) {
	quizzes, err := h.quizService.ListAvailable(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"quizzes": quizzes})
}

// GetQuizPaper godoc
// GET /api/v1/student/quizzes/:quiz_id/paper
// Returns the quiz questions without correct answers. Requires an active
// session so the paper cannot be fetched before starting.
func (h *SessionHandler) GetQuizPaper(c *gin.Context) {
	quizID, err := uuid.Parse(c.Param("quiz_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.quizService.GetPayload(c.Request.Context(), quizID)
	if err != nil {
		if errors.Is(err, service.ErrNoQuestions) {
			response.Fail(c, http.StatusNotFound, response.ErrNoQuestions)
			return
		}
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"quiz": payload})
}

// StartSession godoc
// POST /api/v1/student/quizzes/:quiz_id/sessions
// Creates a new attempt. Proctored quizzes require a follow-up
// environment confirmation before the clock starts.
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	quizID, err := uuid.Parse(c.Param("quiz_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// The body is optional; proctoring data only matters when present.
	var req model.StartSessionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	session, err := h.sessionService.StartSession(c.Request.Context(), quizID, claims.UserID, req.ProctoringData)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": session})
}

// ConfirmEnvironment godoc
// POST /api/v1/student/sessions/:session_id/environment
// Completes the proctoring environment check and starts the clock.
func (h *SessionHandler) ConfirmEnvironment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ConfirmEnvironmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.ConfirmEnvironment(c.Request.Context(), sessionID, claims.UserID, req.ProctoringData)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetState godoc
// GET /api/v1/student/sessions/:session_id/state
// Resume endpoint: saved answers plus remaining time recomputed from the
// absolute deadline.
func (h *SessionHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.GetState(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": state})
}

// SaveAnswers godoc
// PUT /api/v1/student/sessions/:session_id/answers
// Forced save for clients without a live WebSocket. Save failures are
// reported, unlike the silent debounced path.
func (h *SessionHandler) SaveAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.SaveAnswersForced(c.Request.Context(), sessionID, claims.UserID, req.Answers); err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
// Finalizes the session. Safe to retry: a repeat submit returns the
// recorded result.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// ReportViolation godoc
// POST /api/v1/student/sessions/:session_id/violations
// REST fallback for proctoring events when the WebSocket is down.
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if !req.Type.Valid() {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidViolation)
		return
	}

	risk, accepted, err := h.sessionService.ReportViolation(c.Request.Context(), sessionID, claims.UserID, req.Type, req.Severity, req.Description)
	if err != nil {
		h.failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"accepted":   accepted,
		"risk_score": risk,
	})
}

// ListViolations godoc
// GET /api/v1/student/sessions/:session_id/violations
func (h *SessionHandler) ListViolations(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership check runs through GetState's path.
	if _, err := h.sessionService.GetState(c.Request.Context(), sessionID, claims.UserID); err != nil {
		h.failSession(c, err)
		return
	}

	violations, err := h.sessionService.Violations(c.Request.Context(), sessionID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"violations": violations})
}

// failSession maps session service errors onto API error codes.
func (h *SessionHandler) failSession(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotSessionOwner)
	case errors.Is(err, service.ErrQuizNotAvailable):
		response.Fail(c, http.StatusForbidden, response.ErrQuizNotAvailable)
	case errors.Is(err, service.ErrAlreadyActiveSession):
		response.Fail(c, http.StatusConflict, response.ErrActiveSessionExists)
	case errors.Is(err, service.ErrRetakeNotAllowed):
		response.Fail(c, http.StatusForbidden, response.ErrRetakeNotAllowed)
	case errors.Is(err, service.ErrStateConflict), errors.Is(err, proctor.ErrNotInProgress):
		response.Fail(c, http.StatusConflict, response.ErrSessionStateInvalid)
	case errors.Is(err, proctor.ErrStopped):
		response.Fail(c, http.StatusConflict, response.ErrSessionStateInvalid)
	default:
		h.log.Error().Err(err).Msg("Session operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
