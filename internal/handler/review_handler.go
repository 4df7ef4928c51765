package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/middleware"
	"github.com/classpoint/proctor-backend/internal/model"
	"github.com/classpoint/proctor-backend/internal/response"
	"github.com/classpoint/proctor-backend/internal/service"
	"github.com/classpoint/proctor-backend/internal/validator"
)

// ReviewHandler handles the instructor review workflow over REST.
type ReviewHandler struct {
	reviewService *service.ReviewService
	log           zerolog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(reviewService *service.ReviewService, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
		log:           log.With().Str("component", "review_handler").Logger(),
	}
}

// GetReviewQueue godoc
// GET /api/v1/instructor/classrooms/:classroom_id/review-queue
// Optional filters: quiz_id, state, min_risk.
func (h *ReviewHandler) GetReviewQueue(c *gin.Context) {
	claims := middleware.GetClaims(c)
	classroomID, err := strconv.Atoi(c.Param("classroom_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	filters := model.ReviewQueueFilters{}
	if raw := c.Query("quiz_id"); raw != "" {
		quizID, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		filters.QuizID = &quizID
	}
	if raw := c.Query("state"); raw != "" {
		state := model.SessionState(raw)
		filters.State = &state
	}
	if raw := c.Query("min_risk"); raw != "" {
		minRisk, err := strconv.Atoi(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
			return
		}
		filters.MinRiskScore = &minRisk
	}

	entries, err := h.reviewService.SessionsForReview(c.Request.Context(), claims.UserID, classroomID, filters)
	if err != nil {
		h.failReview(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": entries})
}

// ReviewSession godoc
// POST /api/v1/instructor/sessions/:session_id/review
// Records a decision and moves the session to its terminal state.
func (h *ReviewHandler) ReviewSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReviewRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	decision, err := h.reviewService.ReviewSession(c.Request.Context(), sessionID, claims.UserID, req)
	if err != nil {
		h.failReview(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"decision": decision})
}

// FlagSession godoc
// POST /api/v1/instructor/sessions/:session_id/flag
// Manually pulls a finished session into the review queue.
func (h *ReviewHandler) FlagSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.reviewService.FlagSession(c.Request.Context(), sessionID, claims.UserID); err != nil {
		h.failReview(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "flagged"})
}

// GetDecision godoc
// GET /api/v1/instructor/sessions/:session_id/review
func (h *ReviewHandler) GetDecision(c *gin.Context) {
	claims := middleware.GetClaims(c)
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	decision, err := h.reviewService.Decision(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.failReview(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"decision": decision})
}

// failReview maps review service errors onto API error codes.
func (h *ReviewHandler) failReview(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrClassroomForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrNotClassroomOwner)
	case errors.Is(err, service.ErrNotReviewable):
		response.Fail(c, http.StatusConflict, response.ErrNotReviewable)
	case errors.Is(err, service.ErrAlreadyReviewed):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyReviewed)
	default:
		h.log.Error().Err(err).Msg("Review operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
