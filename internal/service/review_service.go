package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/classpoint/proctor-backend/internal/model"
	"github.com/classpoint/proctor-backend/internal/repository"
)

// Review domain errors.
var (
	ErrNotReviewable      = errors.New("session is not in a reviewable state")
	ErrAlreadyReviewed    = errors.New("session has already been reviewed")
	ErrClassroomForbidden = errors.New("classroom belongs to another instructor")
)

// ReviewService handles the post-submission review workflow.
type ReviewService struct {
	sessionRepo    *repository.SessionRepository
	reviewRepo     *repository.ReviewRepository
	studentRepo    *repository.StudentRepository
	instructorRepo *repository.InstructorRepository
	log            zerolog.Logger
}

// NewReviewService creates a new ReviewService.
func NewReviewService(
	sessionRepo *repository.SessionRepository,
	reviewRepo *repository.ReviewRepository,
	studentRepo *repository.StudentRepository,
	instructorRepo *repository.InstructorRepository,
	log zerolog.Logger,
) *ReviewService {
	return &ReviewService{
		sessionRepo:    sessionRepo,
		reviewRepo:     reviewRepo,
		studentRepo:    studentRepo,
		instructorRepo: instructorRepo,
		log:            log.With().Str("component", "review_service").Logger(),
	}
}

// ReviewSession records an instructor decision for a finished session and
// moves it to the Reviewed terminal state. Exactly one review wins; a
// second attempt fails with ErrAlreadyReviewed.
func (s *ReviewService) ReviewSession(ctx context.Context, sessionID uuid.UUID, instructorID int, req model.ReviewRequest) (*model.ReviewDecision, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := s.authorizeForStudent(ctx, instructorID, session.StudentID); err != nil {
		return nil, err
	}
	if !session.State.Reviewable() {
		if session.State == model.SessionReviewed {
			return nil, ErrAlreadyReviewed
		}
		return nil, ErrNotReviewable
	}

	decision := &model.ReviewDecision{
		SessionID:       sessionID,
		InstructorID:    instructorID,
		Outcome:         req.Outcome,
		Notes:           req.Notes,
		ScoreAdjustment: req.ScoreAdjustment,
		DecidedAt:       time.Now(),
	}

	if err := s.reviewRepo.Insert(ctx, decision); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyReviewed
		}
		return nil, fmt.Errorf("record decision: %w", err)
	}

	score := 0.0
	if session.Score != nil {
		score = *session.Score
	}
	finalScore := decision.ApplyTo(score)

	if err := s.sessionRepo.FinalizeReview(ctx, sessionID, finalScore); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyReviewed
		}
		return nil, fmt.Errorf("finalize review: %w", err)
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("instructor_id", instructorID).
		Str("outcome", string(decision.Outcome)).
		Float64("final_score", finalScore).
		Msg("Session reviewed")

	return decision, nil
}

// SessionsForReview returns the instructor's review queue for a classroom,
// highest risk first.
func (s *ReviewService) SessionsForReview(ctx context.Context, instructorID, classroomID int, filters model.ReviewQueueFilters) ([]model.ReviewQueueEntry, error) {
	if err := s.authorizeForClassroom(ctx, instructorID, classroomID); err != nil {
		return nil, err
	}
	return s.sessionRepo.ListForReview(ctx, classroomID, filters)
}

// FlagSession manually pulls a finished session into the review queue.
func (s *ReviewService) FlagSession(ctx context.Context, sessionID uuid.UUID, instructorID int) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}

	if err := s.authorizeForStudent(ctx, instructorID, session.StudentID); err != nil {
		return err
	}

	if err := s.sessionRepo.MarkUnderReview(ctx, sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotReviewable
		}
		return fmt.Errorf("mark under review: %w", err)
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("instructor_id", instructorID).
		Msg("Session manually flagged for review")
	return nil
}

// Decision returns the recorded review decision for a session, if any.
func (s *ReviewService) Decision(ctx context.Context, sessionID uuid.UUID, instructorID int) (*model.ReviewDecision, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := s.authorizeForStudent(ctx, instructorID, session.StudentID); err != nil {
		return nil, err
	}
	return s.reviewRepo.GetBySession(ctx, sessionID)
}

func (s *ReviewService) authorizeForStudent(ctx context.Context, instructorID, studentID int) error {
	student, err := s.studentRepo.GetByID(ctx, studentID)
	if err != nil {
		return fmt.Errorf("get student: %w", err)
	}
	return s.authorizeForClassroom(ctx, instructorID, student.ClassroomID)
}

func (s *ReviewService) authorizeForClassroom(ctx context.Context, instructorID, classroomID int) error {
	owns, err := s.instructorRepo.OwnsClassroom(ctx, instructorID, classroomID)
	if err != nil {
		return fmt.Errorf("check classroom ownership: %w", err)
	}
	if !owns {
		return ErrClassroomForbidden
	}
	return nil
}
