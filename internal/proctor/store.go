package proctor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/classpoint/proctor-backend/internal/model"
)

var (
	// ErrStopped is returned when an operation reaches a runtime whose
	// session has already left InProgress.
	ErrStopped = errors.New("session runtime stopped")

	// ErrNotInProgress is returned when a runtime is built for a session
	// that is not in a runnable state.
	ErrNotInProgress = errors.New("session is not in progress")
)

// Store is the remote session store the engine writes through. The service
// layer implements it over PostgreSQL and Redis; engine tests use fakes.
type Store interface {
	// SaveAnswers upserts the given answers for the session. Idempotent,
	// last-write-wins per question.
	SaveAnswers(ctx context.Context, sessionID uuid.UUID, answers map[string]string) error

	// SubmitSession grades and finalizes the session. Idempotent: a repeat
	// call for an already-submitted session returns the recorded result.
	// flagged requests the Flagged terminal state instead of Submitted.
	SubmitSession(ctx context.Context, sessionID uuid.UUID, riskScore int, flagged bool) (*model.SubmitResult, error)

	// RecordViolation appends a violation to the session's log.
	RecordViolation(ctx context.Context, v model.Violation) error
}

// Progress is a live progress sample published to the monitoring channel.
type Progress struct {
	SessionID       uuid.UUID `json:"session_id"`
	StudentID       int       `json:"student_id"`
	CurrentQuestion int       `json:"current_question"`
	AnsweredCount   int       `json:"answered_count"`
	TimeRemaining   float64   `json:"time_remaining"`
}

// Publisher is the monitoring channel seen from the engine. Delivery is
// best-effort: implementations must never block session correctness on a
// slow or absent subscriber.
type Publisher interface {
	PublishProgress(quizID uuid.UUID, p Progress)
	PublishViolation(quizID uuid.UUID, v model.Violation, riskScore int)
	PublishCompleted(quizID uuid.UUID, sessionID uuid.UUID, state model.SessionState)
	PublishLowTime(quizID uuid.UUID, sessionID uuid.UUID, remaining time.Duration)
}

// NopPublisher discards all events. Used where no monitor is attached.
type NopPublisher struct{}

func (NopPublisher) PublishProgress(uuid.UUID, Progress)                       {}
func (NopPublisher) PublishViolation(uuid.UUID, model.Violation, int)          {}
func (NopPublisher) PublishCompleted(uuid.UUID, uuid.UUID, model.SessionState) {}
func (NopPublisher) PublishLowTime(uuid.UUID, uuid.UUID, time.Duration)        {}
