package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates quiz session lifecycle states.
type SessionState string

const (
	SessionNotStarted       SessionState = "NOT_STARTED"
	SessionEnvironmentCheck SessionState = "ENVIRONMENT_CHECK"
	SessionInProgress       SessionState = "IN_PROGRESS"
	SessionSubmitted        SessionState = "SUBMITTED"
	SessionFlagged          SessionState = "FLAGGED"
	SessionUnderReview      SessionState = "UNDER_REVIEW"
	SessionReviewed         SessionState = "REVIEWED"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionReviewed
}

// Reviewable reports whether an instructor may attach a review decision.
func (s SessionState) Reviewable() bool {
	switch s {
	case SessionSubmitted, SessionFlagged, SessionUnderReview:
		return true
	}
	return false
}

// Active reports whether the session counts against the one-active-session
// rule for its (student, quiz) pair.
func (s SessionState) Active() bool {
	switch s {
	case SessionNotStarted, SessionEnvironmentCheck, SessionInProgress:
		return true
	}
	return false
}

// QuizSession represents one attempt of a quiz by a student.
//
// StartedAt and DurationSeconds are immutable once InProgress is entered;
// the deadline is always recomputed as StartedAt + DurationSeconds and is
// never persisted as a countdown, so reconnects and reloads cannot drift.
type QuizSession struct {
	ID            uuid.UUID    `json:"id"`
	QuizID        uuid.UUID    `json:"quiz_id"`
	StudentID     int          `json:"student_id"`
	AttemptNumber int          `json:"attempt_number"`
	State         SessionState `json:"state"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	// EnvironmentConfirmedAt is set once the proctoring environment check
	// passes. Nil while the check is pending (or when the quiz never
	// required proctoring).
	EnvironmentConfirmedAt *time.Time `json:"environment_confirmed_at,omitempty"`

	RiskScore   int        `json:"risk_score"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	FinalScore  *float64   `json:"final_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deadline returns the absolute submit deadline, or the zero time when the
// session has not started.
func (s *QuizSession) Deadline() time.Time {
	if s.StartedAt == nil {
		return time.Time{}
	}
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// Remaining returns the time left at the given instant, floored at zero.
func (s *QuizSession) Remaining(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	r := s.Deadline().Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// SubmitResult is the outcome of a (idempotent) session submission.
type SubmitResult struct {
	SessionID        uuid.UUID    `json:"session_id"`
	State            SessionState `json:"state"`
	Score            float64      `json:"score"`
	TotalPoints      int          `json:"total_points"`
	Percentage       float64      `json:"percentage"`
	TimeSpentSeconds int          `json:"time_spent_seconds"`
}

// SessionStateView is what a reloading client needs to resume: saved answers
// plus the recomputed remaining time.
type SessionStateView struct {
	Session          *QuizSession      `json:"session"`
	Answers          map[string]string `json:"answers"`
	RemainingSeconds float64           `json:"remaining_seconds"`
	// NeedsEnvironmentCheck forces re-running environment setup on resume
	// when proctoring was required but never confirmed.
	NeedsEnvironmentCheck bool `json:"needs_environment_check"`
}

// StartSessionRequest is the payload for starting a quiz session.
type StartSessionRequest struct {
	// ProctoringData carries opaque detector capability info from the
	// client (camera present, fullscreen support, ...).
	ProctoringData map[string]any `json:"proctoring_data" binding:"omitempty"`
}

// ConfirmEnvironmentRequest is the payload for completing the environment check.
type ConfirmEnvironmentRequest struct {
	ProctoringData map[string]any `json:"proctoring_data" binding:"required"`
}

// SaveAnswersRequest is the payload for the REST answer-save fallback.
type SaveAnswersRequest struct {
	Answers map[string]string `json:"answers" binding:"required,min=1"`
}
