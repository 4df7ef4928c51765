package model

import (
	"time"

	"github.com/google/uuid"
)

// ReviewOutcome enumerates the terminal decisions an instructor can apply
// to a submitted or flagged session.
type ReviewOutcome string

const (
	ReviewAccept         ReviewOutcome = "accept"
	ReviewReject         ReviewOutcome = "reject"
	ReviewPartialCredit  ReviewOutcome = "partial_credit"
	ReviewRetakeRequired ReviewOutcome = "retake_required"
)

// Valid reports whether o is a known review outcome.
func (o ReviewOutcome) Valid() bool {
	switch o {
	case ReviewAccept, ReviewReject, ReviewPartialCredit, ReviewRetakeRequired:
		return true
	}
	return false
}

// ReviewDecision is an instructor's final word on a session. Immutable once
// recorded; a second review of the same session is a state conflict.
type ReviewDecision struct {
	ID           int64         `json:"id,omitempty"`
	SessionID    uuid.UUID     `json:"session_id"`
	InstructorID int           `json:"instructor_id"`
	Outcome      ReviewOutcome `json:"outcome"`
	Notes        string        `json:"notes"`
	// ScoreAdjustment is additive percentage points, only meaningful for
	// partial_credit. Bounded to [-100, 100].
	ScoreAdjustment int       `json:"score_adjustment"`
	DecidedAt       time.Time `json:"decided_at"`
}

// ApplyTo computes the final score a decision yields for a session graded
// at the given percentage. The result is clamped to [0, 100].
func (d *ReviewDecision) ApplyTo(score float64) float64 {
	switch d.Outcome {
	case ReviewReject:
		return 0
	case ReviewPartialCredit:
		adjusted := score + float64(d.ScoreAdjustment)
		if adjusted < 0 {
			return 0
		}
		if adjusted > 100 {
			return 100
		}
		return adjusted
	default:
		// accept and retake_required leave the computed score unchanged.
		return score
	}
}

// ReviewRequest is the payload for reviewing a session.
type ReviewRequest struct {
	Outcome         ReviewOutcome `json:"outcome" binding:"required,oneof=accept reject partial_credit retake_required"`
	Notes           string        `json:"notes" binding:"omitempty,max=2000"`
	ScoreAdjustment int           `json:"score_adjustment" binding:"omitempty,min=-100,max=100"`
}

// ReviewQueueFilters narrows the instructor review queue.
type ReviewQueueFilters struct {
	QuizID       *uuid.UUID
	State        *SessionState
	MinRiskScore *int
}

// ReviewQueueEntry is one row of the instructor review queue.
type ReviewQueueEntry struct {
	Session     QuizSession `json:"session"`
	StudentName string      `json:"student_name"`
	QuizTitle   string      `json:"quiz_title"`
	Violations  int         `json:"violation_count"`
}
