package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QuizStatus enumerates the possible states of a quiz.
type QuizStatus string

const (
	QuizStatusDraft     QuizStatus = "DRAFT"
	QuizStatusPublished QuizStatus = "PUBLISHED"
	QuizStatusClosed    QuizStatus = "CLOSED"
)

// Quiz represents a timed, optionally proctored assessment.
type Quiz struct {
	ID                uuid.UUID  `json:"id"`
	ClassroomID       int        `json:"classroom_id"`
	Title             string     `json:"title"`
	AuthorID          int        `json:"author_id"`
	ScheduledStart    *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd      *time.Time `json:"scheduled_end,omitempty"`
	DurationSeconds   int        `json:"duration_seconds"`
	TotalPoints       int        `json:"total_points"`
	RequireProctoring bool       `json:"require_proctoring"`
	// RiskThreshold overrides the engine-wide default when > 0.
	RiskThreshold int        `json:"risk_threshold,omitempty"`
	AllowRetakes  bool       `json:"allow_retakes"`
	Status        QuizStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// QuizPayload is the Redis-cached payload sent to students (no correct answers).
type QuizPayload struct {
	QuizID            uuid.UUID            `json:"quiz_id"`
	Title             string               `json:"title"`
	DurationSeconds   int                  `json:"duration_seconds"`
	RequireProctoring bool                 `json:"require_proctoring"`
	Questions         []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without the correct answer.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options"`
	Points       int             `json:"points"`
	OrderNum     int             `json:"order_num"`
}

// Question is the full question record, including the grading key.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	QuizID        uuid.UUID       `json:"quiz_id"`
	QuestionText  string          `json:"question_text"`
	Options       json.RawMessage `json:"options"`
	CorrectAnswer string          `json:"correct_answer"`
	Points        int             `json:"points"`
	OrderNum      int             `json:"order_num"`
}
