package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/classpoint/proctor-backend/internal/model"
	"github.com/classpoint/proctor-backend/internal/proctor"
)

// ─── Event envelope (published on the quiz monitor channel) ─────────

type EventKind string

const (
	EventProgress     EventKind = "progress"
	EventViolation    EventKind = "violation"
	EventCompleted    EventKind = "completed"
	EventLowTime      EventKind = "low_time"
	EventIntervention EventKind = "intervention"
)

// Envelope is the single wire shape carried on a quiz's monitor channel.
// Exactly one of the kind-specific fields is set. Students publish
// progress/violation/completed; instructors publish interventions; the hub
// routes by kind.
type Envelope struct {
	Kind      EventKind `json:"kind"`
	QuizID    uuid.UUID `json:"quiz_id"`
	SessionID uuid.UUID `json:"session_id"`
	At        time.Time `json:"at"`

	Progress         *proctor.Progress `json:"progress,omitempty"`
	Violation        *model.Violation  `json:"violation,omitempty"`
	RiskScore        int               `json:"risk_score,omitempty"`
	State            string            `json:"state,omitempty"`
	RemainingSeconds float64           `json:"remaining_seconds,omitempty"`
	Intervention     *Intervention     `json:"intervention,omitempty"`
}

// ─── Interventions (instructor → student, advisory) ─────────────────

type InterventionAction string

const (
	InterventionWarning InterventionAction = "warning"
	InterventionPause   InterventionAction = "pause"
	InterventionStop    InterventionAction = "stop"
)

// Valid reports whether a is a known intervention action.
func (a InterventionAction) Valid() bool {
	return a == InterventionWarning || a == InterventionPause || a == InterventionStop
}

// Intervention is an instructor-issued advisory signal targeted at one
// session. Delivery is best-effort; it never blocks session state.
type Intervention struct {
	SessionID    uuid.UUID          `json:"session_id"`
	InstructorID int                `json:"instructor_id"`
	Action       InterventionAction `json:"action"`
	Message      string             `json:"message,omitempty"`
}

// ─── Student stream actions (client → server) ───────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionSave      Action = "save"
	ActionProgress  Action = "progress"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// StudentRequest is a message on the student session stream.
type StudentRequest struct {
	Action Action `json:"action"`

	// autosave
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`

	// progress
	CurrentQuestion int `json:"current_question,omitempty"`

	// violation
	Type        model.ViolationType `json:"type,omitempty"`
	Severity    model.Severity      `json:"severity,omitempty"`
	Description string              `json:"description,omitempty"`
}

// InstructorRequest is a message on the instructor monitor stream.
type InstructorRequest struct {
	Action    string             `json:"action"` // "intervention"
	SessionID uuid.UUID          `json:"session_id"`
	Do        InterventionAction `json:"do"`
	Message   string             `json:"message,omitempty"`
}

// ─── Server → client events ─────────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventAccepted  Event = "accepted"
	EventDuplicate Event = "duplicate"
	EventSubmitted Event = "submitted"
	EventWarning   Event = "warning"
	EventPong      Event = "pong"
	EventSnapshot  Event = "snapshot"
	EventFeed      Event = "feed"
)

// ErrorResponse is sent when a stream message cannot be honored.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

// SavedResponse acknowledges an autosave or forced save.
type SavedResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

// ViolationAck reports whether a violation was accepted or deduplicated,
// and the resulting risk score.
type ViolationAck struct {
	Event     Event `json:"event"`
	RiskScore int   `json:"risk_score"`
}

// SubmittedResponse carries the final result after submission.
type SubmittedResponse struct {
	Event  Event               `json:"event"`
	Result *model.SubmitResult `json:"result"`
}

// PongResponse answers a ping.
type PongResponse struct {
	Event            Event   `json:"event"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}
