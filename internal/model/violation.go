package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType is the tagged set of integrity breaches the proctoring
// signal source can report. The detector itself is an opaque collaborator;
// only the event shape is modeled here.
type ViolationType string

const (
	ViolationFaceNotDetected ViolationType = "face_not_detected"
	ViolationMultipleFaces   ViolationType = "multiple_faces"
	ViolationTabSwitch       ViolationType = "tab_switch"
	ViolationWindowBlur      ViolationType = "window_blur"
	ViolationCopyPaste       ViolationType = "copy_paste"
	ViolationFullscreenExit  ViolationType = "fullscreen_exit"
	ViolationDevtoolsOpen    ViolationType = "devtools_open"
)

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	switch t {
	case ViolationFaceNotDetected, ViolationMultipleFaces, ViolationTabSwitch,
		ViolationWindowBlur, ViolationCopyPaste, ViolationFullscreenExit,
		ViolationDevtoolsOpen:
		return true
	}
	return false
}

// Severity grades a violation's weight toward the risk score.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Violation is a single recorded integrity breach. Immutable once recorded.
type Violation struct {
	ID          int64         `json:"id,omitempty"`
	SessionID   uuid.UUID     `json:"session_id"`
	Type        ViolationType `json:"type"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// ReportViolationRequest is the payload for the REST violation fallback.
type ReportViolationRequest struct {
	Type        ViolationType `json:"type" binding:"required"`
	Severity    Severity      `json:"severity" binding:"required,oneof=low medium high"`
	Description string        `json:"description" binding:"omitempty,max=500"`
}
