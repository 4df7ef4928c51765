package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// Authentication
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrLoginActive        ErrCode = "LOGIN_ALREADY_ACTIVE"
	ErrLoginInvalidated   ErrCode = "LOGIN_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// Authorization
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrInstructorOnly    ErrCode = "INSTRUCTOR_ACCESS_ONLY"
	ErrNotSessionOwner   ErrCode = "NOT_SESSION_OWNER"
	ErrNotClassroomOwner ErrCode = "NOT_CLASSROOM_OWNER"

	// Validation
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// Resources
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// Session lifecycle
	ErrQuizNotAvailable    ErrCode = "QUIZ_NOT_AVAILABLE"
	ErrNoQuestions         ErrCode = "NO_QUESTIONS"
	ErrActiveSessionExists ErrCode = "ACTIVE_SESSION_EXISTS"
	ErrRetakeNotAllowed    ErrCode = "RETAKE_NOT_ALLOWED"
	ErrSessionStateInvalid ErrCode = "SESSION_STATE_INVALID"
	ErrEnvironmentRequired ErrCode = "ENVIRONMENT_CHECK_REQUIRED"
	ErrInvalidViolation    ErrCode = "INVALID_VIOLATION"

	// Review workflow
	ErrNotReviewable   ErrCode = "SESSION_NOT_REVIEWABLE"
	ErrAlreadyReviewed ErrCode = "SESSION_ALREADY_REVIEWED"

	// Rate limiting
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// Server
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrLoginActive:
		return "You are already logged in on another device."
	case ErrLoginInvalidated:
		return "Your login has expired. Please sign in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrInstructorOnly:
		return "This resource is restricted to instructors."
	case ErrNotSessionOwner:
		return "This session belongs to another student."
	case ErrNotClassroomOwner:
		return "This classroom belongs to another instructor."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	case ErrQuizNotAvailable:
		return "This quiz is not currently available."
	case ErrNoQuestions:
		return "This quiz has no questions."
	case ErrActiveSessionExists:
		return "You already have an active session for this quiz."
	case ErrRetakeNotAllowed:
		return "Retakes are not allowed for this quiz."
	case ErrSessionStateInvalid:
		return "The session is not in a valid state for this action."
	case ErrEnvironmentRequired:
		return "The proctoring environment check must be completed first."
	case ErrInvalidViolation:
		return "Unknown violation type or severity."

	case ErrNotReviewable:
		return "The session is not in a reviewable state."
	case ErrAlreadyReviewed:
		return "The session has already been reviewed."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
