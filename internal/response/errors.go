package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden            ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly    ErrCode = "STUDENT_ACCESS_ONLY"
	ErrInstructorAccessOnly ErrCode = "INSTRUCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrConflict        ErrCode = "CONFLICT"
	ErrActionForbidden ErrCode = "ACTION_FORBIDDEN"

	// ─── Assessment / Submission ───────────────────────────────────────
	ErrAssessmentNotAvailable ErrCode = "ASSESSMENT_NOT_AVAILABLE"
	ErrInvalidAccessCode      ErrCode = "INVALID_ACCESS_CODE"
	ErrAssessmentNotPublished ErrCode = "ASSESSMENT_NOT_PUBLISHED"
	ErrNotAssessmentAuthor    ErrCode = "NOT_ASSESSMENT_AUTHOR"
	ErrNoQuestions            ErrCode = "NO_QUESTIONS"
	ErrAssessmentNotDraft     ErrCode = "ASSESSMENT_NOT_DRAFT"
	ErrSubmissionClosed       ErrCode = "SUBMISSION_CLOSED"
	ErrTimeExpired            ErrCode = "TIME_EXPIRED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrSessionActive:
		return "You are already logged in on another device."
	case ErrSessionInvalidated:
		return "Your session has ended. Please log in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrInstructorAccessOnly:
		return "This resource is restricted to instructors."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "The ID format is invalid."
	case ErrInvalidPayload:
		return "The request payload is invalid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The resource was not found."
	case ErrConflict:
		return "The resource already exists."
	case ErrActionForbidden:
		return "This action is not allowed."

	// ─── Assessment / Submission ───────────────────────────────────────
	case ErrAssessmentNotAvailable:
		return "This assessment is currently not available."
	case ErrInvalidAccessCode:
		return "The assessment access code is invalid."
	case ErrAssessmentNotPublished:
		return "This assessment has not been published."
	case ErrNotAssessmentAuthor:
		return "You are not the author of this assessment."
	case ErrNoQuestions:
		return "This assessment has no questions."
	case ErrAssessmentNotDraft:
		return "This assessment is not in DRAFT status."
	case ErrSubmissionClosed:
		return "This submission has already been turned in and no longer accepts changes."
	case ErrTimeExpired:
		return "Time is up for this submission."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
