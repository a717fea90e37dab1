package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity errors
// 12000-12999: Activity & Session errors
// 13000-13999: Compilation & Sandbox errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	TransactionFailed ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// Infrastructure (10400-10499)
	EventPublishFailed ErrorCode = 10400
	StorageError       ErrorCode = 10401

	// ========== Identity Errors (11000-11999) ==========

	TokenExpired    ErrorCode = 11003
	TokenInvalid    ErrorCode = 11004
	StudentNotFound ErrorCode = 11010

	// ========== Activity & Session Errors (12000-12999) ==========

	ActivityNotFound     ErrorCode = 12000
	SessionNotFound      ErrorCode = 12100
	SessionCreateFailed  ErrorCode = 12101
	SessionUpdateFailed  ErrorCode = 12102
	AttemptCreateFailed  ErrorCode = 12200
	AttemptHistoryFailed ErrorCode = 12201

	// ========== Compilation & Sandbox Errors (13000-13999) ==========

	// Submission (13000-13099)
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	SubmitTooFrequently  ErrorCode = 13004
	BlockedConstruct     ErrorCode = 13010

	// Sandbox (13100-13199)
	ExecutorBusy ErrorCode = 13100
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:     "Database operation failed",
	TransactionFailed: "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed: "Validation failed",

	// Infrastructure
	EventPublishFailed: "Failed to publish event",
	StorageError:       "Object storage operation failed",

	// Identity
	TokenExpired:    "Token has expired",
	TokenInvalid:    "Invalid token",
	StudentNotFound: "Student is not existing",

	// Activity & Session
	ActivityNotFound:     "Activity not found",
	SessionNotFound:      "Activity session is not existing",
	SessionCreateFailed:  "Failed to create activity session",
	SessionUpdateFailed:  "Failed to update activity session",
	AttemptCreateFailed:  "Failed to record compilation",
	AttemptHistoryFailed: "Failed to load compilation history",

	// Compilation
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	SubmitTooFrequently:  "Submitting too frequently, please wait",
	BlockedConstruct:     "Input invocations are not allowed in the script",

	// Sandbox
	ExecutorBusy: "All executors are busy, please try again later",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid, c == StudentNotFound:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == ActivityNotFound, c == SessionNotFound:
		return 404
	case c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == ExecutorBusy:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == BlockedConstruct:
		return 400
	default:
		return 500
	}
}
