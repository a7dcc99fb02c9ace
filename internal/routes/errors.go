package routes

import (
	"errors"
	"net/http"

	"site-decisions/internal/token"
	"site-decisions/internal/workflow"
)

// HTTPError represents an error with an associated HTTP status code and user message
type HTTPError struct {
	Err        error    // The underlying error
	StatusCode int      // HTTP status code
	Message    string   // User-friendly message
	StopCodes  []string // Optional stop codes for client-side handling
	Internal   bool     // Whether this is an internal error (hide details from user)
}

// ErrorInfo contains error metadata for user-facing errors
type ErrorInfo struct {
	Message   string   // User-friendly message
	StopCodes []string // Optional stop codes for client-side application
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, err error, message string, stopCodes ...string) *HTTPError {
	return &HTTPError{
		Err:        err,
		StatusCode: statusCode,
		Message:    message,
		StopCodes:  stopCodes,
		Internal:   statusCode >= 500,
	}
}

var (
	// Authentication errors
	ErrUnauthorized = errors.New("unauthorized")

	// Authorization errors
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// Validation errors
	ErrInvalidRequest = errors.New("invalid request")
)

// errorStatusMap maps errors to HTTP status codes
var errorStatusMap = map[error]int{
	// 400 Bad Request
	ErrInvalidRequest:        http.StatusBadRequest,
	workflow.ErrInvalidEvent: http.StatusBadRequest,
	workflow.ErrInvalidInput: http.StatusBadRequest,

	// 401 Unauthorized
	ErrUnauthorized:        http.StatusUnauthorized,
	token.ErrNonValidToken: http.StatusUnauthorized,

	// 403 Forbidden
	ErrInsufficientPermissions: http.StatusForbidden,
	workflow.ErrNotAuthorized:  http.StatusForbidden,

	// 404 Not Found
	workflow.ErrNotFound: http.StatusNotFound,

	// 409 Conflict: the event does not fit the current state
	workflow.ErrOutOfOrderDecision: http.StatusConflict,
	workflow.ErrAlreadyDecided:     http.StatusConflict,
	workflow.ErrVotingClosed:       http.StatusConflict,
	workflow.ErrWorkflowClosed:     http.StatusConflict,
	workflow.ErrConflictRejected:   http.StatusConflict,

	// 500 Internal Server Error
	token.ErrMissingSecret: http.StatusInternalServerError,
}

// errorInfoMap maps errors to user-friendly messages and optional stop codes
var errorInfoMap = map[error]ErrorInfo{
	// Authentication
	ErrUnauthorized: {
		Message:   "Authentication required",
		StopCodes: []string{"AUTH_REQUIRED"},
	},
	token.ErrNonValidToken: {
		Message:   "Invalid or expired authentication token",
		StopCodes: []string{"AUTH_INVALID_TOKEN"},
	},

	// Authorization
	ErrInsufficientPermissions: {
		Message:   "You don't have permission to perform this action",
		StopCodes: []string{"INSUFFICIENT_PERMISSIONS"},
	},
	workflow.ErrNotAuthorized: {
		Message:   "You are not allowed to respond on this step or meeting",
		StopCodes: []string{workflow.Code(workflow.ErrNotAuthorized)},
	},

	// Validation
	ErrInvalidRequest: {
		Message:   "Invalid request format",
		StopCodes: []string{"INVALID_REQUEST"},
	},
	workflow.ErrInvalidEvent: {
		Message:   "The event is not valid",
		StopCodes: []string{workflow.Code(workflow.ErrInvalidEvent)},
	},
	workflow.ErrInvalidInput: {
		Message:   "Invalid input",
		StopCodes: []string{workflow.Code(workflow.ErrInvalidInput)},
	},
	workflow.ErrNotFound: {
		Message:   "Not found",
		StopCodes: []string{workflow.Code(workflow.ErrNotFound)},
	},

	// Workflow state
	workflow.ErrOutOfOrderDecision: {
		Message:   "An earlier step has not been approved yet",
		StopCodes: []string{workflow.Code(workflow.ErrOutOfOrderDecision)},
	},
	workflow.ErrAlreadyDecided: {
		Message:   "The step has already been decided",
		StopCodes: []string{workflow.Code(workflow.ErrAlreadyDecided)},
	},
	workflow.ErrVotingClosed: {
		Message:   "Voting is closed for this meeting",
		StopCodes: []string{workflow.Code(workflow.ErrVotingClosed)},
	},
	workflow.ErrWorkflowClosed: {
		Message:   "The workflow has already finished",
		StopCodes: []string{workflow.Code(workflow.ErrWorkflowClosed)},
	},
	workflow.ErrConflictRejected: {
		Message:   "The entity was changed concurrently, reload and retry",
		StopCodes: []string{workflow.Code(workflow.ErrConflictRejected)},
	},

	// Internal (no stop codes for internal errors)
	token.ErrMissingSecret: {
		Message: "Authentication is not configured",
	},
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	if status, ok := errorStatusMap[err]; ok {
		return status
	}

	// Wrapped errors, e.g. *workflow.TransitionError
	for knownErr, status := range errorStatusMap {
		if errors.Is(err, knownErr) {
			return status
		}
	}

	return http.StatusInternalServerError
}

// GetErrorInfo returns error information including message and stop codes
func GetErrorInfo(err error) ErrorInfo {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ErrorInfo{
			Message:   httpErr.Message,
			StopCodes: httpErr.StopCodes,
		}
	}

	if info, ok := errorInfoMap[err]; ok {
		return info
	}

	for knownErr, info := range errorInfoMap {
		if errors.Is(err, knownErr) {
			// Transition errors carry a more useful message than the generic one
			var te *workflow.TransitionError
			if errors.As(err, &te) {
				info.Message = te.Error()
			}
			return info
		}
	}

	status := GetErrorStatus(err)
	if status >= 500 {
		return ErrorInfo{Message: "An internal error occurred"}
	}
	return ErrorInfo{Message: err.Error()}
}

// GetErrorMessage returns a user-friendly message for an error
func GetErrorMessage(err error) string {
	return GetErrorInfo(err).Message
}

// GetErrorStopCodes returns stop codes for an error
func GetErrorStopCodes(err error) []string {
	return GetErrorInfo(err).StopCodes
}
