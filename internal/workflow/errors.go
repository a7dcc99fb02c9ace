package workflow

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the state machine, the coordinator, the HTTP
// server and the HTTP client.
var (
	ErrOutOfOrderDecision = errors.New("out of order decision")
	ErrAlreadyDecided     = errors.New("already decided")
	ErrVotingClosed       = errors.New("voting closed")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrConflictRejected   = errors.New("conflict rejected")
	ErrTimeout            = errors.New("timeout")
	ErrNetworkFailure     = errors.New("network failure")

	ErrWorkflowClosed = errors.New("workflow closed")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// TransitionError describes why an event was rejected for one entity.
type TransitionError struct {
	Err    error
	Entity string
	ID     string
	Detail string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Err)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the taxonomy error.
func (e *TransitionError) Unwrap() error {
	return e.Err
}

func reject(err error, entity, id, format string, args ...any) error {
	return &TransitionError{
		Err:    err,
		Entity: entity,
		ID:     id,
		Detail: fmt.Sprintf(format, args...),
	}
}

// IsTransient reports whether the failure may succeed when the identical
// event is retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetworkFailure)
}

// IsSilent reports whether the failure is a duplicate delivery that callers
// may drop without telling the user.
func IsSilent(err error) bool {
	return errors.Is(err, ErrAlreadyDecided)
}

var stopCodes = []struct {
	err  error
	code string
}{
	{ErrOutOfOrderDecision, "OUT_OF_ORDER_DECISION"},
	{ErrAlreadyDecided, "ALREADY_DECIDED"},
	{ErrVotingClosed, "VOTING_CLOSED"},
	{ErrNotAuthorized, "NOT_AUTHORIZED"},
	{ErrConflictRejected, "CONFLICT_REJECTED"},
	{ErrWorkflowClosed, "WORKFLOW_CLOSED"},
	{ErrInvalidEvent, "INVALID_EVENT"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrTimeout, "TIMEOUT"},
	{ErrNetworkFailure, "NETWORK_FAILURE"},
}

// Code returns the stop code of a taxonomy error, or "" for other errors.
func Code(err error) string {
	for _, sc := range stopCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	return ""
}

// FromCode maps a stop code back to its taxonomy error. Unknown codes
// return nil.
func FromCode(code string) error {
	for _, sc := range stopCodes {
		if sc.code == code {
			return sc.err
		}
	}
	return nil
}
