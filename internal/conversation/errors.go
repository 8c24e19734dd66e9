package conversation

import (
	"errors"
	"fmt"
)

// Sentinel errors for record lookups.
var (
	ErrConversationNotFound = errors.New("conversation: conversation not found")
	ErrMessageNotFound      = errors.New("conversation: message not found")
	ErrConversationClosed   = errors.New("conversation: conversation is closed")
)

// ValidationError reports malformed or missing caller input. Handlers map it
// to a 400 response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("conversation: validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("conversation: validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthError reports a failed webhook signature or admin credential check.
// Handlers map it to a 401 or 403 response.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("conversation: auth failed: %s", e.Reason)
}

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("conversation: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// RemoteAPIError wraps a reasoning API failure. The orchestrator treats any
// RemoteAPIError as cause for the fallback reply rather than surfacing it.
type RemoteAPIError struct {
	Op  string
	Err error
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("conversation: reasoning %s: %v", e.Op, e.Err)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// ToolExecutionError reports a tool handler failure during a turn. The call
// has already been acknowledged to the reasoning API by the time this is
// raised, so it is logged and absorbed, never propagated to the customer.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("conversation: tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
