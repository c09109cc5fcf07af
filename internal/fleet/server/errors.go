package server

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrServerNotFound         = errors.New("server not found")
	ErrPeerNotFound           = errors.New("peer profile not found")
	ErrInvalidStatus          = errors.New("invalid server status")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrServerNotReady         = errors.New("server does not accept peers in its current status")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrAddressConflict        = errors.New("assigned address already in use on this server")
	ErrPeerNameConflict       = errors.New("peer name already in use on this server")
)

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError carries the rejected state change for a server.
type TransitionError struct {
	ServerID string
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("server %s cannot transition from %s to %s", e.ServerID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NewTransitionError creates a new transition error.
func NewTransitionError(serverID string, from, to Status) *TransitionError {
	return &TransitionError{ServerID: serverID, From: from, To: to}
}

// LifecycleError wraps a failure during one lifecycle phase of a server.
type LifecycleError struct {
	ServerID string
	Phase    string
	Err      error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle failed for server %s during %s: %v", e.ServerID, e.Phase, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// NewLifecycleError creates a new lifecycle error.
func NewLifecycleError(serverID, phase string, err error) *LifecycleError {
	return &LifecycleError{ServerID: serverID, Phase: phase, Err: err}
}
