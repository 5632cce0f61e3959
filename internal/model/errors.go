package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSolveInFlight rejects a solve issued while another one is outstanding.
	ErrSolveInFlight = errors.New("a solve is already in progress")
	// ErrEditInProgress rejects opening a second config key for editing.
	ErrEditInProgress = errors.New("another config key is being edited")
	// ErrConfirmationRequired guards destructive operations.
	ErrConfirmationRequired = errors.New("operation requires explicit confirmation")
)

// ValidationError is malformed user input: a non-numeric task field, invalid JSON text,
// a missing identifier.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PreconditionError is returned when an operation cannot start in the current state.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

type RemoteErrorKind string

const (
	RemoteNetwork RemoteErrorKind = "network"
	RemoteServer  RemoteErrorKind = "server"
)

// RemoteError wraps a failure talking to the solver or the config/schema server.
type RemoteError struct {
	Kind RemoteErrorKind
	Op   string
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// StateError references an entity or station that does not exist.
type StateError struct {
	Entity string
	ID     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func NewNetworkError(op string, err error) *RemoteError {
	return &RemoteError{Kind: RemoteNetwork, Op: op, Err: err}
}

func NewServerError(op string, err error) *RemoteError {
	return &RemoteError{Kind: RemoteServer, Op: op, Err: err}
}
