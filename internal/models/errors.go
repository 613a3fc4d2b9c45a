package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Configuration, rejected before any external call
	ErrValidation ErrorType = "validation_error"

	// Optimizer not ready after all retries
	ErrSuggestionTimeout ErrorType = "suggestion_timeout"

	// Simulator process error or malformed output
	ErrSimulationFailed ErrorType = "simulation_failed"

	// Entity store or archive write failure
	ErrPersistenceFailed ErrorType = "persistence_failed"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)

// ValidationError reports a malformed configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Type() ErrorType { return ErrValidation }

// SuggestionTimeout is returned when the optimizer stays not-ready for every attempt.
type SuggestionTimeout struct {
	Attempts int
	Err      error
}

func (e *SuggestionTimeout) Error() string {
	return fmt.Sprintf("suggestions not ready after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SuggestionTimeout) Unwrap() error { return e.Err }

func (e *SuggestionTimeout) Type() ErrorType { return ErrSuggestionTimeout }

// SimulationFailure is returned when a simulator invocation cannot produce a result.
type SimulationFailure struct {
	UUID   uuid.UUID
	Reason string
	Err    error
}

func (e *SimulationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("simulation %s failed: %s: %v", e.UUID, e.Reason, e.Err)
	}
	return fmt.Sprintf("simulation %s failed: %s", e.UUID, e.Reason)
}

func (e *SimulationFailure) Unwrap() error { return e.Err }

func (e *SimulationFailure) Type() ErrorType { return ErrSimulationFailed }

// PersistenceFailure is returned when a result cannot be written back.
type PersistenceFailure struct {
	Target string
	Err    error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persisting to %s: %v", e.Target, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }

func (e *PersistenceFailure) Type() ErrorType { return ErrPersistenceFailed }
