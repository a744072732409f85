package core

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Agent-related errors
	ErrInvalidAgent    = errors.New("invalid agent")
	ErrAgentHookFailed = errors.New("agent tracker hook failed")
	ErrAgentPanicked   = errors.New("agent tracker hook panicked")

	// Registry state errors
	ErrRegistryClosed = errors.New("registry closed")

	// Lifecycle errors
	ErrEnablePartialFailure  = errors.New("enable partially failed")
	ErrDisablePartialFailure = errors.New("disable partially failed")
	ErrReloadPartialFailure  = errors.New("reload partially failed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Network errors
	ErrConnectionFailed = errors.New("connection failed")
)

// TrackerError provides structured error information with context
// It implements the error interface and supports error wrapping
type TrackerError struct {
	Op      string // Operation that failed (e.g., "Registry.Register")
	Kind    string // Error kind (e.g., "agent", "registry", "config")
	ID      string // Optional key of the agent involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *TrackerError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *TrackerError) Unwrap() error {
	return e.Err
}

// NewTrackerError creates a new TrackerError
func NewTrackerError(op, kind string, err error) *TrackerError {
	return &TrackerError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// AgentFailure records one agent whose hook failed during a lifecycle pass.
type AgentFailure struct {
	Key   string
	Agent Agent
	Phase string // "register" or "unregister"
	Err   error
}

// LifecycleError aggregates per-agent failures from OnEnable, OnDisable or
// OnHostReload. The pass always runs to completion; this error only reports
// which agents misbehaved.
type LifecycleError struct {
	Op       string
	Failures []AgentFailure
	sentinel error
}

func newLifecycleError(op string, sentinel error, failures []AgentFailure) *LifecycleError {
	return &LifecycleError{Op: op, Failures: failures, sentinel: sentinel}
}

// Error returns a summary naming every failed agent.
func (e *LifecycleError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Phase, f.Key, f.Err))
	}
	return fmt.Sprintf("%s: %v (%d agent(s)): %s", e.Op, e.sentinel, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the lifecycle sentinel and every per-agent error.
func (e *LifecycleError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.sentinel != nil {
		errs = append(errs, e.sentinel)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsAgentError checks if an error was caused by an agent (invalid agent or failing hook)
func IsAgentError(err error) bool {
	return errors.Is(err, ErrInvalidAgent) ||
		errors.Is(err, ErrAgentHookFailed) ||
		errors.Is(err, ErrAgentPanicked)
}

// IsLifecycleError checks if an error is a partial failure of a lifecycle pass
func IsLifecycleError(err error) bool {
	return errors.Is(err, ErrEnablePartialFailure) ||
		errors.Is(err, ErrDisablePartialFailure) ||
		errors.Is(err, ErrReloadPartialFailure)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
