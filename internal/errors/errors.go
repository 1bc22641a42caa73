// Package errors provides centralized error definitions and error handling
// utilities for the mirrorpeer codebase. It defines domain-specific errors,
// error constructors with context wrapping, and classification helpers.
//
// The package provides three domain error types:
//   - TransportError: failures of the byte channel between peers
//   - ProtocolError: violations of the phase-coordination contract
//   - ScenarioError: failures raised by scenario hooks and phase handlers
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrPhaseConsumed) { ... }
//
//	var perr *errors.ProtocolError
//	if errors.As(err, &perr) { ... }
//
//	if errors.IsDisconnect(err) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience, so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Coordination-related sentinel errors
var (
	// ErrPhaseRegistered indicates a handler is already pending for a scoped
	// event name. One-shot semantics permit at most one registration.
	ErrPhaseRegistered = New("phase handler already registered")
	// ErrPhaseConsumed indicates a handler was already invoked for a scoped
	// event name and a second registration was attempted.
	ErrPhaseConsumed = New("phase already consumed")
	// ErrCoordinatorClosed indicates the coordinator is shutting down and
	// no longer accepts sends or registrations.
	ErrCoordinatorClosed = New("coordinator closed")
)

// Transport-related sentinel errors
var (
	// ErrPeerDisconnected indicates the counterpart connection dropped.
	ErrPeerDisconnected = New("peer disconnected")
	// ErrNotConnected indicates a send was attempted before the outbound
	// connection was established.
	ErrNotConnected = New("not connected to peer")
	// ErrLineTooLong indicates an inbound line exceeded the read limit.
	ErrLineTooLong = New("line exceeds maximum message size")
)

// Episode and selection sentinel errors
var (
	// ErrEpisodeAborted indicates the episode terminated through the abort
	// path rather than completing its phase chain.
	ErrEpisodeAborted = New("episode aborted")
	// ErrMissingDuration indicates a registered scenario type has no
	// typical-duration entry. Weighted selection is undefined without one,
	// so this surfaces loudly instead of falling back.
	ErrMissingDuration = New("scenario type has no typical duration")
	// ErrNoEligibleScenarios indicates the eligibility filter left nothing
	// to select from.
	ErrNoEligibleScenarios = New("no eligible scenario types")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all domain error types.
type baseError struct {
	message string
	cause   error
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// TransportError represents a failure of the byte channel between peers:
// refused or reset connections, write failures, framing problems. A
// transport failure mid-episode takes the same abort path as a scenario
// error, since the peer can no longer coordinate.
type TransportError struct {
	baseError
	// Direction is "inbound" or "outbound".
	Direction string
	// Addr is the remote address involved, when known.
	Addr string
}

// NewTransportError creates a new TransportError.
func NewTransportError(message string, cause error) *TransportError {
	return &TransportError{baseError: baseError{message: message, cause: cause}}
}

// WithDirection records which half of the duplex link failed.
func (e *TransportError) WithDirection(d string) *TransportError {
	e.Direction = d
	return e
}

// WithAddr records the remote address involved.
func (e *TransportError) WithAddr(addr string) *TransportError {
	e.Addr = addr
	return e
}

func (e *TransportError) Error() string {
	prefix := "transport error"
	switch {
	case e.Direction != "" && e.Addr != "":
		prefix = fmt.Sprintf("transport error [%s %s]", e.Direction, e.Addr)
	case e.Direction != "":
		prefix = fmt.Sprintf("transport error [%s]", e.Direction)
	case e.Addr != "":
		prefix = fmt.Sprintf("transport error [%s]", e.Addr)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is reports whether target is a TransportError or matches the cause.
func (e *TransportError) Is(target error) bool {
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// ProtocolError represents a violation of the phase-coordination contract,
// such as registering a handler for a scoped name that was already
// consumed. These signal programming errors in scenario code and surface
// immediately rather than being swallowed.
type ProtocolError struct {
	baseError
	// Episode is the episode number the violation occurred in.
	Episode int
	// Phase is the phase name involved.
	Phase string
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{baseError: baseError{message: message, cause: cause}}
}

// WithScope records the episode and phase the violation occurred in.
func (e *ProtocolError) WithScope(episode int, phase string) *ProtocolError {
	e.Episode = episode
	e.Phase = phase
	return e
}

func (e *ProtocolError) Error() string {
	prefix := "protocol error"
	if e.Phase != "" {
		prefix = fmt.Sprintf("protocol error [episode=%d phase=%s]", e.Episode, e.Phase)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is reports whether target is a ProtocolError or matches the cause.
func (e *ProtocolError) Is(target error) bool {
	if _, ok := target.(*ProtocolError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// ScenarioError represents a failure inside a scenario hook or phase
// handler. It is caught at the lifecycle boundary and triggers the
// coordinated abort path.
type ScenarioError struct {
	baseError
	// Scenario is the scenario type name.
	Scenario string
	// Hook is the hook or phase the error escaped from.
	Hook string
}

// NewScenarioError creates a new ScenarioError.
func NewScenarioError(message string, cause error) *ScenarioError {
	return &ScenarioError{baseError: baseError{message: message, cause: cause}}
}

// WithScenario records the scenario type name.
func (e *ScenarioError) WithScenario(name string) *ScenarioError {
	e.Scenario = name
	return e
}

// WithHook records which hook or phase the error escaped from.
func (e *ScenarioError) WithHook(hook string) *ScenarioError {
	e.Hook = hook
	return e
}

func (e *ScenarioError) Error() string {
	prefix := "scenario error"
	switch {
	case e.Scenario != "" && e.Hook != "":
		prefix = fmt.Sprintf("scenario error [%s.%s]", e.Scenario, e.Hook)
	case e.Scenario != "":
		prefix = fmt.Sprintf("scenario error [%s]", e.Scenario)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is reports whether target is a ScenarioError or matches the cause.
func (e *ScenarioError) Is(target error) bool {
	if _, ok := target.(*ScenarioError); ok {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsProtocolViolation reports whether err stems from a violated
// coordination contract (duplicate or consumed registrations).
func IsProtocolViolation(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProtocolError
	return errors.As(err, &perr) ||
		errors.Is(err, ErrPhaseRegistered) ||
		errors.Is(err, ErrPhaseConsumed)
}

// IsDisconnect reports whether err indicates the counterpart link dropped.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	var terr *TransportError
	return errors.As(err, &terr) ||
		errors.Is(err, ErrPeerDisconnected) ||
		errors.Is(err, ErrNotConnected)
}
