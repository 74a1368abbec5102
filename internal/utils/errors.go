package utils

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by a reconciliation cycle.
var (
	// ErrConfiguration marks malformed or out-of-range policy configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrTelemetryUnavailable marks a failed or empty required telemetry fetch.
	ErrTelemetryUnavailable = errors.New("telemetry unavailable")
	// ErrDispatchFailure marks a failed action dispatcher call.
	ErrDispatchFailure = errors.New("dispatch failure")
	// ErrClassifierContract marks a classifier result that omits or invents transactions.
	ErrClassifierContract = errors.New("classifier contract violation")
)

// AppError wraps an operation, human-facing message, and underlying error.
// Kind, when set, is matched by errors.Is.
type AppError struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error kind.
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// ConfigurationError constructs an AppError of kind ErrConfiguration.
func ConfigurationError(op, msg string, err error) error {
	return &AppError{Kind: ErrConfiguration, Op: op, Msg: msg, Err: err}
}

// TelemetryError constructs an AppError of kind ErrTelemetryUnavailable.
func TelemetryError(op, msg string, err error) error {
	return &AppError{Kind: ErrTelemetryUnavailable, Op: op, Msg: msg, Err: err}
}

// DispatchError constructs an AppError of kind ErrDispatchFailure.
func DispatchError(op, msg string, err error) error {
	return &AppError{Kind: ErrDispatchFailure, Op: op, Msg: msg, Err: err}
}
