// Package domainerrors defines the error taxonomy shared by services and the
// HTTP layer. Services return these (optionally wrapped) and transport code
// translates them into status codes via pkg/platform/httputil.
package domainerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error for transport translation.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"
	CodeUnavailable  Code = "unavailable"
	CodeAdapter      Code = "adapter_error"
)

// Error is a coded error with a caller-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and caller-safe message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound is shorthand for a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first classified error in the chain.
// Unclassified errors are internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return CodeValidation
	}
	var se *SignatureError
	if errors.As(err, &se) {
		return CodeUnauthorized
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return CodeAdapter
	}
	return CodeInternal
}

// FieldError describes one failing field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every failing field of one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a failing field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field failed, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Phase names the pipeline phase an adapter call belonged to.
type Phase string

const (
	PhaseCommit    Phase = "commit"
	PhaseIndex     Phase = "index"
	PhasePropagate Phase = "propagate"
	PhaseNotify    Phase = "notify"
	PhaseMerge     Phase = "merge"
)

// AdapterError wraps a failed call against an external collaborator.
// StatusCode is the remote HTTP status when one was received.
type AdapterError struct {
	Phase      Phase
	Adapter    string
	Op         string
	StatusCode int
	Err        error
}

func (e *AdapterError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Adapter, e.Op)
	if e.Phase != "" {
		fmt.Fprintf(&b, " (phase %s)", e.Phase)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AdapterError) Unwrap() error { return e.Err }

// WithPhase returns err tagged with phase when it is an AdapterError without one.
// Other errors are wrapped in a fresh AdapterError for the given adapter.
func WithPhase(err error, phase Phase, adapter, op string) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		if ae.Phase == "" {
			cp := *ae
			cp.Phase = phase
			return &cp
		}
		return err
	}
	return &AdapterError{Phase: phase, Adapter: adapter, Op: op, Err: err}
}

// StatusCodeOf returns the remote status carried by an AdapterError, or 0.
func StatusCodeOf(err error) int {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// SignatureError reports a missing or invalid webhook signature.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "invalid webhook signature: " + e.Reason
}
