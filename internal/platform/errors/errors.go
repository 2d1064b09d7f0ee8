package errors

import (
	"encoding/json"
	stderrors "errors"
	"maps"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Operation identity and offending arguments
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata describing the failing call.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
		Cause:    cause,
	}
}

// Sentinels for errors.Is matching by code.
var (
	ErrConfig          = New(CodeConfig, "config error")
	ErrConnection      = New(CodeConnection, "connection error")
	ErrNotFound        = New(CodeNotFound, "not found")
	ErrStorage         = New(CodeStorage, "storage error")
	ErrInvalidArgument = New(CodeInvalidArgument, "invalid argument")
)

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// Report is the caller-facing rendering of a failed operation.
type Report struct {
	Code      Code              `json:"code"`
	Message   string            `json:"message"`
	Operation string            `json:"operation"`
	Cause     string            `json:"cause,omitempty"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewReport builds a Report for err raised while running operation.
func NewReport(operation string, err error) Report {
	report := Report{
		Code:      CodeUnknown,
		Operation: operation,
	}
	if err == nil {
		return report
	}
	report.Message = err.Error()
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		report.Code = domainErr.Code
		report.Message = domainErr.Message
		if domainErr.Cause != nil {
			report.Cause = domainErr.Cause.Error()
		}
		if len(domainErr.Metadata) > 0 {
			report.Metadata = maps.Clone(domainErr.Metadata)
		}
	}
	report.Retryable = report.Code.Retryable()
	return report
}

// JSON renders the report; it falls back to the bare message if encoding fails.
func (r Report) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return r.Message
	}
	return string(data)
}
