// Package errors provides unified error handling with structured codes
// shared across the recorder core and the HTTP boundary.
package errors

import "fmt"

// Code classifies an error for propagation decisions.
type Code int

const (
	CodeUnknown Code = iota
	// CodeEncoderStart means the encoder process could not be launched
	// (missing binary, bad configuration, permissions).
	CodeEncoderStart
	// CodeSegmentFailed means the encoder started but exited non-zero.
	CodeSegmentFailed
	// CodeInsufficientBuffer means a clip was requested with an empty buffer.
	CodeInsufficientBuffer
	// CodeAssemblyFailed means the concat/trim step returned an error.
	CodeAssemblyFailed
	// CodeEvictionDelete is the non-fatal failure to delete an evicted
	// segment file. Logged, never surfaced.
	CodeEvictionDelete
	// CodeConfigInvalid means persisted configuration could not be used.
	CodeConfigInvalid
	// CodeLibrary means a clip-library read or write failed.
	CodeLibrary
	// CodeUpload means a share-server request failed.
	CodeUpload
	// CodeUnavailable means a collaborator is temporarily unreachable.
	CodeUnavailable
)

var codeNames = map[Code]string{
	CodeUnknown:            "UNKNOWN",
	CodeEncoderStart:       "ENCODER_START_FAILURE",
	CodeSegmentFailed:      "SEGMENT_FAILURE",
	CodeInsufficientBuffer: "INSUFFICIENT_BUFFER",
	CodeAssemblyFailed:     "ASSEMBLY_FAILED",
	CodeEvictionDelete:     "EVICTION_DELETE_FAILURE",
	CodeConfigInvalid:      "CONFIG_INVALID",
	CodeLibrary:            "LIBRARY_FAILURE",
	CodeUpload:             "UPLOAD_FAILURE",
	CodeUnavailable:        "UNAVAILABLE",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the code from an error, walking the cause chain.
func CodeOf(err error) Code {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// IsCode checks if an error carries a specific error code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUpload, CodeUnavailable:
		return true
	default:
		return false
	}
}
