package errors

import (
	"fmt"
	"time"
)

// PipelineError is the structured error type for the ingestion pipeline.
// Every error carries the stage it occurred in, a timestamp, and where
// meaningful the PMID of the affected article.
type PipelineError struct {
	// Code is the unique error code (e.g., "ERR_101_SEARCH_FAILED").
	Code string

	// Stage is the pipeline stage the error belongs to.
	Stage Stage

	// Message is the human-readable error message.
	Message string

	// PMID is the affected article identifier, when one applies.
	PMID string

	// Timestamp records when the error was created.
	Timestamp time.Time

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.PMID != "" {
		return fmt.Sprintf("[%s] pmid=%s: %s", e.Code, e.PMID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with PipelineError.
func (e *PipelineError) Is(target error) bool {
	if t, ok := target.(*PipelineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithPMID attaches the affected article identifier.
// Returns the error for method chaining.
func (e *PipelineError) WithPMID(pmid string) *PipelineError {
	e.PMID = pmid
	return e
}

// New creates a new PipelineError with the given code and message.
// Stage and retryable flag are derived from the code.
func New(code string, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Stage:     stageFromCode(code),
		Message:   message,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a PipelineError from an existing error.
// The error's message becomes the PipelineError message.
func Wrap(code string, err error) *PipelineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// FetchError creates a fetch-stage error.
func FetchError(message string, cause error) *PipelineError {
	return New(ErrCodeFetchFailed, message, cause)
}

// ParseError creates a parse-stage error.
func ParseError(message string, cause error) *PipelineError {
	return New(ErrCodeParseFailed, message, cause)
}

// ChunkError creates a chunk-stage error.
func ChunkError(message string, cause error) *PipelineError {
	return New(ErrCodeChunkFailed, message, cause)
}

// EmbedError creates an embed-stage error.
func EmbedError(message string, cause error) *PipelineError {
	return New(ErrCodeEmbedFailed, message, cause)
}

// StoreError creates a store-stage error.
func StoreError(message string, cause error) *PipelineError {
	return New(ErrCodeStoreFailed, message, cause)
}

// NetworkError creates a retryable network error.
func NetworkError(message string, cause error) *PipelineError {
	return New(ErrCodeNetwork, message, cause)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *PipelineError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a PipelineError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipelineError); ok {
		return pe.Retryable
	}
	return false
}

// GetCode extracts the error code from a PipelineError.
// Returns empty string if not a PipelineError.
func GetCode(err error) string {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Code
	}
	return ""
}

// GetStage extracts the stage from a PipelineError.
// Non-PipelineError values map to StagePipeline.
func GetStage(err error) Stage {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Stage
	}
	return StagePipeline
}
