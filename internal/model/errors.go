package model

import (
	"errors"
	"fmt"
)

// ErrorType tags a terminal pipeline outcome.
type ErrorType string

const (
	ErrParsingFailure      ErrorType = "parsing_failure"
	ErrValidationFailure   ErrorType = "validation_failure"
	ErrUnsupportedPlatform ErrorType = "unsupported_platform"
	ErrNoCandidatesFound   ErrorType = "no_candidates_found"
	ErrCollectionFailure   ErrorType = "collection_failure"
	ErrNoMatchingProducts  ErrorType = "no_matching_products"
	ErrImportFailure       ErrorType = "import_failure"
	ErrExecutionError      ErrorType = "execution_error"
)

// StageError is a typed, user-presentable failure. Message is safe to return
// to callers; Err holds the internal cause and is only logged.
type StageError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError with an optional cause.
func NewStageError(t ErrorType, msg string, cause error) *StageError {
	return &StageError{Type: t, Message: msg, Err: cause}
}

// ParsingFailure reports an undecodable collaborator response.
func ParsingFailure(msg string, cause error) *StageError {
	return NewStageError(ErrParsingFailure, msg, cause)
}

// ValidationFailure reports rejected input or criteria.
func ValidationFailure(msg string, cause error) *StageError {
	return NewStageError(ErrValidationFailure, msg, cause)
}

// ErrorTypeOf returns the taxonomy tag carried by err, or ErrExecutionError
// when err is not a StageError.
func ErrorTypeOf(err error) ErrorType {
	var se *StageError
	if errors.As(err, &se) {
		return se.Type
	}
	return ErrExecutionError
}

// PublicMessage returns the caller-safe message for err. Untyped errors map
// to a generic message so internal detail never leaves the process.
func PublicMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Message
	}
	return "discovery failed due to an internal error"
}
