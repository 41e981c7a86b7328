// Package errors provides error classification and handling for batch-ping.
package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the classification of errors
type ErrorType int

const (
	// SetupErrorType represents configuration, validation, or initialization errors
	SetupErrorType ErrorType = iota

	// ConnectionErrorType represents network or SSH connection errors
	ConnectionErrorType

	// AuthenticationErrorType represents SSH authentication failures
	AuthenticationErrorType

	// TransportReadErrorType represents mid-session I/O failures on an open channel
	TransportReadErrorType

	// StopTimeoutErrorType represents a worker that missed the join window
	StopTimeoutErrorType

	// UnknownErrorType represents unclassified errors
	UnknownErrorType
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case SetupErrorType:
		return "setup"
	case ConnectionErrorType:
		return "connection"
	case AuthenticationErrorType:
		return "authentication"
	case TransportReadErrorType:
		return "transport-read"
	case StopTimeoutErrorType:
		return "stop-timeout"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with classification information
type ClassifiedError struct {
	Type      ErrorType
	Original  error
	Message   string
	Retryable bool
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	if ce.Original != nil {
		return ce.Original.Error()
	}
	return "unknown error"
}

// Unwrap returns the original error for error unwrapping
func (ce *ClassifiedError) Unwrap() error {
	return ce.Original
}

// IsRetryable returns whether this error type should be retried
func (ce *ClassifiedError) IsRetryable() bool {
	return ce.Retryable
}

// ClassifyError analyzes an error and returns its classification
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	if ce, ok := err.(*ClassifiedError); ok {
		return ce
	}

	errStr := strings.ToLower(err.Error())

	// Setup/Configuration errors (not retryable)
	if isSetupError(errStr) {
		return &ClassifiedError{
			Type:      SetupErrorType,
			Original:  err,
			Retryable: false,
		}
	}

	// Authentication errors (not retryable)
	if isAuthenticationError(errStr) {
		return &ClassifiedError{
			Type:      AuthenticationErrorType,
			Original:  err,
			Retryable: false,
		}
	}

	// Connection errors, including timeouts during dial/handshake (retryable)
	if isConnectionError(errStr) {
		return &ClassifiedError{
			Type:      ConnectionErrorType,
			Original:  err,
			Retryable: true,
		}
	}

	// Unknown errors (not retryable by default for safety)
	return &ClassifiedError{
		Type:      UnknownErrorType,
		Original:  err,
		Retryable: false,
	}
}

// NewConnectionError creates a new connection error
func NewConnectionError(message string, original error) *ClassifiedError {
	return &ClassifiedError{
		Type:      ConnectionErrorType,
		Original:  original,
		Message:   message,
		Retryable: true,
	}
}

// NewTransportReadError creates a new mid-session transport error
func NewTransportReadError(message string, original error) *ClassifiedError {
	return &ClassifiedError{
		Type:      TransportReadErrorType,
		Original:  original,
		Message:   message,
		Retryable: false,
	}
}

// NewStopTimeoutError creates a new stop-timeout error
func NewStopTimeoutError(message string) *ClassifiedError {
	return &ClassifiedError{
		Type:      StopTimeoutErrorType,
		Message:   message,
		Retryable: false,
	}
}

// NewSetupError creates a new setup error
func NewSetupError(message string, original error) *ClassifiedError {
	return &ClassifiedError{
		Type:      SetupErrorType,
		Original:  original,
		Message:   message,
		Retryable: false,
	}
}

// isSetupError checks if an error is related to setup/configuration
func isSetupError(errStr string) bool {
	setupKeywords := []string{
		"configuration",
		"validation failed",
		"missing required",
		"unsupported",
		"malformed",
		"parse error",
	}

	if strings.Contains(errStr, "file not found") || strings.Contains(errStr, "no such file") {
		return true
	}

	for _, keyword := range setupKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isAuthenticationError checks if an error is related to SSH authentication
func isAuthenticationError(errStr string) bool {
	authKeywords := []string{
		"authentication failed",
		"auth fail",
		"permission denied (publickey)",
		"unable to authenticate",
		"no supported methods remain",
		"no supported authentication methods",
		"invalid user",
		"access denied",
		"login incorrect",
	}

	for _, keyword := range authKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isConnectionError checks if an error is related to network connectivity
func isConnectionError(errStr string) bool {
	connectionKeywords := []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"connection lost",
		"connection closed",
		"network unreachable",
		"no route to host",
		"host unreachable",
		"broken pipe",
		"connection aborted",
		"handshake failed",
		"ssh handshake failed",
		"unexpected eof",
	}

	for _, keyword := range connectionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// ErrorCollector collects and categorizes multiple errors
type ErrorCollector struct {
	errors map[ErrorType][]error
	count  int
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[ErrorType][]error),
	}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}

	classified := ClassifyError(err)
	ec.errors[classified.Type] = append(ec.errors[classified.Type], err)
	ec.count++
}

// Count returns the total number of errors
func (ec *ErrorCollector) Count() int {
	return ec.count
}

// CountByType returns the number of errors of a specific type
func (ec *ErrorCollector) CountByType(errorType ErrorType) int {
	return len(ec.errors[errorType])
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	return ec.count > 0
}

// Summary returns a summary of all collected errors
func (ec *ErrorCollector) Summary() string {
	if ec.count == 0 {
		return "no errors"
	}

	var parts []string
	for errorType, errors := range ec.errors {
		if len(errors) > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", len(errors), errorType.String()))
		}
	}

	return fmt.Sprintf("total: %d errors (%s)", ec.count, strings.Join(parts, ", "))
}
