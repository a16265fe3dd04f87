// Package errors provides the error taxonomy and classification for ssh-commander.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
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

	// CredentialErrorType represents missing or unusable key material
	CredentialErrorType

	// ExecutionErrorType represents command execution errors
	ExecutionErrorType

	// TimeoutErrorType represents timeout-related errors
	TimeoutErrorType

	// CancelledErrorType represents a user-requested stop
	CancelledErrorType

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
	case CredentialErrorType:
		return "credential"
	case ExecutionErrorType:
		return "execution"
	case TimeoutErrorType:
		return "timeout"
	case CancelledErrorType:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ConnectError reports a network or authentication failure reaching a target.
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("error connecting to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CredentialError reports misconfigured or missing key material.
type CredentialError struct {
	Host    string
	Path    string
	Message string
	Err     error
}

func (e *CredentialError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Host != "" {
		return fmt.Sprintf("%s: %s", e.Host, msg)
	}
	return msg
}

func (e *CredentialError) Unwrap() error { return e.Err }

// RemoteExitError reports a non-zero exit status of a remote command.
// It is a warning: the run carries on.
type RemoteExitError struct {
	Host    string
	Command string
	Status  int
}

func (e *RemoteExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Status)
}

// StreamIOError reports a failure writing remote output to a local sink.
type StreamIOError struct {
	Stream string
	Err    error
}

func (e *StreamIOError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Stream, e.Err)
}

func (e *StreamIOError) Unwrap() error { return e.Err }

// CleanupError reports a failure closing a session or connection.
// It is logged, never propagated.
type CleanupError struct {
	Resource string
	Host     string
	Err      error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("closing %s on %s: %v", e.Resource, e.Host, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// CancelledError reports a user-requested stop. Escalated is set when the
// whole run was aborted rather than a single command.
type CancelledError struct {
	Escalated bool
}

func (e *CancelledError) Error() string {
	if e.Escalated {
		return "run aborted by user"
	}
	return "command interrupted by user"
}

// ErrCancelled is returned for targets that were never visited because the run was aborted.
var ErrCancelled = &CancelledError{Escalated: true}

// IsCancelled reports whether err carries a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return stderrors.As(err, &ce)
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

// ClassifyError analyzes an error and returns its classification.
// Typed errors are classified by type; everything else by message.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var (
		credErr   *CredentialError
		cancelErr *CancelledError
		exitErr   *RemoteExitError
	)
	switch {
	case stderrors.As(err, &cancelErr):
		return &ClassifiedError{Type: CancelledErrorType, Original: err}
	case stderrors.As(err, &credErr):
		return &ClassifiedError{Type: CredentialErrorType, Original: err}
	case stderrors.As(err, &exitErr):
		return &ClassifiedError{Type: ExecutionErrorType, Original: err}
	}

	errStr := strings.ToLower(err.Error())

	// Authentication errors (not retryable)
	if isAuthenticationError(errStr) {
		return &ClassifiedError{
			Type:      AuthenticationErrorType,
			Original:  err,
			Retryable: false,
		}
	}

	// Timeout errors (retryable)
	if isTimeoutError(errStr) {
		return &ClassifiedError{
			Type:      TimeoutErrorType,
			Original:  err,
			Retryable: true,
		}
	}

	// Connection errors (retryable)
	if isConnectionError(errStr) {
		return &ClassifiedError{
			Type:      ConnectionErrorType,
			Original:  err,
			Retryable: true,
		}
	}

	var connErr *ConnectError
	if stderrors.As(err, &connErr) {
		return &ClassifiedError{Type: ConnectionErrorType, Original: err}
	}

	return &ClassifiedError{
		Type:      UnknownErrorType,
		Original:  err,
		Retryable: false,
	}
}

// isAuthenticationError checks if an error is related to SSH authentication
func isAuthenticationError(errStr string) bool {
	authKeywords := []string{
		"unable to authenticate",
		"authentication failed",
		"no supported methods remain",
		"no supported authentication methods",
		"permission denied",
		"key mismatch",
		"host key",
		"access denied",
	}

	for _, keyword := range authKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if an error is related to timeouts
func isTimeoutError(errStr string) bool {
	timeoutKeywords := []string{
		"timeout",
		"timed out",
		"deadline exceeded",
	}

	for _, keyword := range timeoutKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isConnectionError checks if an error is related to network connectivity
func isConnectionError(errStr string) bool {
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"host unreachable",
		"no such host",
		"broken pipe",
		"handshake failed",
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

// Summary returns a summary of all collected errors, ordered by type
func (ec *ErrorCollector) Summary() string {
	if ec.count == 0 {
		return "no errors"
	}

	types := make([]int, 0, len(ec.errors))
	for errorType := range ec.errors {
		types = append(types, int(errorType))
	}
	sort.Ints(types)

	var parts []string
	for _, t := range types {
		errorType := ErrorType(t)
		parts = append(parts, fmt.Sprintf("%d %s", len(ec.errors[errorType]), errorType.String()))
	}

	return fmt.Sprintf("total: %d errors (%s)", ec.count, strings.Join(parts, ", "))
}
