// Package errors provides the error taxonomy shared by the sync engine,
// its transports and its storage backends.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeConfigFailure     ErrorCode = "CONFIG_FAILURE"
	ErrCodeFetchFailure      ErrorCode = "FETCH_FAILURE"
	ErrCodeMergeFailure      ErrorCode = "MERGE_FAILURE"
	ErrCodeCheckpointFailure ErrorCode = "CHECKPOINT_FAILURE"
	ErrCodeNormalizeFailure  ErrorCode = "NORMALIZE_FAILURE"
)

// Operation represents the sync step during which an error occurred
type Operation string

const (
	OpSync        Operation = "sync"
	OpConfig      Operation = "config"
	OpConnect     Operation = "connect"
	OpFetch       Operation = "fetch"
	OpNormalize   Operation = "normalize"
	OpMerge       Operation = "merge"
	OpEnsureIndex Operation = "ensure_index"
	OpCheckpoint  Operation = "checkpoint"
	OpClose       Operation = "close"
)

// SyncError represents an error that occurred during synchronization
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation could succeed if attempted again.
	// The engine never retries on its own; the flag is informational.
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewConfigError creates a configuration error. Config errors are fatal.
func NewConfigError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConfigFailure,
		Op:        OpConfig,
		Component: "config",
		Err:       cause,
		Retryable: false,
	}
}

// NewFetchError creates a page fetch error scoped to the current stream.
func NewFetchError(cause error, retryable bool) *SyncError {
	return &SyncError{
		Code:      ErrCodeFetchFailure,
		Op:        OpFetch,
		Component: "transport",
		Err:       cause,
		Retryable: retryable,
	}
}

// NewMergeError creates a storage write error scoped to a single record.
func NewMergeError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeMergeFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewCheckpointError creates a watermark read or write error.
func NewCheckpointError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeCheckpointFailure,
		Op:        OpCheckpoint,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewNormalizeError creates an error for a record the normalizer cannot map.
func NewNormalizeError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNormalizeFailure,
		Op:        OpNormalize,
		Component: "normalizer",
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// CodeOf returns the code of the outermost SyncError in err's chain that
// carries one, or "" if there is none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return ""
		}
		if syncErr.Code != "" {
			return syncErr.Code
		}
		err = syncErr.Err
	}
	return ""
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool { return CodeOf(err) == ErrCodeConfigFailure }

// IsFetchError reports whether err is a page fetch failure.
func IsFetchError(err error) bool { return CodeOf(err) == ErrCodeFetchFailure }

// IsMergeError reports whether err is a record merge failure.
func IsMergeError(err error) bool { return CodeOf(err) == ErrCodeMergeFailure }
