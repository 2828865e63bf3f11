// Package exception holds the migration error taxonomy. A BatchError records
// the component that failed and whether the failure may be retried in place
// or the affected row skipped. The runner aborts on anything else.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var sentinels sync.Map // name -> error

// RegisterErrorType makes prototype matchable by name in IsErrorOfType.
func RegisterErrorType(name string, prototype error) {
	if name == "" || prototype == nil {
		panic(fmt.Sprintf("exception: invalid registration %q", name))
	}
	sentinels.Store(name, prototype)
}

// BatchError is a classified migration failure.
type BatchError struct {
	Module      string
	Message     string
	OriginalErr error

	retryable bool
	skippable bool
}

func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		retryable:   isRetryable,
		skippable:   isSkippable,
	}
}

// NewBatchErrorf formats a fatal BatchError. A %w verb in format becomes the
// wrapped cause.
func NewBatchErrorf(module, format string, a ...any) *BatchError {
	wrapped := fmt.Errorf(format, a...)
	be := &BatchError{Module: module, Message: wrapped.Error()}
	if cause := errors.Unwrap(wrapped); cause != nil {
		be.OriginalErr = cause
		be.Message = strings.TrimSuffix(strings.TrimSuffix(be.Message, cause.Error()), ": ")
	}
	return be
}

func (e *BatchError) Error() string {
	if e.OriginalErr == nil {
		return "[" + e.Module + "] " + e.Message
	}
	return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
}

func (e *BatchError) Unwrap() error     { return e.OriginalErr }
func (e *BatchError) IsRetryable() bool { return e.retryable }
func (e *BatchError) IsSkippable() bool { return e.skippable }

func asBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	ok := errors.As(err, &be)
	return be, ok
}

func IsBatchError(err error) bool {
	_, ok := asBatchError(err)
	return ok
}

var transientMarkers = []string{"timeout", "connection refused", "connection reset", "EOF"}

// IsTemporary reports whether err is worth retrying. Unclassified errors are
// judged by their text.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := asBatchError(err); ok {
		return be.retryable
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err can be neither retried nor skipped.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := asBatchError(err); ok {
		return !be.retryable && !be.skippable
	}
	return errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "permission denied")
}

// IsErrorOfType matches err against the sentinel registered under name, or
// failing that, against the text of every error in its chain.
func IsErrorOfType(err error, name string) bool {
	if err == nil {
		return false
	}
	if target, ok := sentinels.Load(name); ok && errors.Is(err, target.(error)) {
		return true
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		if strings.Contains(current.Error(), name) {
			return true
		}
	}
	return false
}

// ExtractErrorMessage returns the message without module prefix or cause.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := asBatchError(err); ok {
		return be.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}
