package exception

import (
	"errors"
	"fmt"
)

// Names of the migration error taxonomy, usable with IsErrorOfType.
const (
	ConnectionErrorType        = "ConnectionError"
	RowUpsertErrorType         = "RowUpsertError"
	AttachmentUnresolvableType = "AttachmentUnresolvable"
	DownloadErrorType          = "DownloadError"
	LockContentionType         = "LockContention"
	StopRequestedType          = "StopRequested"
)

var (
	// ErrConnection marks source (or store) connectivity and authentication
	// failures. The batch aborts before any destination write.
	ErrConnection = errors.New(ConnectionErrorType)
	// ErrRowUpsert marks a destination write rejected for a single object.
	ErrRowUpsert = errors.New(RowUpsertErrorType)
	// ErrAttachmentUnresolvable marks an attachment without a derivable file path.
	ErrAttachmentUnresolvable = errors.New(AttachmentUnresolvableType)
	// ErrDownload marks a failed media download after all attempts.
	ErrDownload = errors.New(DownloadErrorType)
	// ErrLockContention marks a batch skipped because another one holds the lock.
	ErrLockContention = errors.New(LockContentionType)
	// ErrStopRequested marks cooperative cancellation.
	ErrStopRequested = errors.New(StopRequestedType)
)

func init() {
	RegisterErrorType(ConnectionErrorType, ErrConnection)
	RegisterErrorType(RowUpsertErrorType, ErrRowUpsert)
	RegisterErrorType(AttachmentUnresolvableType, ErrAttachmentUnresolvable)
	RegisterErrorType(DownloadErrorType, ErrDownload)
	RegisterErrorType(LockContentionType, ErrLockContention)
	RegisterErrorType(StopRequestedType, ErrStopRequested)
}

func joinSentinel(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}

// NewConnectionError wraps a driver error. It is neither retryable nor
// skippable: the whole batch stops.
func NewConnectionError(module string, cause error) *BatchError {
	msg := "source connection failed"
	if cause != nil {
		msg = cause.Error()
	}
	return NewBatchError(module, msg, joinSentinel(ErrConnection, cause), false, false)
}

// NewRowUpsertError reports a rejected destination write for one object.
func NewRowUpsertError(module, objectType string, sourceID uint64, cause error) *BatchError {
	return NewBatchError(module, fmt.Sprintf("failed to write %s %d", objectType, sourceID), joinSentinel(ErrRowUpsert, cause), true, false)
}

// NewAttachmentUnresolvableError reports an attachment without a file path.
func NewAttachmentUnresolvableError(sourceID uint64) *BatchError {
	return NewBatchError("media", fmt.Sprintf("no attached file for source attachment %d", sourceID), ErrAttachmentUnresolvable, true, false)
}

// NewDownloadError reports a download attempt failure. It is retryable.
func NewDownloadError(url string, cause error) *BatchError {
	return NewBatchError("media", fmt.Sprintf("download %s failed", url), joinSentinel(ErrDownload, cause), true, true)
}

// IsConnectionError reports whether err is a ConnectionError.
func IsConnectionError(err error) bool { return errors.Is(err, ErrConnection) }

// IsDownloadError reports whether err is a DownloadError.
func IsDownloadError(err error) bool { return errors.Is(err, ErrDownload) }
