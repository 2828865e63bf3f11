package model

// Outcome is the terminal state of one batch invocation.
type Outcome string

const (
	OutcomeCompleted     Outcome = "COMPLETED"
	OutcomeAbortedStop   Outcome = "ABORTED_STOP"
	OutcomeSkippedLocked Outcome = "SKIPPED_LOCKED"
	// OutcomeFailed is reported when shared setup (source connection, state
	// store) fails before any row is processed.
	OutcomeFailed Outcome = "FAILED"
)

// BatchResult is returned by every batch invocation.
type BatchResult struct {
	Success   bool
	Outcome   Outcome
	Message   string
	Processed int
	DryRun    bool
	// Stats are the counters of this batch only.
	Stats Stats
}

// ConnectionResult is returned by the source connection check.
type ConnectionResult struct {
	Success bool
	Message string
	Info    *ConnectionInfo
}

// PurgeResult is returned by the purge workflow.
type PurgeResult struct {
	Success   bool
	Message   string
	Deleted   int
	Remaining int64
	Failed    int
	// Done is true once the mapping table is empty and state was reset.
	Done bool
}

// ActionResult is returned by control actions without a payload.
type ActionResult struct {
	Success bool
	Message string
}
