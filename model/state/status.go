package state

// Status describes the lifecycle position of a single state record.
type Status string

const (
	// StatusCreated marks a state whose inputs are resolved but that no
	// runtime has claimed yet.
	StatusCreated Status = "CREATED"

	// StatusQueued marks a state claimed by a dispatch call. The claim is an
	// atomic conditional update, so at most one runtime ever holds it.
	StatusQueued Status = "QUEUED"

	// StatusExecuted marks a state whose runtime reported success for the
	// current attempt.
	StatusExecuted Status = "EXECUTED"

	// StatusErrored marks a state whose runtime reported a failure. It stays
	// terminal once retries are exhausted.
	StatusErrored Status = "ERRORED"

	// StatusTimedOut marks a claimed state whose lease deadline passed with
	// no report. Retry-wise it is handled exactly like StatusErrored.
	StatusTimedOut Status = "TIMEDOUT"

	// StatusNextCreated marks an executed state whose downstream states have
	// been materialized.
	StatusNextCreated Status = "NEXT_CREATED"

	// StatusRetryCreated marks a failed state that has been superseded by a
	// fresh retry clone.
	StatusRetryCreated Status = "RETRY_CREATED"

	// StatusSuccess marks a state that completed together with its full
	// dependency chain.
	StatusSuccess Status = "SUCCESS"

	// StatusCancelled marks an explicit early termination; propagation stops
	// without consuming a retry slot.
	StatusCancelled Status = "CANCELLED"

	// StatusPruned marks an explicit prune signal raised from node execution.
	StatusPruned Status = "PRUNED"
)

// IsTerminal reports whether no further engine transition applies to the
// record. EXECUTED, ERRORED and TIMEDOUT are attempt-terminal only: the
// engine still flips them to NEXT_CREATED / RETRY_CREATED synchronously, but
// a worker report against them is already a duplicate.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusNextCreated, StatusRetryCreated, StatusSuccess, StatusCancelled, StatusPruned, StatusErrored, StatusTimedOut:
		return true
	}
	return false
}

// IsReportable reports whether a worker outcome may still be applied.
func (s Status) IsReportable() bool {
	return s == StatusCreated || s == StatusQueued
}

// IsSuccessReachable reports whether the record completed its own work on a
// path that can still contribute to a successful run.
func (s Status) IsSuccessReachable() bool {
	switch s {
	case StatusExecuted, StatusNextCreated, StatusSuccess:
		return true
	}
	return false
}

// Claimable lists the statuses a dispatch claim may transition from.
func Claimable() []Status { return []Status{StatusCreated} }

// Reportable lists the statuses a worker report may transition from.
func Reportable() []Status { return []Status{StatusCreated, StatusQueued} }
