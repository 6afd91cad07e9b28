// This file contains the deterministic, total mapping from a status to the
// outcome of a transaction: kept in the ledger, discarded, or retried after
// a reconfiguration.

package vmstatus

import "fmt"

// ExecutionStatus is the recorded result of the main execution of a kept
// transaction.
type ExecutionStatus struct {
	success bool
	code    Code
	abort   uint64
}

// Success returns the execution status of a successful execution.
func Success() ExecutionStatus {
	return ExecutionStatus{success: true}
}

// Failed returns the execution status of an execution that failed with the
// given code.
func Failed(code Code) ExecutionStatus {
	return ExecutionStatus{code: code}
}

// AbortedWith returns the execution status of user code that deliberately
// aborted with the given abort code.
func AbortedWith(abort uint64) ExecutionStatus {
	return ExecutionStatus{code: CodeAborted, abort: abort}
}

// IsSuccess returns true for a successful execution.
func (es ExecutionStatus) IsSuccess() bool {
	return es.success
}

// GetCode returns the failure code, or zero for a success.
func (es ExecutionStatus) GetCode() Code {
	return es.code
}

// GetAbortCode returns the user-defined abort code when the code is
// CodeAborted.
func (es ExecutionStatus) GetAbortCode() uint64 {
	return es.abort
}

// Outcome is the kind of a transaction status.
type Outcome byte

const (
	// OutcomeKeep means the transaction is included in the ledger with a
	// recorded execution status, and the sender is charged for the gas.
	OutcomeKeep Outcome = iota

	// OutcomeDiscard means the transaction is excluded from the ledger
	// entirely, as if it was never submitted.
	OutcomeDiscard

	// OutcomeRetry means the transaction was not executed because a
	// reconfiguration happened earlier in the block, and it must be
	// resubmitted against the new configuration.
	OutcomeRetry
)

// TransactionStatus is the classification of a transaction attempt.
type TransactionStatus struct {
	outcome   Outcome
	execution ExecutionStatus
	reason    Code
}

// Keep creates the status of a transaction included in the ledger.
func Keep(es ExecutionStatus) TransactionStatus {
	return TransactionStatus{outcome: OutcomeKeep, execution: es}
}

// Discard creates the status of a transaction excluded from the ledger with
// the reason code.
func Discard(reason Code) TransactionStatus {
	return TransactionStatus{outcome: OutcomeDiscard, reason: reason}
}

// Retry creates the status of a transaction that must be re-executed after
// a reconfiguration.
func Retry() TransactionStatus {
	return TransactionStatus{outcome: OutcomeRetry}
}

// GetOutcome returns the outcome of the status.
func (ts TransactionStatus) GetOutcome() Outcome {
	return ts.outcome
}

// IsKeep returns true when the transaction is included in the ledger.
func (ts TransactionStatus) IsKeep() bool {
	return ts.outcome == OutcomeKeep
}

// IsDiscard returns true when the transaction is excluded from the ledger.
func (ts TransactionStatus) IsDiscard() bool {
	return ts.outcome == OutcomeDiscard
}

// IsRetry returns true when the transaction must be re-executed.
func (ts TransactionStatus) IsRetry() bool {
	return ts.outcome == OutcomeRetry
}

// GetExecutionStatus returns the recorded execution status of a kept
// transaction.
func (ts TransactionStatus) GetExecutionStatus() ExecutionStatus {
	return ts.execution
}

// GetReason returns the discard reason of a discarded transaction.
func (ts TransactionStatus) GetReason() Code {
	return ts.reason
}

// String implements fmt.Stringer.
func (ts TransactionStatus) String() string {
	switch ts.outcome {
	case OutcomeKeep:
		if ts.execution.IsSuccess() {
			return "keep(success)"
		}
		return fmt.Sprintf("keep(%s)", ts.execution.code)
	case OutcomeDiscard:
		return fmt.Sprintf("discard(%s)", ts.reason)
	default:
		return "retry"
	}
}

// Classify maps a status to the outcome of the transaction. The mapping is
// total: a nil status is a successful execution, a status in the execution
// range is kept with a recorded failure, and everything else is discarded.
func Classify(status *Status) TransactionStatus {
	if status == nil {
		return Keep(Success())
	}

	if !status.code.IsExecution() {
		return Discard(status.code)
	}

	if status.code == CodeAborted {
		return Keep(AbortedWith(status.abort))
	}

	return Keep(Failed(status.code))
}
