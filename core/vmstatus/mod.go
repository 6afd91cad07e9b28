// Package vmstatus defines the closed taxonomy of statuses reported by the
// execution adapter and the virtual machine.
//
// Every fallible step returns a typed status. The orchestrator is the single
// place that decides whether a transaction is discarded, kept with a failure,
// or escalated as a fatal invariant violation, by classifying the status
// code. Components only report, they never classify themselves.
package vmstatus

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Code identifies a status in the taxonomy. Codes are grouped in ranges that
// determine their classification:
//
//	[1, 1000)     validation      -> discarded
//	[1000, 2000)  verification    -> discarded
//	[2000, 3000)  invariant       -> discarded, flagged as internal
//	[3000, 4000)  deserialization -> discarded
//	[4000, 5000)  execution       -> kept, gas is charged
type Code uint32

// Validation codes. A transaction failing one of those checks is excluded
// from the ledger as if it was never submitted.
const (
	CodeInvalidSignature Code = iota + 1
	CodeSignersContainDuplicates
	CodeSequenceNumberTooOld
	CodeSequenceNumberTooNew
	CodeInsufficientBalance
	CodeTransactionExpired
	CodeBadChainID
	CodeSendingAccountDoesNotExist
	CodeInvalidAuthenticationKey
	CodeSecondarySignerCountMismatch
	CodeExceededMaxTransactionSize
	CodeMaxGasUnitsExceedsBound
	CodeMaxGasUnitsBelowIntrinsic
	CodeGasUnitPriceBelowMinimum
	CodeGasUnitPriceAboveMaximum
	CodeUnknownScript
	CodeModulePublishingNotAllowed
	CodeInvalidWriteSet
	CodeStorageError
	CodeVMStartupFailure
	CodeFeeDistributionFailure
)

// Verification codes.
const (
	CodeVerificationError Code = iota + 1000
	CodeDuplicateModuleName
	CodeNumberOfArgumentsMismatch
)

// Invariant violation codes. They indicate a bug or storage corruption, not
// a normal protocol outcome.
const (
	CodeUnknownInvariantViolation Code = iota + 2000
	CodeUnreachable
	CodeUnexpectedErrorFromKnownOperation
	CodeNegativeGasUsage
)

// Deserialization codes.
const (
	CodeDeserializationError Code = iota + 3000
)

// Execution codes. A transaction failing with one of those is kept in the
// ledger with a recorded failure and the sender is charged for the gas.
const (
	CodeAborted Code = iota + 4000
	CodeOutOfGas
	CodeExecutionFailure
)

// String implements fmt.Stringer. It returns a human readable name of the
// code.
func (c Code) String() string {
	switch c {
	case CodeInvalidSignature:
		return "invalid signature"
	case CodeSignersContainDuplicates:
		return "signers contain duplicates"
	case CodeSequenceNumberTooOld:
		return "sequence number too old"
	case CodeSequenceNumberTooNew:
		return "sequence number too new"
	case CodeInsufficientBalance:
		return "insufficient balance for transaction fee"
	case CodeTransactionExpired:
		return "transaction expired"
	case CodeBadChainID:
		return "bad chain id"
	case CodeSendingAccountDoesNotExist:
		return "sending account does not exist"
	case CodeInvalidAuthenticationKey:
		return "invalid authentication key"
	case CodeSecondarySignerCountMismatch:
		return "secondary signer count mismatch"
	case CodeExceededMaxTransactionSize:
		return "exceeded max transaction size"
	case CodeMaxGasUnitsExceedsBound:
		return "max gas units exceeds bound"
	case CodeMaxGasUnitsBelowIntrinsic:
		return "max gas units below intrinsic cost"
	case CodeGasUnitPriceBelowMinimum:
		return "gas unit price below minimum"
	case CodeGasUnitPriceAboveMaximum:
		return "gas unit price above maximum"
	case CodeUnknownScript:
		return "unknown script"
	case CodeModulePublishingNotAllowed:
		return "module publishing not allowed"
	case CodeInvalidWriteSet:
		return "invalid write set"
	case CodeStorageError:
		return "storage error"
	case CodeVMStartupFailure:
		return "vm startup failure"
	case CodeFeeDistributionFailure:
		return "fee distribution failure"
	case CodeVerificationError:
		return "verification error"
	case CodeDuplicateModuleName:
		return "duplicate module name"
	case CodeNumberOfArgumentsMismatch:
		return "number of arguments mismatch"
	case CodeUnknownInvariantViolation:
		return "unknown invariant violation"
	case CodeUnreachable:
		return "unreachable"
	case CodeUnexpectedErrorFromKnownOperation:
		return "unexpected error from known operation"
	case CodeNegativeGasUsage:
		return "negative gas usage"
	case CodeDeserializationError:
		return "deserialization error"
	case CodeAborted:
		return "aborted"
	case CodeOutOfGas:
		return "out of gas"
	case CodeExecutionFailure:
		return "execution failure"
	default:
		return fmt.Sprintf("code %d", uint32(c))
	}
}

// IsExecution returns true when the code belongs to the execution range,
// which means a transaction failing with it is kept and charged.
func (c Code) IsExecution() bool {
	return c >= 4000 && c < 5000
}

// IsInvariantViolation returns true when the code indicates an internal bug
// rather than a protocol outcome.
func (c Code) IsInvariantViolation() bool {
	return c >= 2000 && c < 3000
}

// Status is a typed status with an optional message, and an optional abort
// code when user code aborted deliberately.
//
// - implements error
type Status struct {
	code    Code
	message string
	abort   uint64
}

// New creates a status for the code.
func New(code Code) *Status {
	return &Status{code: code}
}

// Newf creates a status for the code with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Status {
	return &Status{code: code, message: fmt.Sprintf(format, args...)}
}

// NewAborted creates a status for a deliberate abort of user code with the
// user-defined abort code.
func NewAborted(abort uint64) *Status {
	return &Status{code: CodeAborted, abort: abort}
}

// GetCode returns the code of the status.
func (s *Status) GetCode() Code {
	return s.code
}

// GetMessage returns the optional message of the status.
func (s *Status) GetMessage() string {
	return s.message
}

// GetAbortCode returns the user-defined abort code. It is only meaningful
// when the code is CodeAborted.
func (s *Status) GetAbortCode() uint64 {
	return s.abort
}

// Error implements error. It returns a string representation of the status.
func (s *Status) Error() string {
	if s.code == CodeAborted {
		return fmt.Sprintf("status [%s]: abort code %d", s.code, s.abort)
	}

	if s.message != "" {
		return fmt.Sprintf("status [%s]: %s", s.code, s.message)
	}

	return fmt.Sprintf("status [%s]", s.code)
}

// FromError coerces an error into a status. Errors that are not statuses
// indicate a collaborator breaking its contract, so they are converted into
// an invariant violation.
func FromError(err error) *Status {
	if err == nil {
		return nil
	}

	status, ok := err.(*Status)
	if ok {
		return status
	}

	var wrapped *Status
	if xerrors.As(err, &wrapped) {
		return wrapped
	}

	return Newf(CodeUnknownInvariantViolation, "unexpected error: %v", err)
}
