// This file contains the bindings to the on-chain framework: the entry
// points of the account and block modules, the admission checks, and the
// conversion of their abort codes into the status taxonomy.

package adapter

import (
	"encoding/binary"

	"go.dedis.ch/driva/core/gas"
	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/core/vm"
	"go.dedis.ch/driva/core/vmstatus"
)

var (
	accountModule = txn.ModuleID{Address: txn.CoreAddress, Name: "account"}
	blockModule   = txn.ModuleID{Address: txn.CoreAddress, Name: "block"}
)

const (
	scriptPrologueName   = "script_prologue"
	modulePrologueName   = "module_prologue"
	writeSetPrologueName = "writeset_prologue"
	userEpilogueName     = "epilogue"
	writeSetEpilogueName = "writeset_epilogue"
	blockPrologueName    = "block_prologue"
	initModuleName       = "init_module"
)

// Abort codes reported by the prologue entry points of the account module.
const (
	prologueInvalidAuthKey          uint64 = 1001
	prologueSequenceNumberTooOld    uint64 = 1002
	prologueSequenceNumberTooNew    uint64 = 1003
	prologueAccountDoesNotExist     uint64 = 1004
	prologueCantPayGasDeposit       uint64 = 1005
	prologueTransactionExpired      uint64 = 1006
	prologueBadChainID              uint64 = 1007
	prologueScriptNotAllowed        uint64 = 1008
	prologueModuleNotAllowed        uint64 = 1009
	prologueInvalidWriteSetSender   uint64 = 1010
	prologueSequenceNumberTooBig    uint64 = 1011
	prologueSecondaryCountMismatch  uint64 = 1012
)

// gasScheduleKey is the storage key of the on-chain gas schedule.
var gasScheduleKey = append(txn.CoreAddress.Bytes(), []byte("/config/gas-schedule")...)

// NewEpochEventKey returns the event key marking a reconfiguration. Any
// transaction emitting under this key ends the current epoch.
func NewEpochEventKey() []byte {
	return append(txn.CoreAddress.Bytes(), []byte("/events/new-epoch")...)
}

// NewBlockEventKey returns the event key emitted by every block prologue.
func NewBlockEventKey() []byte {
	return append(txn.CoreAddress.Bytes(), []byte("/events/new-block")...)
}

func encodeUint64(value uint64) []byte {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, value)

	return buffer
}

// gasSchedule resolves the schedule from the on-chain configuration, unless
// the adapter was created with a pinned one. A missing or corrupted schedule
// prevents any execution from starting.
func (a *Adapter) gasSchedule(resolver store.Readable) (gas.Schedule, *vmstatus.Status) {
	if a.schedule != nil {
		return *a.schedule, nil
	}

	data, err := resolver.Get(gasScheduleKey)
	if err != nil {
		return gas.Schedule{}, vmstatus.Newf(vmstatus.CodeStorageError,
			"failed to read gas schedule: %v", err)
	}

	if data == nil {
		return gas.Schedule{}, vmstatus.Newf(vmstatus.CodeVMStartupFailure,
			"gas schedule not found")
	}

	schedule, err := gas.UnmarshalSchedule(data)
	if err != nil {
		return gas.Schedule{}, vmstatus.Newf(vmstatus.CodeVMStartupFailure,
			"malformed gas schedule: %v", err)
	}

	return schedule, nil
}

// checkGas verifies the declared gas parameters of a transaction against the
// schedule, before any execution starts.
func (a *Adapter) checkGas(md txn.Metadata, schedule gas.Schedule) *vmstatus.Status {
	if md.Size > schedule.MaxTransactionSize {
		return vmstatus.Newf(vmstatus.CodeExceededMaxTransactionSize,
			"size %d above limit %d", md.Size, schedule.MaxTransactionSize)
	}

	if md.MaxGasAmount > schedule.MaxGasUnits {
		return vmstatus.Newf(vmstatus.CodeMaxGasUnitsExceedsBound,
			"budget %d above limit %d", md.MaxGasAmount, schedule.MaxGasUnits)
	}

	intrinsic := schedule.IntrinsicCost(md.Size)
	if md.MaxGasAmount < intrinsic {
		return vmstatus.Newf(vmstatus.CodeMaxGasUnitsBelowIntrinsic,
			"budget %d below intrinsic cost %d", md.MaxGasAmount, intrinsic)
	}

	if md.GasUnitPrice < schedule.MinPricePerUnit {
		return vmstatus.Newf(vmstatus.CodeGasUnitPriceBelowMinimum,
			"price %d below minimum %d", md.GasUnitPrice, schedule.MinPricePerUnit)
	}

	if md.GasUnitPrice > schedule.MaxPricePerUnit {
		return vmstatus.Newf(vmstatus.CodeGasUnitPriceAboveMaximum,
			"price %d above maximum %d", md.GasUnitPrice, schedule.MaxPricePerUnit)
	}

	return nil
}

// checkFormat verifies the structural well-formedness of a transaction.
func (a *Adapter) checkFormat(t *txn.Transaction) *vmstatus.Status {
	if t.HasDuplicateSigners() {
		return vmstatus.New(vmstatus.CodeSignersContainDuplicates)
	}

	return nil
}

// prologueArgs serializes the metadata fields handed to the prologue entry
// points, after the sender signer.
func prologueArgs(md txn.Metadata) [][]byte {
	return [][]byte{
		md.Sender.Bytes(),
		encodeUint64(md.Sequence),
		encodeUint64(md.GasUnitPrice),
		encodeUint64(md.MaxGasAmount),
		encodeUint64(md.Expiration),
		encodeUint64(md.ChainID),
		encodeUint64(uint64(len(md.SecondarySigners))),
	}
}

// epilogueArgs serializes the arguments of the user epilogue: the metadata
// fields plus the remaining gas balance.
func epilogueArgs(md txn.Metadata, balance uint64) [][]byte {
	return [][]byte{
		md.Sender.Bytes(),
		encodeUint64(md.Sequence),
		encodeUint64(md.GasUnitPrice),
		encodeUint64(md.MaxGasAmount),
		encodeUint64(balance),
	}
}

// runPrologue dispatches to the prologue matching the payload kind. The
// admission gas checks only apply to metered payloads.
func (a *Adapter) runPrologue(session vm.Session, payload txn.Payload,
	md txn.Metadata, schedule gas.Schedule) *vmstatus.Status {

	switch payload.(type) {
	case txn.Script, txn.EntryFunction:
		if status := a.checkGas(md, schedule); status != nil {
			return status
		}

		return a.invokePrologue(session, scriptPrologueName, md)
	case txn.ModuleBundle:
		if status := a.checkGas(md, schedule); status != nil {
			return status
		}

		return a.invokePrologue(session, modulePrologueName, md)
	case txn.WriteSetPayload:
		return a.invokePrologue(session, writeSetPrologueName, md)
	default:
		return vmstatus.Newf(vmstatus.CodeUnreachable,
			"unknown payload type %T", payload)
	}
}

func (a *Adapter) invokePrologue(session vm.Session, name string,
	md txn.Metadata) *vmstatus.Status {

	err := session.InvokeFunction(accountModule, name, nil,
		prologueArgs(md), gas.Unmetered{})

	return convertPrologueError(err)
}

// runUserEpilogue invokes the user epilogue, which records the sequence
// number bump and the fee deduction. It runs unmetered in both the success
// and the failure paths.
func (a *Adapter) runUserEpilogue(session vm.Session, balance uint64,
	md txn.Metadata) *vmstatus.Status {

	err := session.InvokeFunction(accountModule, userEpilogueName, nil,
		epilogueArgs(md, balance), gas.Unmetered{})

	return convertEpilogueError(err)
}

// runWriteSetEpilogue invokes the epilogue of a system write set transaction
// in its own session, flagging whether the payload triggers a
// reconfiguration.
func (a *Adapter) runWriteSetEpilogue(session vm.Session, md txn.Metadata,
	reconfig bool) *vmstatus.Status {

	flag := []byte{0}
	if reconfig {
		flag[0] = 1
	}

	args := [][]byte{
		md.Sender.Bytes(),
		encodeUint64(md.Sequence),
		flag,
	}

	err := session.InvokeFunction(accountModule, writeSetEpilogueName, nil,
		args, gas.Unmetered{})

	return convertEpilogueError(err)
}

// convertPrologueError maps the aborts of the known prologue entry points to
// their validation statuses. An abort code outside of the table, or any other
// execution failure, indicates a broken framework and is escalated as an
// invariant violation.
func convertPrologueError(err error) *vmstatus.Status {
	if err == nil {
		return nil
	}

	status := vmstatus.FromError(err)

	if status.GetCode() != vmstatus.CodeAborted {
		if status.GetCode().IsExecution() {
			return vmstatus.Newf(vmstatus.CodeUnexpectedErrorFromKnownOperation,
				"prologue failed: %v", status)
		}

		return status
	}

	switch status.GetAbortCode() {
	case prologueInvalidAuthKey:
		return vmstatus.New(vmstatus.CodeInvalidAuthenticationKey)
	case prologueSequenceNumberTooOld:
		return vmstatus.New(vmstatus.CodeSequenceNumberTooOld)
	case prologueSequenceNumberTooNew, prologueSequenceNumberTooBig:
		return vmstatus.New(vmstatus.CodeSequenceNumberTooNew)
	case prologueAccountDoesNotExist:
		return vmstatus.New(vmstatus.CodeSendingAccountDoesNotExist)
	case prologueCantPayGasDeposit:
		return vmstatus.New(vmstatus.CodeInsufficientBalance)
	case prologueTransactionExpired:
		return vmstatus.New(vmstatus.CodeTransactionExpired)
	case prologueBadChainID:
		return vmstatus.New(vmstatus.CodeBadChainID)
	case prologueScriptNotAllowed:
		return vmstatus.New(vmstatus.CodeUnknownScript)
	case prologueModuleNotAllowed:
		return vmstatus.New(vmstatus.CodeModulePublishingNotAllowed)
	case prologueInvalidWriteSetSender:
		return vmstatus.New(vmstatus.CodeInvalidWriteSet)
	case prologueSecondaryCountMismatch:
		return vmstatus.New(vmstatus.CodeSecondarySignerCountMismatch)
	default:
		return vmstatus.Newf(vmstatus.CodeUnexpectedErrorFromKnownOperation,
			"unexpected abort %d in prologue", status.GetAbortCode())
	}
}

// convertEpilogueError escalates any failure of an epilogue. The epilogues
// are maintained to never abort; when one does, keeping the transaction
// would lose the fee bookkeeping, so the attempt is discarded as an internal
// error.
func convertEpilogueError(err error) *vmstatus.Status {
	if err == nil {
		return nil
	}

	status := vmstatus.FromError(err)

	if status.GetCode().IsExecution() {
		return vmstatus.Newf(vmstatus.CodeUnexpectedErrorFromKnownOperation,
			"epilogue failed: %v", status)
	}

	return status
}

// expectOnlySuccessfulExecution escalates any failure of an entry point that
// must never fail, like the block prologue.
func (a *Adapter) expectOnlySuccessfulExecution(err error, name string) *vmstatus.Status {
	status := vmstatus.FromError(err)

	a.logger.Error().
		Str("function", name).
		Str("status", status.Error()).
		Msg("system entry point failed")

	return vmstatus.Newf(vmstatus.CodeUnexpectedErrorFromKnownOperation,
		"'%s' failed: %v", name, status)
}
