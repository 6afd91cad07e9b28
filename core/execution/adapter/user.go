// This file contains the execution of a single user transaction: prologue,
// payload, epilogue, and the cleanup path that keeps a failed transaction in
// the ledger with its gas charged.

package adapter

import (
	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/core/gas"
	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/core/vm"
	"go.dedis.ch/driva/core/vmstatus"
)

// ExecuteTransaction runs a signature-checked user transaction against the
// resolver. A nil status means the transaction executed successfully; a
// non-nil status reports why it failed, with the output carrying the final
// classification. The resolver is never written to: all effects are in the
// returned output.
func (a *Adapter) ExecuteTransaction(resolver store.Readable,
	tx txn.Checked) (*vmstatus.Status, execution.Output) {

	if status := a.checkFormat(tx.Transaction); status != nil {
		return discardStatus(status)
	}

	schedule, status := a.gasSchedule(resolver)
	if status != nil {
		return discardStatus(status)
	}

	md := txn.NewMetadata(tx.Transaction)

	id := vm.NewSessionID(vm.DomainTransaction, md.ID)
	session := a.vm.NewSession(resolver, id)

	if status := a.runPrologue(session, tx.GetPayload(), md, schedule); status != nil {
		return discardStatus(status)
	}

	return a.executePayload(resolver, session, schedule, md, tx.GetPayload())
}

// executePayload runs the payload of an admitted transaction in the session,
// then routes the result through the success or the failure path.
func (a *Adapter) executePayload(resolver store.Readable, session vm.Session,
	schedule gas.Schedule, md txn.Metadata,
	payload txn.Payload) (*vmstatus.Status, execution.Output) {

	meter := gas.NewMeter(schedule, md.MaxGasAmount)

	var out execution.Output
	var status *vmstatus.Status

	switch p := payload.(type) {
	case txn.Script, txn.EntryFunction:
		out, status = a.executeScriptOrEntryFunction(session, meter, md, payload)
	case txn.ModuleBundle:
		out, status = a.executeModules(session, meter, md, p)
	case txn.WriteSetPayload:
		// Write set payloads are system transactions and never reach the
		// user execution path.
		return discardStatus(vmstatus.New(vmstatus.CodeUnreachable))
	default:
		return discardStatus(vmstatus.Newf(vmstatus.CodeUnreachable,
			"unknown payload type %T", payload))
	}

	used, err := gas.Used(md.MaxGasAmount, meter.Balance())
	if err != nil {
		return discardStatus(vmstatus.FromError(err))
	}

	promGasUsed.Observe(float64(used))

	if status == nil {
		return nil, out
	}

	if vmstatus.Classify(status).IsDiscard() {
		return discardStatus(status)
	}

	return a.failedCleanup(resolver, status, meter, md)
}

// successCleanup runs the epilogue in the same session as the payload and
// finalizes the output. Any failure here poisons the attempt and falls back
// to the failure path of the caller.
func (a *Adapter) successCleanup(session vm.Session, meter gas.Meter,
	md txn.Metadata) (execution.Output, *vmstatus.Status) {

	if status := a.runUserEpilogue(session, meter.Balance(), md); status != nil {
		return execution.Output{}, status
	}

	return outputFromSession(session, meter.Balance(), md, vmstatus.Success())
}

// failedCleanup charges a failed transaction. The session of the payload is
// abandoned with all its effects, and a fresh session over the same resolver
// runs the epilogue alone, so that only the sequence number bump and the fee
// deduction survive. The epilogue does not depend on any effect of the
// abandoned session, so replaying it is safe.
func (a *Adapter) failedCleanup(resolver store.Readable,
	status *vmstatus.Status, meter gas.Meter,
	md txn.Metadata) (*vmstatus.Status, execution.Output) {

	ts := vmstatus.Classify(status)
	if !ts.IsKeep() {
		return discardStatus(status)
	}

	id := vm.NewSessionID(vm.DomainTransaction, md.ID)
	session := a.vm.NewSession(resolver, id)

	if epStatus := a.runUserEpilogue(session, meter.Balance(), md); epStatus != nil {
		return discardStatus(epStatus)
	}

	out, outStatus := outputFromSession(session, meter.Balance(), md,
		ts.GetExecutionStatus())
	if outStatus != nil {
		return discardStatus(outStatus)
	}

	return status, out
}

// outputFromSession finalizes the session into the output of a kept
// transaction, deriving the gas used from the remaining balance.
func outputFromSession(session vm.Session, balance uint64, md txn.Metadata,
	es vmstatus.ExecutionStatus) (execution.Output, *vmstatus.Status) {

	used, err := gas.Used(md.MaxGasAmount, balance)
	if err != nil {
		return execution.Output{}, vmstatus.FromError(err)
	}

	cs, err := session.Finish()
	if err != nil {
		return execution.Output{}, vmstatus.FromError(err)
	}

	return execution.NewOutput(cs, used, vmstatus.Keep(es)), nil
}
