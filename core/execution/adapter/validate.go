// This file contains the admission-only entry points: the mempool validation
// that runs the prologue without any payload, and the read-only simulation.

package adapter

import (
	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/core/vm"
	"go.dedis.ch/driva/core/vmstatus"
	"go.dedis.ch/driva/internal/fail"
)

// ValidateTransaction checks whether the transaction would be admitted by
// the prologue against the state. A nil status means admitted. The session
// is discarded: validation never produces effects.
func (a *Adapter) ValidateTransaction(t *txn.Transaction,
	state store.Readable) *vmstatus.Status {

	if err := fail.Point("adapter.validate"); err != nil {
		return vmstatus.FromError(err)
	}

	checked, err := t.CheckSignature()
	if err != nil {
		return vmstatus.Newf(vmstatus.CodeInvalidSignature, "%v", err)
	}

	if status := a.checkFormat(t); status != nil {
		return status
	}

	schedule, status := a.gasSchedule(state)
	if status != nil {
		return status
	}

	md := txn.NewMetadata(t)

	id := vm.NewSessionID(vm.DomainTransaction, checked.GetID())
	session := a.vm.NewSession(state, id)

	return a.runPrologue(session, t.GetPayload(), md, schedule)
}

// SimulateTransaction executes an unsigned transaction against the state
// without recording anything, to estimate its effects and gas. A transaction
// carrying a valid signature is rejected: the simulation path must not be
// usable to execute a transaction that could be submitted as is.
func (a *Adapter) SimulateTransaction(t *txn.Transaction,
	state store.Readable) (*vmstatus.Status, execution.Output) {

	_, err := t.CheckSignature()
	if err == nil {
		return discardStatus(vmstatus.Newf(vmstatus.CodeInvalidSignature,
			"simulation rejects signed transactions"))
	}

	if status := a.checkFormat(t); status != nil {
		return discardStatus(status)
	}

	schedule, status := a.gasSchedule(state)
	if status != nil {
		return discardStatus(status)
	}

	md := txn.NewMetadata(t)

	id := vm.NewSessionID(vm.DomainTransaction, md.ID)
	session := a.vm.NewSession(state, id)

	if status := a.runPrologue(session, t.GetPayload(), md, schedule); status != nil {
		return discardStatus(status)
	}

	return a.executePayload(state, session, schedule, md, t.GetPayload())
}
