// This file contains the privileged system transactions: write set payloads
// for genesis, waypoints and emergency reconfiguration, and the block
// prologue. They run unmetered and any unexpected failure is fatal to the
// block instead of being charged to a sender.

package adapter

import (
	"bytes"

	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/core/gas"
	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/core/vm"
	"go.dedis.ch/driva/core/vmstatus"
	"go.dedis.ch/driva/internal/fail"
)

// resultPair carries an early, non-fatal resolution of a system transaction:
// the status explaining it and the output to record.
type resultPair struct {
	status *vmstatus.Status
	output execution.Output
}

// executeWriteSet materializes the change set of a write set payload. A
// direct payload is taken as is; a scripted payload runs unmetered in a
// throwaway session. A script failure resolves the transaction as discarded
// instead of failing the block.
func (a *Adapter) executeWriteSet(resolver store.Readable,
	payload txn.WriteSetPayload, sender *txn.Address,
	id vm.SessionID) (execution.ChangeSet, *resultPair, *vmstatus.Status) {

	if payload.Direct != nil {
		return *payload.Direct, nil, nil
	}

	if payload.Script == nil {
		return execution.ChangeSet{}, nil,
			vmstatus.Newf(vmstatus.CodeInvalidWriteSet, "empty payload")
	}

	session := a.vm.NewSession(resolver, id)
	script := payload.Script.Script

	signers := []txn.Address{payload.Script.ExecuteAs}
	if sender != nil && *sender != payload.Script.ExecuteAs {
		signers = []txn.Address{*sender, payload.Script.ExecuteAs}
	}

	fn, err := session.LoadScript(script.Code, script.TypeArgs)
	if err != nil {
		return execution.ChangeSet{}, nil, vmstatus.FromError(err)
	}

	args, status := combineSignerAndArgs(fn, signers, script.Args)
	if status != nil {
		return execution.ChangeSet{}, nil, status
	}

	err = session.ExecuteScript(script.Code, script.TypeArgs, args, gas.Unmetered{})

	var cs execution.ChangeSet
	if err == nil {
		cs, err = session.Finish()
	}

	if err != nil {
		pair := &resultPair{
			status: vmstatus.FromError(err),
			output: execution.NewDiscardOutput(vmstatus.CodeInvalidWriteSet),
		}

		return execution.ChangeSet{}, pair, nil
	}

	return cs, nil, nil
}

// readWriteSet reads every key of the write set from the resolver before the
// set is recorded, so that the parallel strategy observes the same read
// dependencies as the sequential one.
func (a *Adapter) readWriteSet(resolver store.Readable,
	ws execution.WriteSet) *vmstatus.Status {

	for _, w := range ws.GetWrites() {
		_, err := resolver.Get(w.Key)
		if err != nil {
			return vmstatus.Newf(vmstatus.CodeStorageError,
				"failed to read key '%x': %v", w.Key, err)
		}
	}

	return nil
}

// validateWaypointChangeSet checks that the change set of a waypoint carries
// both reconfiguration markers: the new-epoch and the new-block events.
func validateWaypointChangeSet(cs execution.ChangeSet) *vmstatus.Status {
	events := cs.GetEvents()

	if !execution.ContainsEventKey(events, NewEpochEventKey()) ||
		!execution.ContainsEventKey(events, NewBlockEventKey()) {

		return vmstatus.Newf(vmstatus.CodeInvalidWriteSet,
			"waypoint must emit the new-epoch and new-block events")
	}

	return nil
}

// ProcessWaypointChangeSet executes the write set of a genesis or waypoint
// transaction. The change set must carry both reconfiguration markers, as a
// waypoint always ends the epoch.
func (a *Adapter) ProcessWaypointChangeSet(resolver store.Readable,
	payload txn.WriteSetPayload) (*vmstatus.Status, execution.Output, error) {

	id := vm.NewSessionID(vm.DomainGenesis, nil)

	cs, pair, fatal := a.executeWriteSet(resolver, payload, nil, id)
	if fatal != nil {
		return nil, execution.Output{}, fatal
	}
	if pair != nil {
		return pair.status, pair.output, nil
	}

	if status := validateWaypointChangeSet(cs); status != nil {
		return discardWithOutput(status)
	}

	if status := a.readWriteSet(resolver, cs.GetWriteSet()); status != nil {
		return nil, execution.Output{}, status
	}

	promSystemTxs.Inc()

	out := execution.NewOutput(cs, 0, vmstatus.Keep(vmstatus.Success()))

	return nil, out, nil
}

// ExecuteWriteSetTransaction executes a signed system write set transaction.
// The epilogue runs in its own session and its effects must be disjoint from
// the payload, both in keys and in event keys, so the merge cannot silently
// drop a write.
func (a *Adapter) ExecuteWriteSetTransaction(resolver store.Readable,
	payload txn.WriteSetPayload,
	md txn.Metadata) (*vmstatus.Status, execution.Output, error) {

	sender := md.Sender

	id := vm.NewSessionID(vm.DomainTransaction, md.ID)

	cs, pair, fatal := a.executeWriteSet(resolver, payload, &sender, id)
	if fatal != nil {
		return nil, execution.Output{}, fatal
	}
	if pair != nil {
		return pair.status, pair.output, nil
	}

	epID := vm.NewSessionID(vm.DomainWriteSetEpilogue, md.ID)
	epSession := a.vm.NewSession(resolver, epID)

	status := a.runWriteSetEpilogue(epSession, md, payload.TriggersReconfiguration())
	if status != nil {
		return nil, execution.Output{}, status
	}

	// Any read failure at this point makes the write set invalid, whatever
	// the underlying cause.
	if status := a.readWriteSet(resolver, cs.GetWriteSet()); status != nil {
		return status, execution.NewDiscardOutput(vmstatus.CodeInvalidWriteSet), nil
	}

	epCs, err := epSession.Finish()
	if err != nil {
		return nil, execution.Output{}, vmstatus.FromError(err)
	}

	if !cs.GetWriteSet().Disjoint(epCs.GetWriteSet()) {
		return discardWithOutput(vmstatus.Newf(vmstatus.CodeInvalidWriteSet,
			"payload and epilogue write sets overlap"))
	}

	if !execution.EventKeysDisjoint(cs.GetEvents(), epCs.GetEvents()) {
		return discardWithOutput(vmstatus.Newf(vmstatus.CodeInvalidWriteSet,
			"payload and epilogue event keys overlap"))
	}

	// The payload writes come first so that the epilogue bookkeeping lands
	// after them in the final ordering.
	merged, err := execution.MergeWriteSets(cs.GetWriteSet(), epCs.GetWriteSet())
	if err != nil {
		return discardWithOutput(vmstatus.Newf(vmstatus.CodeInvalidWriteSet,
			"failed to merge write sets: %v", err))
	}

	events := append(cs.GetEvents(), epCs.GetEvents()...)

	promSystemTxs.Inc()

	out := execution.NewOutput(execution.NewChangeSet(merged, events), 0,
		vmstatus.Keep(vmstatus.Success()))

	return nil, out, nil
}

// processWriteSetTransaction admits and executes a signed write set
// transaction from a block.
func (a *Adapter) processWriteSetTransaction(resolver store.Readable,
	tx txn.Checked) (*vmstatus.Status, execution.Output, error) {

	if err := fail.Point("adapter.writeset_transaction"); err != nil {
		return nil, execution.Output{}, vmstatus.FromError(err)
	}

	if status := a.checkFormat(tx.Transaction); status != nil {
		return discardWithOutput(status)
	}

	md := txn.NewMetadata(tx.Transaction)

	id := vm.NewSessionID(vm.DomainTransaction, md.ID)
	session := a.vm.NewSession(resolver, id)

	if status := a.invokePrologue(session, writeSetPrologueName, md); status != nil {
		return discardWithOutput(status)
	}

	payload, ok := tx.GetPayload().(txn.WriteSetPayload)
	if !ok {
		a.logger.Error().Msg("non write set payload in write set path")

		return discardWithOutput(vmstatus.New(vmstatus.CodeUnreachable))
	}

	return a.ExecuteWriteSetTransaction(resolver, payload, md)
}

// ProcessBlockMetadata executes the block prologue under the reserved
// sender. The prologue is maintained to never fail; when it does, the error
// is fatal and the block cannot be produced.
func (a *Adapter) ProcessBlockMetadata(resolver store.Readable,
	bm txn.BlockMetadata) (*vmstatus.Status, execution.Output, error) {

	if err := fail.Point("adapter.block_prologue"); err != nil {
		return nil, execution.Output{}, vmstatus.FromError(err)
	}

	buffer := new(bytes.Buffer)

	err := bm.Fingerprint(buffer)
	if err != nil {
		return nil, execution.Output{}, vmstatus.Newf(
			vmstatus.CodeUnknownInvariantViolation,
			"failed to fingerprint block metadata: %v", err)
	}

	id := vm.NewSessionID(vm.DomainBlockMetadata, buffer.Bytes())
	md := txn.NewSystemMetadata(id[:])

	session := a.vm.NewSession(resolver, id)

	err = session.InvokeFunction(blockModule, blockPrologueName, nil,
		bm.PrologueArgs(), gas.Unmetered{})
	if err != nil {
		return nil, execution.Output{},
			a.expectOnlySuccessfulExecution(err, blockPrologueName)
	}

	out, status := outputFromSession(session, 0, md, vmstatus.Success())
	if status != nil {
		return nil, execution.Output{}, status
	}

	promSystemTxs.Inc()

	return nil, out, nil
}

// discardWithOutput resolves a system transaction as discarded without
// failing the block.
func discardWithOutput(status *vmstatus.Status) (*vmstatus.Status, execution.Output, error) {
	return status, execution.NewDiscardOutput(status.GetCode()), nil
}
