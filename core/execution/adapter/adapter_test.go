package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/core/gas"
	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/core/vm"
	"go.dedis.ch/driva/core/vmstatus"
	"go.dedis.ch/driva/crypto/ed25519"
	"go.dedis.ch/driva/internal/fail"
	"go.dedis.ch/driva/internal/testing/fake"
)

func TestAdapter_ExecuteTransaction(t *testing.T) {
	machine := newFakeMachine()
	machine.payloadWrites = []execution.Write{{Key: []byte("acc"), Value: []byte{1}}}
	machine.payloadEvents = []execution.Event{{Key: []byte("evt")}}
	machine.invokeWrites[userEpilogueName] = []execution.Write{
		{Key: []byte("seq"), Value: []byte{1}},
	}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"})

	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Nil(t, status)
	require.True(t, out.GetStatus().IsKeep())
	require.True(t, out.GetStatus().GetExecutionStatus().IsSuccess())

	// The epilogue ran in the same session as the payload, so its writes
	// land after the payload writes.
	writes := out.GetWriteSet().GetWrites()
	require.Len(t, writes, 2)
	require.Equal(t, []byte("acc"), writes[0].Key)
	require.Equal(t, []byte("seq"), writes[1].Key)
	require.Len(t, out.GetEvents(), 1)

	intrinsic := gas.DefaultSchedule().IntrinsicCost(tx.GetSize())
	require.Equal(t, intrinsic, out.GetGasUsed())

	require.Len(t, machine.sessions, 1)

	session := machine.sessions[0]
	require.Equal(t, vm.NewSessionID(vm.DomainTransaction, tx.GetID()), session.id)
	require.Equal(t, []string{scriptPrologueName, userEpilogueName}, session.invoked)
	require.True(t, session.finished)
}

func TestAdapter_ExecuteTransaction_Abort(t *testing.T) {
	machine := newFakeMachine()
	machine.execCost = 100
	machine.execErr = vmstatus.NewAborted(42)
	machine.payloadWrites = []execution.Write{{Key: []byte("acc"), Value: []byte{1}}}
	machine.invokeWrites[userEpilogueName] = []execution.Write{
		{Key: []byte("seq"), Value: []byte{1}},
	}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"})

	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.NotNil(t, status)
	require.Equal(t, vmstatus.CodeAborted, status.GetCode())

	// Kept with the recorded abort, and charged for the gas consumed up to
	// the failure.
	ts := out.GetStatus()
	require.True(t, ts.IsKeep())
	require.Equal(t, uint64(42), ts.GetExecutionStatus().GetAbortCode())

	intrinsic := gas.DefaultSchedule().IntrinsicCost(tx.GetSize())
	require.Equal(t, intrinsic+100, out.GetGasUsed())

	// The payload session is abandoned: only the epilogue of the fresh
	// session survives.
	writes := out.GetWriteSet().GetWrites()
	require.Len(t, writes, 1)
	require.Equal(t, []byte("seq"), writes[0].Key)

	// Both sessions share the identifier of the logical transaction.
	require.Len(t, machine.sessions, 2)
	require.Equal(t, machine.sessions[0].id, machine.sessions[1].id)
	require.Equal(t, []string{userEpilogueName}, machine.sessions[1].invoked)
}

func TestAdapter_ExecuteTransaction_OutOfGas(t *testing.T) {
	machine := newFakeMachine()
	machine.execCost = 1 << 50

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"})

	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.NotNil(t, status)
	require.Equal(t, vmstatus.CodeOutOfGas, status.GetCode())

	require.True(t, out.GetStatus().IsKeep())
	require.Equal(t, vmstatus.CodeOutOfGas,
		out.GetStatus().GetExecutionStatus().GetCode())

	// The whole budget is charged.
	require.Equal(t, tx.GetMaxGasAmount(), out.GetGasUsed())
}

func TestAdapter_ExecuteTransaction_EpilogueFailure(t *testing.T) {
	machine := newFakeMachine()
	machine.payloadWrites = []execution.Write{{Key: []byte("acc"), Value: []byte{1}}}
	machine.invokeErr[userEpilogueName] = vmstatus.NewAborted(7)

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"})

	// The epilogue is maintained to never fail: an abort on the success path
	// poisons the whole attempt.
	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.NotNil(t, status)
	require.Equal(t, vmstatus.CodeUnexpectedErrorFromKnownOperation, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
	require.Equal(t, vmstatus.CodeUnexpectedErrorFromKnownOperation,
		out.GetStatus().GetReason())
	require.Equal(t, 0, out.GetWriteSet().Len())

	require.Len(t, machine.sessions, 1)
	require.Equal(t, []string{scriptPrologueName, userEpilogueName},
		machine.sessions[0].invoked)
}

func TestAdapter_ExecuteTransaction_CleanupEpilogueFailure(t *testing.T) {
	machine := newFakeMachine()
	machine.execErr = vmstatus.NewAborted(42)
	machine.invokeErr[userEpilogueName] = vmstatus.NewAborted(7)

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"})

	// When the failure epilogue itself fails, the abort cannot be charged
	// and the transaction degrades to a discard.
	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.NotNil(t, status)
	require.Equal(t, vmstatus.CodeUnexpectedErrorFromKnownOperation, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())

	// The fresh cleanup session was attempted before giving up.
	require.Len(t, machine.sessions, 2)
	require.Equal(t, []string{userEpilogueName}, machine.sessions[1].invoked)
	require.False(t, machine.sessions[1].finished)
}

func TestAdapter_ExecuteTransaction_PrologueAbort(t *testing.T) {
	machine := newFakeMachine()
	machine.invokeErr[scriptPrologueName] = vmstatus.NewAborted(prologueSequenceNumberTooOld)

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"})

	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.NotNil(t, status)
	require.Equal(t, vmstatus.CodeSequenceNumberTooOld, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
	require.Equal(t, 0, out.GetWriteSet().Len())

	// An abort code outside of the known table is an internal error.
	machine.invokeErr[scriptPrologueName] = vmstatus.NewAborted(99_999)

	status, out = a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Equal(t, vmstatus.CodeUnexpectedErrorFromKnownOperation, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
}

func TestAdapter_ExecuteTransaction_GasChecks(t *testing.T) {
	machine := newFakeMachine()

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	payload := txn.EntryFunction{Module: accountModule, Function: "transfer"}

	status, _ := a.ExecuteTransaction(fake.NewSnapshot(),
		makeTx(t, payload, txn.WithGas(1, 1)))
	require.Equal(t, vmstatus.CodeMaxGasUnitsBelowIntrinsic, status.GetCode())

	status, _ = a.ExecuteTransaction(fake.NewSnapshot(),
		makeTx(t, payload, txn.WithGas(3_000_000, 1)))
	require.Equal(t, vmstatus.CodeMaxGasUnitsExceedsBound, status.GetCode())

	status, _ = a.ExecuteTransaction(fake.NewSnapshot(),
		makeTx(t, payload, txn.WithGas(100_000, 20_000)))
	require.Equal(t, vmstatus.CodeGasUnitPriceAboveMaximum, status.GetCode())
}

func TestAdapter_ExecuteTransaction_DuplicateSigners(t *testing.T) {
	machine := newFakeMachine()

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	signer := ed25519.NewSigner()

	sender, err := txn.AddressFromPublicKey(signer.GetPublicKey())
	require.NoError(t, err)

	tx, err := txn.NewTransaction(sender, 0,
		txn.EntryFunction{Module: accountModule, Function: "transfer"},
		txn.WithGas(100_000, 1),
		txn.WithSecondarySigners(sender),
	)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(signer))

	checked, err := tx.CheckSignature()
	require.NoError(t, err)

	status, out := a.ExecuteTransaction(fake.NewSnapshot(), checked)
	require.Equal(t, vmstatus.CodeSignersContainDuplicates, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
}

func TestAdapter_GasSchedule(t *testing.T) {
	machine := newFakeMachine()

	a := New(machine)

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"})

	// The schedule is resolved from the state.
	state := fake.NewSnapshot()

	data, err := gas.DefaultSchedule().Marshal()
	require.NoError(t, err)
	require.NoError(t, state.Set(gasScheduleKey, data))

	status, _ := a.ExecuteTransaction(state, tx)
	require.Nil(t, status)

	// Missing schedule.
	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Equal(t, vmstatus.CodeVMStartupFailure, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())

	// Unreadable state.
	status, _ = a.ExecuteTransaction(fake.NewBadSnapshot(), tx)
	require.Equal(t, vmstatus.CodeStorageError, status.GetCode())
}

func TestAdapter_ExecuteTransaction_ModuleBundle(t *testing.T) {
	machine := newFakeMachine()
	machine.moduleNames = []string{"counter"}
	machine.hasInit = true

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.ModuleBundle{Modules: [][]byte{{0xca}}})

	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Nil(t, status)
	require.True(t, out.GetStatus().GetExecutionStatus().IsSuccess())

	session := machine.sessions[0]
	require.Equal(t, []string{modulePrologueName, initModuleName,
		userEpilogueName}, session.invoked)
	require.Equal(t, []string{"compat"}, session.publishes)

	// The initializer receives the sender as the sole signer.
	require.Equal(t, [][]byte{tx.GetSender().Bytes()}, session.initArgs)
}

func TestAdapter_ExecuteTransaction_ModuleBundle_Failures(t *testing.T) {
	tx := makeTx(t, txn.ModuleBundle{Modules: [][]byte{{0xca}}})

	// Republication of an existing module.
	machine := newFakeMachine()
	machine.moduleNames = []string{"counter"}
	machine.published["counter"] = struct{}{}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Equal(t, vmstatus.CodeDuplicateModuleName, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())

	// Malformed module blob.
	machine = newFakeMachine()
	machine.deserializeErr = fake.GetError()

	a = New(machine, WithGasSchedule(gas.DefaultSchedule()))

	status, _ = a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Equal(t, vmstatus.CodeDeserializationError, status.GetCode())

	// Initializer breaking its constraints.
	machine = newFakeMachine()
	machine.hasInit = true
	machine.verifyInitErr = fake.GetError()

	a = New(machine, WithGasSchedule(gas.DefaultSchedule()))

	status, _ = a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Equal(t, vmstatus.CodeVerificationError, status.GetCode())
}

func TestAdapter_ResolvePendingPublish(t *testing.T) {
	dest := txn.Address{7}

	machine := newFakeMachine()
	machine.moduleNames = []string{"counter"}
	machine.hasInit = true
	machine.req = &vm.PublishRequest{
		Destination:     dest,
		Modules:         [][]byte{{0xca}},
		ExpectedModules: []string{"counter"},
	}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "publish"})

	status, _ := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Nil(t, status)

	session := machine.sessions[0]
	require.Equal(t, []string{"relaxed"}, session.publishes)

	// The destination is the sole signer of the initializer.
	require.Equal(t, [][]byte{dest.Bytes()}, session.initArgs)
}

func TestAdapter_ResolvePendingPublish_NameMismatch(t *testing.T) {
	machine := newFakeMachine()
	machine.moduleNames = []string{"counter"}
	machine.req = &vm.PublishRequest{
		Modules:         [][]byte{{0xca}},
		ExpectedModules: []string{"other"},
		CheckCompat:     true,
	}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "publish"})

	status, out := a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Equal(t, vmstatus.CodeVerificationError, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())

	// A repeated claimed name must not hide an extra bundle module.
	machine = newFakeMachine()
	machine.moduleNames = []string{"counter", "other"}
	machine.req = &vm.PublishRequest{
		Modules:         [][]byte{{0xca}, {0xfe}},
		ExpectedModules: []string{"counter", "counter"},
		CheckCompat:     true,
	}

	a = New(machine, WithGasSchedule(gas.DefaultSchedule()))

	status, out = a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Equal(t, vmstatus.CodeVerificationError, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
	require.Empty(t, machine.sessions[0].publishes)

	// The names are compared as sets: a repeated claim over a single module
	// is fine.
	machine = newFakeMachine()
	machine.moduleNames = []string{"counter"}
	machine.req = &vm.PublishRequest{
		Modules:         [][]byte{{0xca}},
		ExpectedModules: []string{"counter", "counter"},
		CheckCompat:     true,
	}

	a = New(machine, WithGasSchedule(gas.DefaultSchedule()))

	status, _ = a.ExecuteTransaction(fake.NewSnapshot(), tx)
	require.Nil(t, status)
	require.Equal(t, []string{"compat"}, machine.sessions[0].publishes)
}

func TestAdapter_ExecuteBlock(t *testing.T) {
	machine := newFakeMachine()
	machine.payloadWrites = []execution.Write{{Key: []byte("acc"), Value: []byte{1}}}
	machine.invokeEvents[blockPrologueName] = []execution.Event{
		{Key: NewBlockEventKey()},
	}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	unsigned, err := txn.NewTransaction(txn.Address{9}, 0,
		txn.EntryFunction{Module: accountModule, Function: "transfer"},
		txn.WithGas(100_000, 1))
	require.NoError(t, err)

	items := []txn.Item{
		txn.BlockMetadata{ID: []byte{1}, Epoch: 1, Round: 1, Timestamp: 1000},
		makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"}).Transaction,
		unsigned,
		txn.StateCheckpoint{},
	}

	outputs, err := a.ExecuteBlock(items, fake.NewSnapshot())
	require.NoError(t, err)
	require.Len(t, outputs, 4)

	require.True(t, outputs[0].GetStatus().GetExecutionStatus().IsSuccess())
	require.True(t, execution.ContainsEventKey(outputs[0].GetEvents(),
		NewBlockEventKey()))

	require.True(t, outputs[1].GetStatus().IsKeep())

	require.True(t, outputs[2].GetStatus().IsDiscard())
	require.Equal(t, vmstatus.CodeInvalidSignature,
		outputs[2].GetStatus().GetReason())

	require.True(t, outputs[3].GetStatus().IsKeep())
	require.Equal(t, 0, outputs[3].GetWriteSet().Len())
	require.Equal(t, uint64(0), outputs[3].GetGasUsed())
}

func TestAdapter_ExecuteBlock_Reconfiguration(t *testing.T) {
	machine := newFakeMachine()
	machine.payloadEvents = []execution.Event{{Key: NewEpochEventKey()}}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	items := []txn.Item{
		makeTx(t, txn.EntryFunction{Module: accountModule, Function: "rotate"}).Transaction,
		makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"}).Transaction,
		txn.StateCheckpoint{},
	}

	outputs, err := a.ExecuteBlock(items, fake.NewSnapshot())
	require.NoError(t, err)
	require.Len(t, outputs, 3)

	require.True(t, outputs[0].GetStatus().IsKeep())

	// Everything after the reconfiguration is retried, not executed.
	require.True(t, outputs[1].GetStatus().IsRetry())
	require.True(t, outputs[2].GetStatus().IsRetry())
	require.Len(t, machine.sessions, 1)
}

func TestAdapter_ExecuteBlock_Parallel(t *testing.T) {
	machine := newFakeMachine()

	batch := &fakeBatch{outputs: []execution.Output{execution.NewRetryOutput()}}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()),
		WithParallelExecutor(batch))

	a.concurrency.Set(4)

	outputs, err := a.ExecuteBlock([]txn.Item{txn.StateCheckpoint{}}, fake.NewSnapshot())
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, 4, batch.level)

	batch.err = fake.GetError()

	_, err = a.ExecuteBlock([]txn.Item{txn.StateCheckpoint{}}, fake.NewSnapshot())
	require.EqualError(t, err, "parallel execution failed: fake error")
}

func TestAdapter_ExecuteBlock_Failpoint(t *testing.T) {
	a := New(newFakeMachine(), WithGasSchedule(gas.DefaultSchedule()))

	fail.Enable("adapter.execute_block", fake.GetError())
	defer fail.Disable("adapter.execute_block")

	_, err := a.ExecuteBlock(nil, fake.NewSnapshot())
	require.EqualError(t, err, "failed to execute block: fake error")
}

func TestAdapter_ProcessWaypointChangeSet(t *testing.T) {
	a := New(newFakeMachine(), WithGasSchedule(gas.DefaultSchedule()))

	status, out, err := a.ProcessWaypointChangeSet(fake.NewSnapshot(),
		makeWaypointPayload(t, true))
	require.NoError(t, err)
	require.Nil(t, status)
	require.True(t, out.GetStatus().IsKeep())
	require.Equal(t, uint64(0), out.GetGasUsed())

	// A waypoint missing one of the reconfiguration markers is rejected.
	status, out, err = a.ProcessWaypointChangeSet(fake.NewSnapshot(),
		makeWaypointPayload(t, false))
	require.NoError(t, err)
	require.Equal(t, vmstatus.CodeInvalidWriteSet, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
}

func TestAdapter_ExecuteBlock_Waypoint(t *testing.T) {
	a := New(newFakeMachine(), WithGasSchedule(gas.DefaultSchedule()))

	items := []txn.Item{
		txn.WaypointWriteSet{Payload: makeWaypointPayload(t, true)},
		txn.StateCheckpoint{},
	}

	outputs, err := a.ExecuteBlock(items, fake.NewSnapshot())
	require.NoError(t, err)

	// The waypoint carries the new-epoch marker, so the remainder of the
	// block is retried.
	require.True(t, outputs[0].GetStatus().IsKeep())
	require.True(t, outputs[1].GetStatus().IsRetry())
}

func TestAdapter_WriteSetTransaction(t *testing.T) {
	machine := newFakeMachine()
	machine.payloadWrites = []execution.Write{{Key: []byte("cfg"), Value: []byte{1}}}
	machine.payloadEvents = []execution.Event{{Key: []byte("cfg-evt")}}
	machine.invokeWrites[writeSetEpilogueName] = []execution.Write{
		{Key: []byte("seq"), Value: []byte{1}},
	}
	machine.invokeEvents[writeSetEpilogueName] = []execution.Event{
		{Key: []byte("seq-evt")},
	}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.WriteSetPayload{
		Script: &txn.WriteSetScript{
			Script:    txn.Script{Code: []byte{0xca}},
			ExecuteAs: txn.Address{8},
		},
	})

	status, out, err := a.processWriteSetTransaction(fake.NewSnapshot(), tx)
	require.NoError(t, err)
	require.Nil(t, status)
	require.True(t, out.GetStatus().GetExecutionStatus().IsSuccess())
	require.Equal(t, uint64(0), out.GetGasUsed())

	// Payload writes and events come before the epilogue ones.
	writes := out.GetWriteSet().GetWrites()
	require.Len(t, writes, 2)
	require.Equal(t, []byte("cfg"), writes[0].Key)
	require.Equal(t, []byte("seq"), writes[1].Key)

	events := out.GetEvents()
	require.Len(t, events, 2)
	require.Equal(t, []byte("cfg-evt"), events[0].Key)
	require.Equal(t, []byte("seq-evt"), events[1].Key)

	// The epilogue runs in a session of its own domain.
	require.Len(t, machine.sessions, 3)
	require.Equal(t, vm.NewSessionID(vm.DomainWriteSetEpilogue, tx.GetID()),
		machine.sessions[2].id)
}

func TestAdapter_WriteSetTransaction_Overlap(t *testing.T) {
	machine := newFakeMachine()
	machine.payloadWrites = []execution.Write{{Key: []byte("cfg"), Value: []byte{1}}}
	machine.invokeWrites[writeSetEpilogueName] = []execution.Write{
		{Key: []byte("cfg"), Value: []byte{2}},
	}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.WriteSetPayload{
		Script: &txn.WriteSetScript{
			Script:    txn.Script{Code: []byte{0xca}},
			ExecuteAs: txn.Address{8},
		},
	})

	status, out, err := a.processWriteSetTransaction(fake.NewSnapshot(), tx)
	require.NoError(t, err)
	require.Equal(t, vmstatus.CodeInvalidWriteSet, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
}

func TestAdapter_WriteSetTransaction_ScriptFailure(t *testing.T) {
	machine := newFakeMachine()
	machine.execErr = vmstatus.NewAborted(13)

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.WriteSetPayload{
		Script: &txn.WriteSetScript{
			Script:    txn.Script{Code: []byte{0xca}},
			ExecuteAs: txn.Address{8},
		},
	})

	status, out, err := a.processWriteSetTransaction(fake.NewSnapshot(), tx)
	require.NoError(t, err)
	require.Equal(t, vmstatus.CodeAborted, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
	require.Equal(t, vmstatus.CodeInvalidWriteSet, out.GetStatus().GetReason())
}

func TestAdapter_WriteSetTransaction_EpilogueFailure(t *testing.T) {
	machine := newFakeMachine()
	machine.invokeErr[writeSetEpilogueName] = vmstatus.NewAborted(7)

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.WriteSetPayload{
		Script: &txn.WriteSetScript{
			Script:    txn.Script{Code: []byte{0xca}},
			ExecuteAs: txn.Address{8},
		},
	})

	// A failing write set epilogue is fatal to the block.
	_, _, err := a.processWriteSetTransaction(fake.NewSnapshot(), tx)
	require.Error(t, err)
	require.Equal(t, vmstatus.CodeUnexpectedErrorFromKnownOperation,
		vmstatus.FromError(err).GetCode())
}

func TestAdapter_WriteSetTransaction_UnreadableState(t *testing.T) {
	machine := newFakeMachine()
	machine.payloadWrites = []execution.Write{{Key: []byte("cfg"), Value: []byte{1}}}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.WriteSetPayload{
		Script: &txn.WriteSetScript{
			Script:    txn.Script{Code: []byte{0xca}},
			ExecuteAs: txn.Address{8},
		},
	})

	// A read failure on a write set key makes the write set invalid, while
	// the storage failure stays visible in the status.
	status, out, err := a.processWriteSetTransaction(fake.NewBadSnapshot(), tx)
	require.NoError(t, err)
	require.Equal(t, vmstatus.CodeStorageError, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
	require.Equal(t, vmstatus.CodeInvalidWriteSet, out.GetStatus().GetReason())
}

func TestAdapter_ProcessBlockMetadata(t *testing.T) {
	machine := newFakeMachine()
	machine.invokeEvents[blockPrologueName] = []execution.Event{
		{Key: NewBlockEventKey()},
	}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	bm := txn.BlockMetadata{ID: []byte{1}, Epoch: 3, Round: 5, Timestamp: 99}

	status, out, err := a.ProcessBlockMetadata(fake.NewSnapshot(), bm)
	require.NoError(t, err)
	require.Nil(t, status)
	require.True(t, out.GetStatus().GetExecutionStatus().IsSuccess())
	require.Equal(t, uint64(0), out.GetGasUsed())

	// Re-executing against the same snapshot yields the same output.
	_, again, err := a.ProcessBlockMetadata(fake.NewSnapshot(), bm)
	require.NoError(t, err)
	require.Equal(t, out, again)
	require.Equal(t, machine.sessions[0].id, machine.sessions[1].id)

	// A failing block prologue is fatal.
	machine.invokeErr[blockPrologueName] = vmstatus.NewAborted(1)

	_, _, err = a.ProcessBlockMetadata(fake.NewSnapshot(), bm)
	require.Error(t, err)
	require.Equal(t, vmstatus.CodeUnexpectedErrorFromKnownOperation,
		vmstatus.FromError(err).GetCode())
}

func TestAdapter_ValidateTransaction(t *testing.T) {
	machine := newFakeMachine()

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	tx := makeTx(t, txn.EntryFunction{Module: accountModule, Function: "transfer"})

	status := a.ValidateTransaction(tx.Transaction, fake.NewSnapshot())
	require.Nil(t, status)

	// Validation never finalizes its session.
	require.Len(t, machine.sessions, 1)
	require.False(t, machine.sessions[0].finished)

	machine.invokeErr[scriptPrologueName] = vmstatus.NewAborted(prologueBadChainID)

	status = a.ValidateTransaction(tx.Transaction, fake.NewSnapshot())
	require.Equal(t, vmstatus.CodeBadChainID, status.GetCode())

	unsigned, err := txn.NewTransaction(txn.Address{9}, 0,
		txn.EntryFunction{Module: accountModule, Function: "transfer"},
		txn.WithGas(100_000, 1))
	require.NoError(t, err)

	status = a.ValidateTransaction(unsigned, fake.NewSnapshot())
	require.Equal(t, vmstatus.CodeInvalidSignature, status.GetCode())
}

func TestAdapter_SimulateTransaction(t *testing.T) {
	machine := newFakeMachine()
	machine.payloadWrites = []execution.Write{{Key: []byte("acc"), Value: []byte{1}}}

	a := New(machine, WithGasSchedule(gas.DefaultSchedule()))

	signer := ed25519.NewSigner()

	sender, err := txn.AddressFromPublicKey(signer.GetPublicKey())
	require.NoError(t, err)

	tx, err := txn.NewTransaction(sender, 0,
		txn.EntryFunction{Module: accountModule, Function: "transfer"},
		txn.WithGas(100_000, 1))
	require.NoError(t, err)

	// An unsigned transaction simulates fine.
	status, out := a.SimulateTransaction(tx, fake.NewSnapshot())
	require.Nil(t, status)
	require.True(t, out.GetStatus().IsKeep())
	require.Equal(t, 1, out.GetWriteSet().Len())
	require.True(t, out.GetGasUsed() > 0)

	// A validly signed transaction is rejected: simulation must not allow
	// executing something that could be submitted as is.
	require.NoError(t, tx.Sign(signer))

	status, out = a.SimulateTransaction(tx, fake.NewSnapshot())
	require.Equal(t, vmstatus.CodeInvalidSignature, status.GetCode())
	require.True(t, out.GetStatus().IsDiscard())
}

func TestAdapter_Tunables(t *testing.T) {
	a := New(newFakeMachine())

	require.Equal(t, 1, a.GetConcurrencyLevel())
	require.Equal(t, 32, a.GetProofReaderCount())

	a.SetConcurrencyLevel(0)
	require.Equal(t, 1, a.GetConcurrencyLevel())

	// The first value wins.
	a.SetConcurrencyLevel(2)
	require.Equal(t, 1, a.GetConcurrencyLevel())

	a.SetProofReaderCount(500)
	require.Equal(t, 256, a.GetProofReaderCount())

	a.SetProofReaderCount(10)
	require.Equal(t, 256, a.GetProofReaderCount())
}

// -----------------------------------------------------------------------------
// Utility functions

func makeTx(t *testing.T, payload txn.Payload,
	opts ...txn.TransactionOption) txn.Checked {

	signer := ed25519.NewSigner()

	sender, err := txn.AddressFromPublicKey(signer.GetPublicKey())
	require.NoError(t, err)

	opts = append([]txn.TransactionOption{txn.WithGas(100_000, 1)}, opts...)

	tx, err := txn.NewTransaction(sender, 0, payload, opts...)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(signer))

	checked, err := tx.CheckSignature()
	require.NoError(t, err)

	return checked
}

func makeWaypointPayload(t *testing.T, complete bool) txn.WriteSetPayload {
	ws, err := execution.NewWriteSet(
		execution.Write{Key: []byte("genesis"), Value: []byte{1}},
	)
	require.NoError(t, err)

	events := []execution.Event{{Key: NewEpochEventKey()}}
	if complete {
		events = append(events, execution.Event{Key: NewBlockEventKey()})
	}

	cs := execution.NewChangeSet(ws, events)

	return txn.WriteSetPayload{Direct: &cs}
}

type fakeFunction struct {
	signers int
	params  int
}

func (f fakeFunction) SignerParams() int { return f.signers }

func (f fakeFunction) Params() int { return f.params }

type fakeModule struct {
	id txn.ModuleID
}

func (m fakeModule) ID() txn.ModuleID { return m.id }

type fakeMachine struct {
	sessions []*fakeSession

	fn             fakeFunction
	loadErr        error
	hasInit        bool
	execCost       uint64
	execErr        error
	payloadWrites  []execution.Write
	payloadEvents  []execution.Event
	invokeErr      map[string]error
	invokeWrites   map[string][]execution.Write
	invokeEvents   map[string][]execution.Event
	published      map[string]struct{}
	publishErr     error
	verifyInitErr  error
	deserializeErr error
	moduleNames    []string
	deserCount     int
	req            *vm.PublishRequest
	finishErr      error
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{
		fn:           fakeFunction{signers: 1, params: 1},
		invokeErr:    make(map[string]error),
		invokeWrites: make(map[string][]execution.Write),
		invokeEvents: make(map[string][]execution.Event),
		published:    make(map[string]struct{}),
		moduleNames:  []string{"mod"},
	}
}

func (m *fakeMachine) NewSession(resolver store.Readable, id vm.SessionID) vm.Session {
	session := &fakeSession{machine: m, resolver: resolver, id: id}
	m.sessions = append(m.sessions, session)

	return session
}

func (m *fakeMachine) DeserializeModule([]byte) (vm.Module, error) {
	if m.deserializeErr != nil {
		return nil, m.deserializeErr
	}

	name := m.moduleNames[m.deserCount%len(m.moduleNames)]
	m.deserCount++

	return fakeModule{id: txn.ModuleID{Address: txn.CoreAddress, Name: name}}, nil
}

func (m *fakeMachine) VerifyModuleInit(vm.Module) error {
	return m.verifyInitErr
}

type fakeSession struct {
	machine   *fakeMachine
	resolver  store.Readable
	id        vm.SessionID
	writes    []execution.Write
	events    []execution.Event
	invoked   []string
	publishes []string
	initArgs  [][]byte
	finished  bool
}

func (s *fakeSession) LoadScript([]byte, []string) (vm.Function, error) {
	if s.machine.loadErr != nil {
		return nil, s.machine.loadErr
	}

	return s.machine.fn, nil
}

func (s *fakeSession) LoadFunction(id txn.ModuleID, name string,
	_ []string) (vm.Function, error) {

	if name == initModuleName {
		if s.machine.hasInit {
			return s.machine.fn, nil
		}

		return nil, vmstatus.Newf(vmstatus.CodeExecutionFailure,
			"no function '%s' in '%s'", name, id)
	}

	if s.machine.loadErr != nil {
		return nil, s.machine.loadErr
	}

	return s.machine.fn, nil
}

func (s *fakeSession) LoadModule(id txn.ModuleID) (vm.Module, error) {
	if _, ok := s.machine.published[id.Name]; ok {
		return fakeModule{id: id}, nil
	}

	return nil, vmstatus.Newf(vmstatus.CodeExecutionFailure,
		"module '%s' not found", id)
}

func (s *fakeSession) ExecuteScript(_ []byte, _ []string, _ [][]byte,
	meter gas.Meter) error {

	return s.run(meter)
}

func (s *fakeSession) ExecuteEntryFunction(_ txn.ModuleID, _ string, _ []string,
	_ [][]byte, meter gas.Meter) error {

	return s.run(meter)
}

func (s *fakeSession) run(meter gas.Meter) error {
	err := meter.Charge(s.machine.execCost)
	if err != nil {
		return err
	}

	if s.machine.execErr != nil {
		return s.machine.execErr
	}

	s.writes = append(s.writes, s.machine.payloadWrites...)
	s.events = append(s.events, s.machine.payloadEvents...)

	return nil
}

func (s *fakeSession) InvokeFunction(_ txn.ModuleID, name string, _ []string,
	args [][]byte, _ gas.Meter) error {

	s.invoked = append(s.invoked, name)

	if name == initModuleName {
		s.initArgs = args
	}

	if err := s.machine.invokeErr[name]; err != nil {
		return err
	}

	s.writes = append(s.writes, s.machine.invokeWrites[name]...)
	s.events = append(s.events, s.machine.invokeEvents[name]...)

	return nil
}

func (s *fakeSession) PublishModules([][]byte, txn.Address, gas.Meter) error {
	if s.machine.publishErr != nil {
		return s.machine.publishErr
	}

	s.publishes = append(s.publishes, "compat")

	return nil
}

func (s *fakeSession) PublishModulesRelaxed([][]byte, txn.Address, gas.Meter) error {
	if s.machine.publishErr != nil {
		return s.machine.publishErr
	}

	s.publishes = append(s.publishes, "relaxed")

	return nil
}

func (s *fakeSession) ExtractPublishRequest() *vm.PublishRequest {
	req := s.machine.req
	s.machine.req = nil

	return req
}

func (s *fakeSession) Finish() (execution.ChangeSet, error) {
	s.finished = true

	if s.machine.finishErr != nil {
		return execution.ChangeSet{}, s.machine.finishErr
	}

	ws, err := execution.NewWriteSet(s.writes...)
	if err != nil {
		return execution.ChangeSet{}, err
	}

	return execution.NewChangeSet(ws, s.events), nil
}

type fakeBatch struct {
	outputs []execution.Output
	err     error
	level   int
}

func (b *fakeBatch) ExecuteBlock(items []txn.Item, state store.Readable,
	level int) ([]execution.Output, error) {

	b.level = level

	if b.err != nil {
		return nil, b.err
	}

	return b.outputs, nil
}
