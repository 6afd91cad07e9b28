// This file contains the block execution protocol: every item of the block
// executed in order against a read-your-writes cache, with the remainder of
// the block retried when a reconfiguration is detected.

package adapter

import (
	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/store/mem"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/core/vmstatus"
	"go.dedis.ch/driva/internal/fail"
	"golang.org/x/xerrors"
)

// ExecuteBlock executes the items of a block in order against the state and
// returns one output per item, in the same order. The state is never written
// to: the caller applies the kept write sets in block order. When the
// concurrency level is above one and a parallel executor is plugged, the
// block is delegated to it.
func (a *Adapter) ExecuteBlock(items []txn.Item,
	state store.Readable) ([]execution.Output, error) {

	if err := fail.Point("adapter.execute_block"); err != nil {
		return nil, xerrors.Errorf("failed to execute block: %v", err)
	}

	level := a.GetConcurrencyLevel()

	if level > 1 && a.parallel != nil {
		outputs, err := a.parallel.ExecuteBlock(items, state, level)
		if err != nil {
			return nil, xerrors.Errorf("parallel execution failed: %v", err)
		}

		return outputs, nil
	}

	outputs, _, err := a.executeBlockSequential(items, state)

	return outputs, err
}

// ExecuteBlockKeepStatus executes the block sequentially and additionally
// returns the per-item status, nil for the items that executed successfully
// or were retried.
func (a *Adapter) ExecuteBlockKeepStatus(items []txn.Item,
	state store.Readable) ([]execution.Output, []*vmstatus.Status, error) {

	return a.executeBlockSequential(items, state)
}

func (a *Adapter) executeBlockSequential(items []txn.Item,
	state store.Readable) ([]execution.Output, []*vmstatus.Status, error) {

	cache := mem.NewSnapshot(state)

	outputs := make([]execution.Output, 0, len(items))
	statuses := make([]*vmstatus.Status, 0, len(items))

	restart := false

	for i, item := range items {
		if restart {
			outputs = append(outputs, execution.NewRetryOutput())
			statuses = append(statuses, nil)

			continue
		}

		status, out, err := a.executeItem(cache, item)
		if err != nil {
			return nil, nil, xerrors.Errorf("transaction %d: %v", i, err)
		}

		if out.GetStatus().IsKeep() {
			err = execution.Apply(cache, out.GetWriteSet())
			if err != nil {
				return nil, nil, xerrors.Errorf(
					"failed to stage transaction %d: %v", i, err)
			}
		}

		if execution.ContainsEventKey(out.GetEvents(), NewEpochEventKey()) {
			a.logger.Info().Int("index", i).
				Msg("reconfiguration detected, retrying the remainder")

			restart = true
		}

		outputs = append(outputs, out)
		statuses = append(statuses, status)
	}

	promBlockTxs.Observe(float64(len(items)))

	return outputs, statuses, nil
}

// executeItem dispatches one block item to its execution path. The error is
// only non-nil for failures that must abort the whole block.
func (a *Adapter) executeItem(cache store.Readable,
	item txn.Item) (*vmstatus.Status, execution.Output, error) {

	switch it := item.(type) {
	case txn.BlockMetadata:
		return a.ProcessBlockMetadata(cache, it)
	case txn.WaypointWriteSet:
		return a.ProcessWaypointChangeSet(cache, it.Payload)
	case txn.StateCheckpoint:
		out := execution.NewOutput(execution.ChangeSet{}, 0,
			vmstatus.Keep(vmstatus.Success()))

		return nil, out, nil
	case *txn.Transaction:
		return a.executeUserItem(cache, it)
	default:
		return discardWithOutput(vmstatus.Newf(vmstatus.CodeUnreachable,
			"unknown block item %T", item))
	}
}

func (a *Adapter) executeUserItem(cache store.Readable,
	t *txn.Transaction) (*vmstatus.Status, execution.Output, error) {

	checked, err := t.CheckSignature()
	if err != nil {
		a.logger.Debug().Hex("transaction", t.GetID()).
			Msg("signature check failed")

		promUserTxs.WithLabelValues("discarded").Inc()

		return discardWithOutput(vmstatus.Newf(vmstatus.CodeInvalidSignature,
			"%v", err))
	}

	if _, ok := t.GetPayload().(txn.WriteSetPayload); ok {
		return a.processWriteSetTransaction(cache, checked)
	}

	status, out := a.ExecuteTransaction(cache, checked)

	if out.GetStatus().IsDiscard() {
		promUserTxs.WithLabelValues("discarded").Inc()
	} else {
		promUserTxs.WithLabelValues("kept").Inc()
	}

	return status, out, nil
}
