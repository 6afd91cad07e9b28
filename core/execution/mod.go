// Package execution defines the outcome of a transaction execution: the
// write set and the events accumulated by a session, and the final output
// handed to the ordering layer.
//
// Writes are never applied while a transaction runs. They are buffered by
// the virtual machine session and finalized into an immutable change set,
// which the caller applies to durable storage in block order. This is what
// provides the read-your-writes guarantee across a block.
package execution

import (
	"encoding/binary"
	"io"

	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/vmstatus"
	"golang.org/x/xerrors"
)

// Write is a single state mutation: a value assignment, or a deletion when
// Deleted is set.
type Write struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// WriteSet is a frozen, ordered collection of writes with unique keys.
type WriteSet struct {
	writes []Write
}

// NewWriteSet freezes the writes into a write set. It returns an error when
// two writes share the same key.
func NewWriteSet(writes ...Write) (WriteSet, error) {
	seen := make(map[string]struct{}, len(writes))

	for _, w := range writes {
		key := string(w.Key)

		_, ok := seen[key]
		if ok {
			return WriteSet{}, xerrors.Errorf("duplicate key '%x'", w.Key)
		}

		seen[key] = struct{}{}
	}

	return WriteSet{writes: writes}, nil
}

// Len returns the number of writes.
func (ws WriteSet) Len() int {
	return len(ws.writes)
}

// GetWrites returns the ordered writes of the set.
func (ws WriteSet) GetWrites() []Write {
	return append([]Write{}, ws.writes...)
}

// Disjoint returns true when no key appears in both write sets.
func (ws WriteSet) Disjoint(other WriteSet) bool {
	keys := make(map[string]struct{}, len(ws.writes))
	for _, w := range ws.writes {
		keys[string(w.Key)] = struct{}{}
	}

	for _, w := range other.writes {
		_, ok := keys[string(w.Key)]
		if ok {
			return false
		}
	}

	return true
}

// MergeWriteSets freezes the writes of both sets into a single one, with the
// writes of the first set ordered before the writes of the second. It
// returns an error when the sets are not disjoint.
func MergeWriteSets(first, second WriteSet) (WriteSet, error) {
	writes := make([]Write, 0, len(first.writes)+len(second.writes))
	writes = append(writes, first.writes...)
	writes = append(writes, second.writes...)

	return NewWriteSet(writes...)
}

// Apply writes the set to the snapshot, in order.
func Apply(snap store.Snapshot, ws WriteSet) error {
	for _, w := range ws.writes {
		var err error
		if w.Deleted {
			err = snap.Delete(w.Key)
		} else {
			err = snap.Set(w.Key, w.Value)
		}

		if err != nil {
			return xerrors.Errorf("failed to apply key '%x': %v", w.Key, err)
		}
	}

	return nil
}

// Event is an element of the ordered event log emitted by an execution.
type Event struct {
	Key      []byte
	Sequence uint64
	Data     []byte
}

// EventKeysDisjoint returns true when no event key appears in both lists.
func EventKeysDisjoint(a, b []Event) bool {
	keys := make(map[string]struct{}, len(a))
	for _, ev := range a {
		keys[string(ev.Key)] = struct{}{}
	}

	for _, ev := range b {
		_, ok := keys[string(ev.Key)]
		if ok {
			return false
		}
	}

	return true
}

// ContainsEventKey returns true when one of the events uses the key.
func ContainsEventKey(events []Event, key []byte) bool {
	for _, ev := range events {
		if string(ev.Key) == string(key) {
			return true
		}
	}

	return false
}

// ChangeSet is the finalized, immutable result of a session: the write set
// and the ordered events. After a session is finished into a change set, the
// session must not be used again.
type ChangeSet struct {
	writes WriteSet
	events []Event
}

// NewChangeSet creates a change set from a frozen write set and events.
func NewChangeSet(writes WriteSet, events []Event) ChangeSet {
	return ChangeSet{
		writes: writes,
		events: events,
	}
}

// GetWriteSet returns the write set.
func (cs ChangeSet) GetWriteSet() WriteSet {
	return cs.writes
}

// GetEvents returns the ordered events.
func (cs ChangeSet) GetEvents() []Event {
	return append([]Event{}, cs.events...)
}

// Fingerprint writes a deterministic binary representation of the change
// set.
func (cs ChangeSet) Fingerprint(w io.Writer) error {
	buffer := make([]byte, 8)

	for _, wr := range cs.writes.writes {
		_, err := w.Write(wr.Key)
		if err != nil {
			return xerrors.Errorf("couldn't write key: %v", err)
		}

		if wr.Deleted {
			_, err = w.Write([]byte{1})
		} else {
			_, err = w.Write(wr.Value)
		}

		if err != nil {
			return xerrors.Errorf("couldn't write value: %v", err)
		}
	}

	for _, ev := range cs.events {
		_, err := w.Write(ev.Key)
		if err != nil {
			return xerrors.Errorf("couldn't write event key: %v", err)
		}

		binary.LittleEndian.PutUint64(buffer, ev.Sequence)

		_, err = w.Write(buffer)
		if err != nil {
			return xerrors.Errorf("couldn't write sequence: %v", err)
		}

		_, err = w.Write(ev.Data)
		if err != nil {
			return xerrors.Errorf("couldn't write event data: %v", err)
		}
	}

	return nil
}

// Output is the final, externally visible result of a transaction attempt.
type Output struct {
	writes  WriteSet
	events  []Event
	gasUsed uint64
	status  vmstatus.TransactionStatus
}

// NewOutput creates the output of a kept transaction from the change set of
// its final session.
func NewOutput(cs ChangeSet, gasUsed uint64, status vmstatus.TransactionStatus) Output {
	return Output{
		writes:  cs.writes,
		events:  cs.events,
		gasUsed: gasUsed,
		status:  status,
	}
}

// NewDiscardOutput creates the empty output of a discarded transaction.
func NewDiscardOutput(reason vmstatus.Code) Output {
	return Output{
		status: vmstatus.Discard(reason),
	}
}

// NewRetryOutput creates the empty output of a transaction that was not
// executed because of an earlier reconfiguration in the block.
func NewRetryOutput() Output {
	return Output{
		status: vmstatus.Retry(),
	}
}

// GetWriteSet returns the write set of the output.
func (out Output) GetWriteSet() WriteSet {
	return out.writes
}

// GetEvents returns the events of the output.
func (out Output) GetEvents() []Event {
	return append([]Event{}, out.events...)
}

// GetGasUsed returns the units of gas consumed by the attempt.
func (out Output) GetGasUsed() uint64 {
	return out.gasUsed
}

// GetStatus returns the classification of the transaction.
func (out Output) GetStatus() vmstatus.TransactionStatus {
	return out.status
}
