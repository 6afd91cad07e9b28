// This file contains the union of the elements an ordering service can put
// in a block: user transactions and the system transactions injected around
// them.

package txn

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// Item is an element of a block. The implementations are *Transaction,
// BlockMetadata, WaypointWriteSet and StateCheckpoint.
type Item interface {
	isItem()
}

func (*Transaction) isItem() {}

// BlockMetadata is the unsigned system transaction executed once per block
// before any user transaction. Its execution invokes the block prologue with
// the metadata as arguments under the reserved sender.
type BlockMetadata struct {
	ID              []byte
	Epoch           uint64
	Round           uint64
	Proposer        Address
	PreviousVotes   []byte
	FailedProposers []uint32
	Timestamp       uint64
}

func (BlockMetadata) isItem() {}

// Fingerprint writes a deterministic binary representation of the block
// metadata.
func (bm BlockMetadata) Fingerprint(w io.Writer) error {
	_, err := w.Write(bm.ID)
	if err != nil {
		return xerrors.Errorf("couldn't write id: %v", err)
	}

	buffer := make([]byte, 8)
	for _, value := range []uint64{bm.Epoch, bm.Round, bm.Timestamp} {
		binary.LittleEndian.PutUint64(buffer, value)

		_, err = w.Write(buffer)
		if err != nil {
			return xerrors.Errorf("couldn't write header: %v", err)
		}
	}

	_, err = w.Write(bm.Proposer.Bytes())
	if err != nil {
		return xerrors.Errorf("couldn't write proposer: %v", err)
	}

	return nil
}

// PrologueArgs returns the serialized arguments of the block prologue entry
// point, prefixed by the reserved sender as the sole signer.
func (bm BlockMetadata) PrologueArgs() [][]byte {
	args := [][]byte{
		VMAddress.Bytes(),
		encodeUint64(bm.Epoch),
		encodeUint64(bm.Round),
		bm.Proposer.Bytes(),
		encodeUint64(bm.Timestamp),
		bm.PreviousVotes,
	}

	failed := make([]byte, 4*len(bm.FailedProposers))
	for i, idx := range bm.FailedProposers {
		binary.LittleEndian.PutUint32(failed[i*4:], idx)
	}

	return append(args, failed)
}

func encodeUint64(value uint64) []byte {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, value)

	return buffer
}

// WaypointWriteSet is the system transaction carrying the authoritative
// write set of a reconfiguration boundary, used for genesis and waypoints.
type WaypointWriteSet struct {
	Payload WriteSetPayload
}

func (WaypointWriteSet) isItem() {}

// StateCheckpoint is a no-op transaction producing an empty successful
// output, used as a block boundary sentinel.
type StateCheckpoint struct{}

func (StateCheckpoint) isItem() {}
