// This file contains the immutable projection of a transaction used
// throughout one execution attempt.

package txn

// Metadata is a read-only view over a transaction plus derived fields. It is
// created at the start of an execution attempt and never mutated; a retried
// attempt reconstructs it fresh.
type Metadata struct {
	ID               []byte
	Sender           Address
	SecondarySigners []Address
	Sequence         uint64
	MaxGasAmount     uint64
	GasUnitPrice     uint64
	Expiration       uint64
	ChainID          uint64
	Size             uint64
}

// NewMetadata derives the metadata of the transaction.
func NewMetadata(t *Transaction) Metadata {
	return Metadata{
		ID:               t.GetID(),
		Sender:           t.GetSender(),
		SecondarySigners: t.GetSecondarySigners(),
		Sequence:         t.GetSequence(),
		MaxGasAmount:     t.GetMaxGasAmount(),
		GasUnitPrice:     t.GetGasUnitPrice(),
		Expiration:       t.GetExpiration(),
		ChainID:          t.GetChainID(),
		Size:             t.GetSize(),
	}
}

// NewSystemMetadata returns the metadata of an unsigned, unmetered system
// transaction executed under the reserved sender.
func NewSystemMetadata(id []byte) Metadata {
	return Metadata{
		ID:     id,
		Sender: VMAddress,
	}
}

// Signers returns the effective signer list: the sender followed by the
// secondary signers, in that fixed order.
func (m Metadata) Signers() []Address {
	signers := make([]Address, 0, 1+len(m.SecondarySigners))
	signers = append(signers, m.Sender)
	signers = append(signers, m.SecondarySigners...)

	return signers
}
