// Package txn defines the transaction abstraction consumed by the execution
// adapter.
//
// A transaction is created off chain, signed by its sender, and consumed by
// exactly one execution attempt. The payload is a closed union: a script, an
// entry function, a module bundle, or a privileged system write set. The
// sequence number acts as a replay protection for a unique identity.
package txn

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"

	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/crypto"
	"golang.org/x/xerrors"
)

// AddressLen is the byte length of an account address.
const AddressLen = 32

// Address is the identifier of an account.
type Address [AddressLen]byte

var (
	// VMAddress is the reserved sender of unsigned system transactions such
	// as the block prologue.
	VMAddress = Address{}

	// CoreAddress hosts the system modules invoked by the prologues and the
	// epilogues.
	CoreAddress = Address{AddressLen - 1: 1}
)

// AddressFromPublicKey derives the account address owned by the public key.
func AddressFromPublicKey(pk crypto.PublicKey) (Address, error) {
	data, err := pk.MarshalBinary()
	if err != nil {
		return Address{}, xerrors.Errorf("failed to marshal public key: %v", err)
	}

	h := crypto.NewSha256Factory().New()
	h.Write(data)

	addr := Address{}
	copy(addr[:], h.Sum(nil))

	return addr, nil
}

// String implements fmt.Stringer. It returns a shortened hexadecimal
// representation of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:4])
}

// Bytes returns the address as a slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// ModuleID is the fully qualified name of a module: the address it is
// published under and its name.
type ModuleID struct {
	Address Address
	Name    string
}

// String implements fmt.Stringer.
func (id ModuleID) String() string {
	return id.Address.String() + "::" + id.Name
}

// Payload is the closed union of the transaction payload kinds. The four
// implementations are Script, EntryFunction, ModuleBundle and
// WriteSetPayload.
type Payload interface {
	// Fingerprint writes a deterministic binary representation of the
	// payload.
	Fingerprint(w io.Writer) error

	isPayload()
}

// Script is a payload carrying a compiled script blob executed with the
// declared type arguments and arguments.
type Script struct {
	Code     []byte
	TypeArgs []string
	Args     [][]byte
}

func (Script) isPayload() {}

// Fingerprint implements txn.Payload.
func (s Script) Fingerprint(w io.Writer) error {
	_, err := w.Write(s.Code)
	if err != nil {
		return xerrors.Errorf("couldn't write code: %v", err)
	}

	for _, arg := range s.TypeArgs {
		_, err = w.Write([]byte(arg))
		if err != nil {
			return xerrors.Errorf("couldn't write type arg: %v", err)
		}
	}

	for _, arg := range s.Args {
		_, err = w.Write(arg)
		if err != nil {
			return xerrors.Errorf("couldn't write arg: %v", err)
		}
	}

	return nil
}

// EntryFunction is a payload resolving a published function by name and
// executing it.
type EntryFunction struct {
	Module   ModuleID
	Function string
	TypeArgs []string
	Args     [][]byte
}

func (EntryFunction) isPayload() {}

// Fingerprint implements txn.Payload.
func (f EntryFunction) Fingerprint(w io.Writer) error {
	_, err := w.Write(f.Module.Address.Bytes())
	if err != nil {
		return xerrors.Errorf("couldn't write module address: %v", err)
	}

	_, err = w.Write([]byte(f.Module.Name + "::" + f.Function))
	if err != nil {
		return xerrors.Errorf("couldn't write function: %v", err)
	}

	for _, arg := range f.TypeArgs {
		_, err = w.Write([]byte(arg))
		if err != nil {
			return xerrors.Errorf("couldn't write type arg: %v", err)
		}
	}

	for _, arg := range f.Args {
		_, err = w.Write(arg)
		if err != nil {
			return xerrors.Errorf("couldn't write arg: %v", err)
		}
	}

	return nil
}

// ModuleBundle is a payload publishing a list of compiled module blobs under
// the sender address.
type ModuleBundle struct {
	Modules [][]byte
}

func (ModuleBundle) isPayload() {}

// Fingerprint implements txn.Payload.
func (b ModuleBundle) Fingerprint(w io.Writer) error {
	for _, code := range b.Modules {
		_, err := w.Write(code)
		if err != nil {
			return xerrors.Errorf("couldn't write module: %v", err)
		}
	}

	return nil
}

// WriteSetScript is the scripted flavor of a system write set: a privileged
// script executed unmetered with an explicit execute-as address.
type WriteSetScript struct {
	Script    Script
	ExecuteAs Address
}

// WriteSetPayload is the privileged payload used for genesis, waypoints and
// emergency reconfiguration. Exactly one of Direct and Script is set.
type WriteSetPayload struct {
	// Direct is a pre-built change set applied as is.
	Direct *execution.ChangeSet

	// Script derives the change set by running a privileged script.
	Script *WriteSetScript
}

func (WriteSetPayload) isPayload() {}

// Fingerprint implements txn.Payload.
func (p WriteSetPayload) Fingerprint(w io.Writer) error {
	if p.Direct != nil {
		err := p.Direct.Fingerprint(w)
		if err != nil {
			return xerrors.Errorf("couldn't fingerprint change set: %v", err)
		}

		return nil
	}

	if p.Script != nil {
		_, err := w.Write(p.Script.ExecuteAs.Bytes())
		if err != nil {
			return xerrors.Errorf("couldn't write execute-as: %v", err)
		}

		err = p.Script.Script.Fingerprint(w)
		if err != nil {
			return xerrors.Errorf("couldn't fingerprint script: %v", err)
		}

		return nil
	}

	return xerrors.New("empty write set payload")
}

// TriggersReconfiguration returns true when applying the payload must notify
// a reconfiguration by default, which is the case for pre-built change sets.
func (p WriteSetPayload) TriggersReconfiguration() bool {
	return p.Direct != nil
}

// Transaction is a signed transaction. It is immutable once signed: the
// digest covers every field but the signature.
type Transaction struct {
	sender       Address
	secondary    []Address
	sequence     uint64
	payload      Payload
	maxGasAmount uint64
	gasUnitPrice uint64
	expiration   uint64
	chainID      uint64
	pubkey       crypto.PublicKey
	sig          crypto.Signature
	hash         []byte
	size         uint64
}

type template struct {
	Transaction

	hashFactory crypto.HashFactory
}

// TransactionOption is the type of options to create a transaction.
type TransactionOption func(*template)

// WithGas is an option to set the gas budget and the unit price.
func WithGas(maxAmount, unitPrice uint64) TransactionOption {
	return func(tmpl *template) {
		tmpl.maxGasAmount = maxAmount
		tmpl.gasUnitPrice = unitPrice
	}
}

// WithExpiration is an option to set the expiration timestamp in seconds.
func WithExpiration(ts uint64) TransactionOption {
	return func(tmpl *template) {
		tmpl.expiration = ts
	}
}

// WithChainID is an option to set the identifier of the target chain.
func WithChainID(id uint64) TransactionOption {
	return func(tmpl *template) {
		tmpl.chainID = id
	}
}

// WithSecondarySigners is an option to set the secondary signer addresses.
func WithSecondarySigners(addrs ...Address) TransactionOption {
	return func(tmpl *template) {
		tmpl.secondary = addrs
	}
}

// WithHashFactory is an option to set a different hash factory when creating
// a transaction.
func WithHashFactory(f crypto.HashFactory) TransactionOption {
	return func(tmpl *template) {
		tmpl.hashFactory = f
	}
}

// NewTransaction creates a new transaction from the sender with the provided
// sequence number and payload.
func NewTransaction(sender Address, sequence uint64, payload Payload,
	opts ...TransactionOption) (*Transaction, error) {

	if payload == nil {
		return nil, xerrors.New("missing payload in transaction")
	}

	tmpl := template{
		Transaction: Transaction{
			sender:   sender,
			sequence: sequence,
			payload:  payload,
		},
		hashFactory: crypto.NewSha256Factory(),
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	buffer := new(bytes.Buffer)

	err := tmpl.Fingerprint(buffer)
	if err != nil {
		return nil, xerrors.Errorf("couldn't fingerprint tx: %v", err)
	}

	h := tmpl.hashFactory.New()
	h.Write(buffer.Bytes())

	tmpl.hash = h.Sum(nil)
	tmpl.size = uint64(buffer.Len())

	return &tmpl.Transaction, nil
}

// GetID returns the unique identifier of the transaction.
func (t *Transaction) GetID() []byte {
	return append([]byte{}, t.hash...)
}

// GetSender returns the sender address.
func (t *Transaction) GetSender() Address {
	return t.sender
}

// GetSecondarySigners returns the secondary signer addresses.
func (t *Transaction) GetSecondarySigners() []Address {
	return append([]Address{}, t.secondary...)
}

// GetSequence returns the sequence number of the transaction which
// corresponds to the replay protection of the sender.
func (t *Transaction) GetSequence() uint64 {
	return t.sequence
}

// GetPayload returns the payload of the transaction.
func (t *Transaction) GetPayload() Payload {
	return t.payload
}

// GetMaxGasAmount returns the gas budget in units.
func (t *Transaction) GetMaxGasAmount() uint64 {
	return t.maxGasAmount
}

// GetGasUnitPrice returns the declared price per gas unit.
func (t *Transaction) GetGasUnitPrice() uint64 {
	return t.gasUnitPrice
}

// GetExpiration returns the expiration timestamp in seconds.
func (t *Transaction) GetExpiration() uint64 {
	return t.expiration
}

// GetChainID returns the identifier of the target chain.
func (t *Transaction) GetChainID() uint64 {
	return t.chainID
}

// GetSize returns the size of the deterministic representation of the
// transaction in bytes.
func (t *Transaction) GetSize() uint64 {
	return t.size
}

// GetPublicKey returns the public key of the sender, or nil when the
// transaction is not signed.
func (t *Transaction) GetPublicKey() crypto.PublicKey {
	return t.pubkey
}

// HasDuplicateSigners returns true when an address appears more than once
// among the sender and the secondary signers.
func (t *Transaction) HasDuplicateSigners() bool {
	seen := map[Address]struct{}{t.sender: {}}

	for _, addr := range t.secondary {
		_, ok := seen[addr]
		if ok {
			return true
		}

		seen[addr] = struct{}{}
	}

	return false
}

// Fingerprint writes a deterministic binary representation of the
// transaction, excluding the signature.
func (t *Transaction) Fingerprint(w io.Writer) error {
	_, err := w.Write(t.sender.Bytes())
	if err != nil {
		return xerrors.Errorf("couldn't write sender: %v", err)
	}

	for _, addr := range t.secondary {
		_, err = w.Write(addr.Bytes())
		if err != nil {
			return xerrors.Errorf("couldn't write signer: %v", err)
		}
	}

	buffer := make([]byte, 8)
	for _, value := range []uint64{t.sequence, t.maxGasAmount,
		t.gasUnitPrice, t.expiration, t.chainID} {

		binary.LittleEndian.PutUint64(buffer, value)

		_, err = w.Write(buffer)
		if err != nil {
			return xerrors.Errorf("couldn't write header: %v", err)
		}
	}

	err = t.payload.Fingerprint(w)
	if err != nil {
		return xerrors.Errorf("couldn't fingerprint payload: %v", err)
	}

	return nil
}

// Sign signs the transaction and stores the public key and the signature.
func (t *Transaction) Sign(signer crypto.Signer) error {
	if len(t.hash) == 0 {
		return xerrors.New("missing digest in transaction")
	}

	sig, err := signer.Sign(t.hash)
	if err != nil {
		return xerrors.Errorf("failed to sign: %v", err)
	}

	t.pubkey = signer.GetPublicKey()
	t.sig = sig

	return nil
}

// Checked is a transaction whose signature has been verified. It can only be
// obtained through CheckSignature so that the verification is performed
// exactly once, outside any session.
type Checked struct {
	*Transaction
}

// CheckSignature verifies the signature of the transaction against the
// public key, and that the sender address is owned by that key. The
// verification must happen exactly once per transaction.
func (t *Transaction) CheckSignature() (Checked, error) {
	if t.pubkey == nil || t.sig == nil {
		return Checked{}, xerrors.New("transaction is not signed")
	}

	err := t.pubkey.Verify(t.hash, t.sig)
	if err != nil {
		return Checked{}, xerrors.Errorf("invalid signature: %v", err)
	}

	addr, err := AddressFromPublicKey(t.pubkey)
	if err != nil {
		return Checked{}, xerrors.Errorf("failed to derive address: %v", err)
	}

	if addr != t.sender {
		return Checked{}, xerrors.New("sender is not owned by the public key")
	}

	return Checked{Transaction: t}, nil
}
