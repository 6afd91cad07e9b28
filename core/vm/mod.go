// Package vm defines the contract of the bytecode virtual machine consumed
// by the execution adapter.
//
// The machine is a black box: it executes scripts and functions, buffers
// state writes and events in a session, and reports structured statuses. No
// effect of a session is visible outside of it before Finish is called. The
// errors returned by the machine must be, or wrap, a *vmstatus.Status.
package vm

import (
	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/core/gas"
	"go.dedis.ch/driva/core/store"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/crypto"
)

// Session is a scoped handle into the machine, bound to a resolver snapshot
// for one logical unit of work. It accumulates reads, writes and events, and
// at most one pending publish request. Finish consumes the session: any use
// afterwards is an error.
type Session interface {
	// LoadScript loads and verifies a script blob against its declared type
	// arguments, returning the entry function descriptor.
	LoadScript(code []byte, typeArgs []string) (Function, error)

	// LoadFunction resolves a published function by name.
	LoadFunction(id txn.ModuleID, name string, typeArgs []string) (Function, error)

	// LoadModule resolves a published module by its fully qualified name.
	LoadModule(id txn.ModuleID) (Module, error)

	// ExecuteScript runs the script with the given arguments, charging the
	// meter for every step.
	ExecuteScript(code []byte, typeArgs []string, args [][]byte, meter gas.Meter) error

	// ExecuteEntryFunction runs a published entry function.
	ExecuteEntryFunction(id txn.ModuleID, name string, typeArgs []string,
		args [][]byte, meter gas.Meter) error

	// InvokeFunction runs a function regardless of its visibility. It is
	// reserved for the protocol entry points and module initializers.
	InvokeFunction(id txn.ModuleID, name string, typeArgs []string,
		args [][]byte, meter gas.Meter) error

	// PublishModules publishes the module blobs under the destination
	// address with full backward compatibility checking.
	PublishModules(modules [][]byte, destination txn.Address, meter gas.Meter) error

	// PublishModulesRelaxed publishes the module blobs with the relaxed,
	// upgrade-compatible-only checking.
	PublishModulesRelaxed(modules [][]byte, destination txn.Address, meter gas.Meter) error

	// ExtractPublishRequest takes the pending publish request registered by
	// the executed code, or nil. The request is cleared by the call.
	ExtractPublishRequest() *PublishRequest

	// Finish consumes the session and converts the accumulated effects into
	// an immutable change set.
	Finish() (execution.ChangeSet, error)
}

// Function describes the declared signature of a loaded function, as far as
// the adapter needs it to validate arguments.
type Function interface {
	// SignerParams returns the number of leading signer parameters.
	SignerParams() int

	// Params returns the total number of parameters, signers included.
	Params() int
}

// Module describes a deserialized module.
type Module interface {
	// ID returns the fully qualified name the module declares for itself.
	ID() txn.ModuleID
}

// Machine is the interface of the bytecode virtual machine.
type Machine interface {
	// NewSession opens a session bound to the resolver snapshot under the
	// given identifier.
	NewSession(resolver store.Readable, id SessionID) Session

	// DeserializeModule decodes a compiled module blob.
	DeserializeModule(code []byte) (Module, error)

	// VerifyModuleInit checks that the module initializer satisfies the
	// constraints: not externally callable and no return value.
	VerifyModuleInit(m Module) error
}

// PublishRequest is a deferred module publication registered during an
// execution through the native publish hook.
type PublishRequest struct {
	// Destination is the address to publish under, not necessarily the
	// transaction sender.
	Destination txn.Address

	// Modules are the compiled module blobs of the bundle.
	Modules [][]byte

	// ExpectedModules is the set of module names the caller claims to
	// publish. It must match the actual bundle exactly.
	ExpectedModules []string

	// CheckCompat requests full backward compatibility checking.
	CheckCompat bool
}

// SessionID identifies a session. Two sessions with colliding identifiers
// must represent two attempts at executing the same logical transaction; a
// collision across different logical transactions is a protocol violation,
// which the domain tags below rule out by construction.
type SessionID [32]byte

// Domain separates the session identifier spaces.
type Domain string

const (
	// DomainTransaction tags sessions of user transactions, derived from
	// the transaction digest.
	DomainTransaction Domain = "txn"

	// DomainBlockMetadata tags sessions of block prologues.
	DomainBlockMetadata Domain = "block-metadata"

	// DomainGenesis tags sessions of genesis and waypoint write sets.
	DomainGenesis Domain = "genesis"

	// DomainWriteSetEpilogue tags the epilogue sessions of system write set
	// transactions.
	DomainWriteSetEpilogue Domain = "writeset-epilogue"
)

// NewSessionID derives the session identifier for the domain and the
// identity data, deterministically.
func NewSessionID(domain Domain, data []byte) SessionID {
	h := crypto.NewSha256Factory().New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(data)

	id := SessionID{}
	copy(id[:], h.Sum(nil))

	return id
}
