// Package store defines the primitives of the state storage seen by the
// execution adapter.
//
// A transaction executes against a read-only resolver which is a consistent
// snapshot of the committed state. Writes are never applied directly: they
// are buffered by the virtual machine session and returned as a change set
// that the caller applies in block order.
package store

// Readable is the interface for a readable store. It is the resolver
// abstraction given to an execution attempt: it must never mutate and it
// must stay consistent for the lifetime of a session.
type Readable interface {
	Get(key []byte) ([]byte, error)
}

// Writable is the interface for a writable store.
type Writable interface {
	Set(key []byte, value []byte) error

	Delete(key []byte) error
}

// Snapshot is a state of the store that can be read and written
// independently. A write is applied only to the snapshot reference.
type Snapshot interface {
	Readable
	Writable
}

// Transaction is a generic interface that store implementations can use to
// provide atomicity.
type Transaction interface {
	// OnCommit adds a callback to be executed after the transaction
	// successfully commits.
	OnCommit(func())
}
