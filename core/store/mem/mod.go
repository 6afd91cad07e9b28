// Package mem provides an in-memory snapshot that stacks on top of a
// read-only parent.
//
// It is used as the block-level cache of the execution adapter: the writes
// of every kept transaction are staged in the snapshot so that the following
// transactions of the same block observe them, while the committed state
// below stays untouched.
package mem

import "go.dedis.ch/driva/core/store"

// Snapshot is an in-memory layer on top of a readable parent. It keeps the
// updates in an internal map and falls back to the parent when reading a key
// that has not been written.
//
// - implements store.Snapshot
type Snapshot struct {
	parent  store.Readable
	values  map[string][]byte
	deleted map[string]struct{}
}

// NewSnapshot creates a new empty snapshot on top of the parent. A nil
// parent behaves like an empty committed state.
func NewSnapshot(parent store.Readable) *Snapshot {
	return &Snapshot{
		parent:  parent,
		values:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Get implements store.Readable. It returns the staged value if the key has
// been written, otherwise the value from the parent.
func (snap *Snapshot) Get(key []byte) ([]byte, error) {
	str := string(key)

	if _, ok := snap.deleted[str]; ok {
		return nil, nil
	}

	val, ok := snap.values[str]
	if ok {
		return val, nil
	}

	if snap.parent == nil {
		return nil, nil
	}

	return snap.parent.Get(key)
}

// Set implements store.Writable. It stages the value for the key.
func (snap *Snapshot) Set(key, value []byte) error {
	str := string(key)

	delete(snap.deleted, str)
	snap.values[str] = value

	return nil
}

// Delete implements store.Writable. It stages a deletion of the key.
func (snap *Snapshot) Delete(key []byte) error {
	str := string(key)

	delete(snap.values, str)
	snap.deleted[str] = struct{}{}

	return nil
}
