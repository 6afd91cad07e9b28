// Package kv defines the abstraction for the durable key/value database that
// receives the write sets produced by the execution adapter.
//
// The package also implements a default database implementation that is
// using bbolt as the engine (https://github.com/etcd-io/bbolt).
package kv

import "go.dedis.ch/driva/core/store"

// Bucket is a general interface to operate on a database bucket.
type Bucket interface {
	// Get reads the key from the bucket and returns the value, or nil if the
	// key does not exist.
	Get(key []byte) []byte

	// Set assigns the value to the provided key.
	Set(key, value []byte) error

	// Delete deletes the key from the bucket.
	Delete(key []byte) error

	// ForEach iterates over all the items in the bucket in an unspecified
	// order. The iteration stops when the callback returns an error.
	ForEach(func(k, v []byte) error) error

	// Scan iterates over every key that matches the prefix in an order
	// determined by the implementation. The iteration stops when the
	// callback returns an error.
	Scan(prefix []byte, fn func(k, v []byte) error) error
}

// DB is a general interface to operate over a key/value database.
type DB interface {
	// View executes the provided read-only transaction in the context of the
	// bucket.
	View(bucket []byte, fn func(Bucket) error) error

	// Update executes the provided writable transaction in the context of
	// the bucket, creating it when necessary.
	Update(bucket []byte, fn func(Bucket) error) error

	// Close closes the database and frees the resources.
	Close() error
}

// bucketSnapshot is an adapter of a bucket to the store abstractions, so
// that a finished write set can be applied to the database within one
// atomic update.
//
// - implements store.Snapshot
type bucketSnapshot struct {
	bucket Bucket
}

// NewSnapshot wraps the bucket into a store snapshot.
func NewSnapshot(bucket Bucket) store.Snapshot {
	return bucketSnapshot{bucket: bucket}
}

// Get implements store.Readable.
func (snap bucketSnapshot) Get(key []byte) ([]byte, error) {
	return snap.bucket.Get(key), nil
}

// Set implements store.Writable.
func (snap bucketSnapshot) Set(key, value []byte) error {
	return snap.bucket.Set(key, value)
}

// Delete implements store.Writable.
func (snap bucketSnapshot) Delete(key []byte) error {
	return snap.bucket.Delete(key)
}
