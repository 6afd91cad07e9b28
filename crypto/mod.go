// Package crypto defines the cryptographic primitives needed by the
// transaction execution adapter.
//
// A transaction is signed by the identity submitting it. The adapter only
// needs to verify a signature against a public key and to hash deterministic
// byte representations, so the interfaces stay minimal.
package crypto

import (
	"crypto/sha256"
	"encoding"
	"hash"
)

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// PublicKey is a public identity that can be used to verify a signature.
type PublicKey interface {
	encoding.BinaryMarshaler

	// Verify returns nil if the signature matches the message for this
	// public key.
	Verify(msg []byte, signature Signature) error

	// Equal returns true when the other public key is equal.
	Equal(other interface{}) bool
}

// Signature is a verifiable element for a unique message.
type Signature interface {
	encoding.BinaryMarshaler

	// Equal returns true when the other signature is equal.
	Equal(other Signature) bool
}

// Signer provides the primitives to sign and verify signatures.
type Signer interface {
	GetPublicKey() PublicKey

	Sign(msg []byte) (Signature, error)
}

// hashFactory is a hash factory that is using the SHA-256 algorithm.
//
// - implements crypto.HashFactory
type hashFactory struct{}

// NewSha256Factory returns a new instance of the factory.
func NewSha256Factory() HashFactory {
	return hashFactory{}
}

// New implements crypto.HashFactory. It returns a new SHA-256 instance.
func (f hashFactory) New() hash.Hash {
	return sha256.New()
}
