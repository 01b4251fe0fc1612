// Package cryptoprovider defines the capability set the protocol core
// consumes for cryptography, and a concrete stdlib-backed implementation in
// the stdprovider subpackage. The core never imports a concrete crypto
// library directly; it depends only on Provider.
package cryptoprovider

import (
	"github.com/dmtf-spdm/go-spdm/protocol"
)

// Secret is a byte slice carrying key material. Zero must be called once the
// holder is done with it; it overwrites the backing array before the slice
// is dropped.
type Secret []byte

// Zero overwrites s in place with zero bytes.
func (s Secret) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// Digester is an incremental hash, mirroring hash.Hash but scoped to the
// subset the core needs.
type Digester interface {
	Write(p []byte)
	Sum() []byte
	Reset()
}

// Hasher constructs a Digester for one BaseHashAlgo.
type Hasher interface {
	NewDigester(algo protocol.BaseHashAlgo) (Digester, error)
	Hash(algo protocol.BaseHashAlgo, data []byte) ([]byte, error)
}

// HMACer computes and verifies HMAC tags.
type HMACer interface {
	HMAC(algo protocol.BaseHashAlgo, key, data []byte) ([]byte, error)
}

// HKDFer implements RFC 5869 Extract/Expand over the negotiated hash.
type HKDFer interface {
	Extract(algo protocol.BaseHashAlgo, salt, ikm []byte) (Secret, error)
	Expand(algo protocol.BaseHashAlgo, prk Secret, label string, length int) (Secret, error)
}

// AEAD encrypts and decrypts secured-message records.
type AEAD interface {
	Seal(suite protocol.AEADCipherSuite, key, iv, aad, plaintext []byte) (ciphertext []byte, err error)
	Open(suite protocol.AEADCipherSuite, key, iv, aad, ciphertext []byte) (plaintext []byte, err error)
}

// KeyExchanger performs one side of an (EC)DHE exchange for one DHEGroup.
type KeyExchanger interface {
	// GenerateKeyPair returns this side's ephemeral public value and an
	// opaque private handle to be passed to ComputeSecret.
	GenerateKeyPair(group protocol.DHEGroup) (public []byte, private any, err error)
	ComputeSecret(group protocol.DHEGroup, private any, peerPublic []byte) (Secret, error)
}

// Signer produces and verifies asymmetric signatures over a digest.
type Signer interface {
	Sign(algo protocol.BaseAsymAlgo, privateKey any, digest []byte) (sig []byte, err error)
	Verify(algo protocol.BaseAsymAlgo, publicKey any, digest, sig []byte) error
}

// Randomizer supplies cryptographically secure random bytes.
type Randomizer interface {
	Random(n int) ([]byte, error)
}

// X509Validator validates a leaf certificate against a chain and a set of
// trusted root digests. It is a distinct capability per §6, but bundled into
// Provider for construction convenience; stdprovider implements both.
type X509Validator interface {
	// ParseLeaf returns the leaf certificate's public key, suitable for
	// Signer.Verify.
	ParseLeaf(chain []byte) (publicKey any, err error)
	// VerifyChain checks the chain parses, chains to one of trustedRootDigests
	// (digests of the DER root certificate, under rootHash), and is currently
	// valid.
	VerifyChain(chain []byte, trustedRootDigests [][]byte, rootHash protocol.BaseHashAlgo) error
}

// Provider bundles every capability the core consumes. An endpoint is
// constructed with exactly one Provider; the core never reaches around it
// for a concrete library.
type Provider interface {
	Hasher
	HMACer
	HKDFer
	AEAD
	KeyExchanger
	Signer
	Randomizer
	X509Validator
}
