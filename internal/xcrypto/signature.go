package xcrypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
)

// Signature proves that the holder of a SecretKey authorized a message
// (in practice, a serialized transaction prefix). Ring signatures proper
// (one signature that anonymizes the real spender among decoys) are
// treated as opaque primitive crypto out of scope here; this module
// provides the single- and multi-signature primitives the wallet
// engine's input-signing calls need (signInputKey / signInputMultisignature),
// each backed by standard ed25519.
type Signature [ed25519.SignatureSize]byte

// ErrInvalidSignature is returned by VerifyWithEd25519PublicKey when a signature does not
// match the given message and public key.
var ErrInvalidSignature = errors.New("xcrypto: invalid signature")

// ed25519SeedFor deterministically derives an ed25519 signing seed from a
// Curve25519 SecretKey, so that the same account secret always produces
// the same signing keypair.
func ed25519SeedFor(sk SecretKey) []byte {
	h := sha512.Sum512(append([]byte("xcrypto-ed25519-seed"), sk[:]...))
	return h[:ed25519.SeedSize]
}

// Sign signs message with sk, returning a signature that
// VerifyWithEd25519PublicKey accepts for Ed25519PublicKey(sk).
func Sign(sk SecretKey, message []byte) Signature {
	priv := ed25519.NewKeyFromSeed(ed25519SeedFor(sk))
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, message))
	return sig
}

// Ed25519PublicKey returns the ed25519 public key that corresponds to a
// secret key, for use by counterparties who only ever see the signature
// and must verify it (they derive this once, e.g. at ring-construction
// time, from the same account's advertised keys).
func Ed25519PublicKey(sk SecretKey) ed25519.PublicKey {
	priv := ed25519.NewKeyFromSeed(ed25519SeedFor(sk))
	return priv.Public().(ed25519.PublicKey)
}

// VerifyWithEd25519PublicKey checks sig against message using an ed25519
// public key previously obtained via Ed25519PublicKey.
func VerifyWithEd25519PublicKey(pub ed25519.PublicKey, message []byte, sig Signature) error {
	if !ed25519.Verify(pub, message, sig[:]) {
		return ErrInvalidSignature
	}
	return nil
}
