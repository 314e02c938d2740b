// Package xcrypto implements the cryptographic primitives the wallet core
// treats as an opaque collaborator: key generation, Diffie-Hellman-style
// key derivation, one-time output key derivation, key images, and
// signing. See curve.go for the scalar-multiplication ladder these build
// on, and signature.go for the signing layer.
package xcrypto

import (
	"crypto/sha512"
	"encoding/binary"
	"math/big"

	"github.com/NebulousLabs/fastrand"
)

const (
	// KeySize is the byte width of a PublicKey, SecretKey or Derivation.
	KeySize = 32
)

type (
	// SecretKey is a scalar modulo the group order, little-endian encoded.
	SecretKey [KeySize]byte

	// PublicKey is a Curve25519 u-coordinate, little-endian encoded.
	PublicKey [KeySize]byte

	// Derivation is the shared secret produced by KeyDerivation: a
	// Curve25519 point shared between a transaction's ephemeral keypair
	// and an account's view keypair.
	Derivation [KeySize]byte

	// KeyImage uniquely identifies a spent one-time output; see
	// GenerateKeyImage.
	KeyImage [KeySize]byte
)

func bigFromLE(b []byte) *big.Int {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(rev)
}

// leFromBig encodes n as a little-endian, zero-padded KeySize-byte array.
func leFromBig(n *big.Int) [KeySize]byte {
	var res [KeySize]byte
	b := n.Bytes() // big-endian, no leading zeros
	count := len(b)
	if count > KeySize {
		count = KeySize
	}
	for i := 0; i < count; i++ {
		res[i] = b[len(b)-1-i]
	}
	return res
}

// GenerateKeyPair creates a fresh random secret/public keypair using the
// package CSPRNG (fastrand).
func GenerateKeyPair() (SecretKey, PublicKey) {
	var seed [64]byte
	fastrand.Read(seed[:])
	return generateKeyPairFromSeed(seed[:])
}

// GenerateKeyPairDeterministic derives a secret/public keypair from 32
// bytes of caller-supplied entropy, e.g. a wallet seed plus address
// index. Used by subscription address derivation so that re-deriving the
// same index always yields the same keys.
func GenerateKeyPairDeterministic(entropy [32]byte) (SecretKey, PublicKey) {
	h := sha512.Sum512(entropy[:])
	return generateKeyPairFromSeed(h[:])
}

func generateKeyPairFromSeed(seed []byte) (SecretKey, PublicKey) {
	h := sha512.Sum512(seed)
	s := new(big.Int).Mod(bigFromLE(h[:32]), curveOrder)
	var sk SecretKey = leFromBig(s)
	pk := ScalarMultBase(sk)
	return sk, pk
}

// PublicKey returns the public key corresponding to a secret key.
func (sk SecretKey) PublicKey() PublicKey {
	return ScalarMultBase(sk)
}

// IsZero reports whether sk is the all-zero secret key, the sentinel used
// to mark a tracking account (no spend secret).
func (sk SecretKey) IsZero() bool {
	return sk == SecretKey{}
}

// ScalarMultBase computes sk*G, the base-point scalar multiplication used
// to turn a secret scalar into its public key.
func ScalarMultBase(sk SecretKey) PublicKey {
	r := scalarMultLadder(bigFromLE(sk[:]), baseU)
	return PublicKey(leFromBig(r))
}

// ScalarMult computes sk*pk, generic point scalar multiplication.
func ScalarMult(sk SecretKey, pk PublicKey) PublicKey {
	r := scalarMultLadder(bigFromLE(sk[:]), bigFromLE(pk[:]))
	return PublicKey(leFromBig(r))
}

// KeyDerivation computes the Diffie-Hellman shared secret between a
// public key and a secret key. It is symmetric:
// KeyDerivation(txPublicKey, viewSecretKey) ==
// KeyDerivation(viewPublicKey, txSecretKey) whenever txPublicKey =
// txSecretKey.PublicKey() and viewPublicKey = viewSecretKey.PublicKey().
func KeyDerivation(pk PublicKey, sk SecretKey) Derivation {
	return Derivation(ScalarMult(sk, pk))
}

// HashToScalar hashes an arbitrary sequence of byte strings into a scalar
// modulo the group order (the "Hs" function of the CryptoNote papers).
func HashToScalar(parts ...[]byte) SecretKey {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	sum := h.Sum(nil)
	s := new(big.Int).Mod(bigFromLE(sum[:32]), curveOrder)
	return SecretKey(leFromBig(s))
}

func indexBytes(idx uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], idx)
	return b[:]
}

// DeriveSecretKey computes the one-time secret key owned by an account
// for output index idx of a transaction with the given shared derivation,
// given the account's base spend secret key. Requires a non-tracking
// account (base must not be the zero key).
func DeriveSecretKey(d Derivation, idx uint64, base SecretKey) SecretKey {
	h := HashToScalar(d[:], indexBytes(idx))
	s := new(big.Int).Mod(new(big.Int).Mul(bigFromLE(base[:]), bigFromLE(h[:])), curveOrder)
	return SecretKey(leFromBig(s))
}

// DerivePublicKey computes the expected one-time public key for output
// index idx of a transaction with the given shared derivation, given the
// account's base spend public key. Works for tracking accounts too, since
// it needs only the spend *public* key:
//
//	DerivePublicKey(d, idx, base.PublicKey()) == DeriveSecretKey(d, idx, base).PublicKey()
func DerivePublicKey(d Derivation, idx uint64, base PublicKey) PublicKey {
	h := HashToScalar(d[:], indexBytes(idx))
	return ScalarMult(h, base)
}

// GenerateKeyImage computes the key image of a one-time output, given its
// public and secret keys. Two outputs that share a one-time key (the
// collision case handled by TransfersContainer) always produce equal key
// images, and a key image never changes for a given keypair — the two
// algebraic laws the container's spend bookkeeping depends on.
func GenerateKeyImage(pub PublicKey, sec SecretKey) KeyImage {
	hp := HashToScalar(pub[:]).PublicKey()
	return KeyImage(ScalarMult(sec, hp))
}

// SecureWipe zeroes a secret key in place.
func (sk *SecretKey) SecureWipe() {
	for i := range sk {
		sk[i] = 0
	}
}

// RandomBytes returns n cryptographically random bytes; the stub node
// draws its block and transaction hashes from it.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	fastrand.Read(b)
	return b
}
