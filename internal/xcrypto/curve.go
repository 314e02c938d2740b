package xcrypto

import "math/big"

// This file implements the minimal Curve25519 scalar-multiplication ladder
// the rest of the package needs. Real CryptoNote clients use a full
// Ed25519/Curve25519 library (ring signatures, hash-to-point); per the
// spec, the curve/primitive crypto is an opaque collaborator with
// documented algebraic laws (symmetric Diffie-Hellman key agreement,
// deterministic one-time key derivation, deterministic key images). This
// file provides exactly those laws using the textbook Curve25519
// Montgomery-ladder scalar multiplication (RFC 7748 §5), implemented over
// math/big rather than x/crypto/curve25519's fixed-width clamp-enforcing
// API, so that scalar multiplication stays associative and composable the
// way the derivation formulas below require.

var (
	// curveP is the Curve25519 field prime 2^255 - 19.
	curveP = mustBig("57896044618658097711785492504343953926634992332820282019728792003956564819949")
	// curveA24 is (486662-2)/4, the Montgomery-ladder constant a24.
	curveA24 = big.NewInt(121665)
	// curveOrder is the order L of the prime-order subgroup generated by
	// the base point, used to reduce scalars.
	curveOrder = mustBig("7237005577332262213973186563042994240857116359379907606001950938285454250989")
	// baseU is the u-coordinate of the conventional Curve25519 base point.
	baseU = big.NewInt(9)
)

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("xcrypto: bad constant " + s)
	}
	return n
}

// scalarMultLadder computes k*u on the Curve25519 Montgomery curve using
// the x-coordinate-only ladder from RFC 7748 §5. k and u are reduced mod
// curveOrder and curveP respectively before use; the result is a
// u-coordinate in [0, curveP).
func scalarMultLadder(k, u *big.Int) *big.Int {
	k = new(big.Int).Mod(k, curveOrder)
	x1 := new(big.Int).Mod(u, curveP)
	x2, z2 := big.NewInt(1), big.NewInt(0)
	x3, z3 := new(big.Int).Set(x1), big.NewInt(1)
	swap := 0

	bits := k.BitLen()
	for t := bits - 1; t >= 0; t-- {
		kt := int(k.Bit(t))
		swap ^= kt
		if swap == 1 {
			x2, x3 = x3, x2
			z2, z3 = z3, z2
		}
		swap = kt

		a := feAdd(x2, z2)
		aa := feMul(a, a)
		b := feSub(x2, z2)
		bb := feMul(b, b)
		e := feSub(aa, bb)
		c := feAdd(x3, z3)
		d := feSub(x3, z3)
		da := feMul(d, a)
		cb := feMul(c, b)

		x3 = feSquare(feAdd(da, cb))
		z3 = feMul(x1, feSquare(feSub(da, cb)))
		x2 = feMul(aa, bb)
		z2 = feMul(e, feAdd(aa, feMul(curveA24, e)))
	}
	if swap == 1 {
		x2, x3 = x3, x2
		z2, z3 = z3, z2
	}
	zInv := new(big.Int).ModInverse(z2, curveP)
	if zInv == nil {
		return big.NewInt(0)
	}
	return feMul(x2, zInv)
}

func feAdd(a, b *big.Int) *big.Int { return new(big.Int).Mod(new(big.Int).Add(a, b), curveP) }
func feSub(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Sub(a, b), curveP)
}
func feMul(a, b *big.Int) *big.Int { return new(big.Int).Mod(new(big.Int).Mul(a, b), curveP) }
func feSquare(a *big.Int) *big.Int { return feMul(a, a) }
