package walletengine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
)

// addressChecksumSize is enough bytes to catch typos, not a
// cryptographic integrity guarantee.
const addressChecksumSize = 4

// Address is a CryptoNote-style public address: a view public key shared
// by every address in a wallet, plus the spend public key unique to this
// subscription.
type Address struct {
	ViewPublicKey  xcrypto.PublicKey
	SpendPublicKey xcrypto.PublicKey
}

// String renders the address as hex(viewPublicKey || spendPublicKey ||
// checksum): a fixed-width hex blob the sender round-trips unmodified,
// with a checksum that catches typos rather than one that secures
// anything.
func (a Address) String() string {
	sum := checksum(a.ViewPublicKey, a.SpendPublicKey)
	return fmt.Sprintf("%x%x%x", a.ViewPublicKey[:], a.SpendPublicKey[:], sum)
}

func checksum(view, spend xcrypto.PublicKey) []byte {
	h := sha256.Sum256(append(append([]byte{}, view[:]...), spend[:]...))
	return h[:addressChecksumSize]
}

// ParseAddress parses a string produced by Address.String, returning
// walleterror.BadAddress on any malformed or checksum-mismatched input.
func ParseAddress(s string) (Address, error) {
	want := (xcrypto.KeySize*2 + addressChecksumSize) * 2
	if len(s) != want {
		return Address{}, walleterror.Newf(walleterror.BadAddress, "address length %d, want %d", len(s), want)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, walleterror.Newf(walleterror.BadAddress, "address is not valid hex: %v", err)
	}
	var addr Address
	copy(addr.ViewPublicKey[:], raw[:xcrypto.KeySize])
	copy(addr.SpendPublicKey[:], raw[xcrypto.KeySize:2*xcrypto.KeySize])
	gotSum := raw[2*xcrypto.KeySize:]
	wantSum := checksum(addr.ViewPublicKey, addr.SpendPublicKey)
	if !bytes.Equal(gotSum, wantSum) {
		return Address{}, walleterror.New(walleterror.BadAddress, fmt.Errorf("address checksum mismatch"))
	}
	return addr, nil
}
