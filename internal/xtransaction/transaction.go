// Package xtransaction implements the ITransaction contract: a mutable
// transaction builder that seals itself once fully assembled, with a
// byte-stable msgpack encoding modeled on the compact, struct-as-array
// encoding modules/explorergraphql/explorerdb's msgpack helpers use.
package xtransaction

import (
	"bytes"
	"errors"
	"fmt"

	mp "github.com/vmihailenco/msgpack"

	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
)

// ErrSealed is returned by every mutator once a transaction has been
// sealed (see Transaction.Seal).
var ErrSealed = errors.New("xtransaction: transaction is sealed")

// InputType discriminates the three input variants the wire format
// carries: ordinary key inputs, multisignature inputs, and the base
// (generation/coinbase) input a block's miner transaction uses.
type InputType uint8

const (
	InputTypeKey InputType = iota
	InputTypeMultisig
	InputTypeBase
)

// KeyInput references a ring of global output indexes and proves
// ownership of exactly one of them via its key image.
type KeyInput struct {
	Amount        uint64
	OutputIndexes []uint64
	KeyImage      xcrypto.KeyImage
}

// MultisigInput references a single multisignature output.
type MultisigInput struct {
	Amount         uint64
	OutputIndex    uint64
	SignatureCount uint32
}

// BaseInput is the generation input of a miner (coinbase) transaction.
type BaseInput struct {
	BlockIndex uint64
}

// Input is a tagged union over the three input variants; exactly one of
// Key, Multisig or Base is non-nil, selected by Type. The three pointer
// fields are always encoded (never omitted) so compact, array-positional
// encoding stays stable regardless of which variant is set.
type Input struct {
	Type     InputType
	Key      *KeyInput
	Multisig *MultisigInput
	Base     *BaseInput
}

// OutputType discriminates the two output variants the wire format
// carries.
type OutputType uint8

const (
	OutputTypeKey OutputType = iota
	OutputTypeMultisig
)

// KeyOutput pays amount to a single one-time public key.
type KeyOutput struct {
	Amount    uint64
	PublicKey xcrypto.PublicKey
}

// MultisigOutput pays amount to a set of keys requiring RequiredSignatures
// of them to spend.
type MultisigOutput struct {
	Amount             uint64
	Keys               []xcrypto.PublicKey
	RequiredSignatures uint32
}

// Output is a tagged union over the two output variants; both pointer
// fields are always encoded, for the same reason as Input above.
type Output struct {
	Type     OutputType
	Key      *KeyOutput
	Multisig *MultisigOutput
}

// TransferType classifies an output of an already-decoded transaction
// from the perspective of the wallet history API.
type TransferType int

const (
	TransferUsual TransferType = iota
	TransferChange
	TransferDonation
	TransferFusion
)

const extraTagPaymentID = 0x01

// Transaction is the concrete ITransaction implementation: a builder up
// to Seal, after which it is an immutable, byte-stable wire value.
type Transaction struct {
	version    uint8
	publicKey  xcrypto.PublicKey
	unlockTime uint64
	extra      []byte
	inputs     []Input
	outputs    []Output
	signatures [][]xcrypto.Signature

	txSecretKey xcrypto.SecretKey
	sealed      bool
}

// wireTransaction is the exact, fixed-shape struct msgpack encodes in
// compact (array) mode; its field order is the wire format's field
// order, and must never change without a version bump.
type wireTransaction struct {
	Version    uint8
	PublicKey  xcrypto.PublicKey
	UnlockTime uint64
	Extra      []byte
	Inputs     []Input
	Outputs    []Output
	Signatures [][]xcrypto.Signature
}

// New creates an empty, unsealed transaction with a freshly generated
// transaction keypair.
func New() *Transaction {
	sk, pk := xcrypto.GenerateKeyPair()
	return &Transaction{
		version:     1,
		publicKey:   pk,
		txSecretKey: sk,
	}
}

func (tx *Transaction) requireUnsealed() error {
	if tx.sealed {
		return ErrSealed
	}
	return nil
}

// Seal marks the transaction as fully assembled; all further mutator
// calls will fail with ErrSealed.
func (tx *Transaction) Seal() {
	tx.sealed = true
}

// Sealed reports whether Seal has been called.
func (tx *Transaction) Sealed() bool {
	return tx.sealed
}

// PublicKey returns the transaction's public key, the ephemeral key whose
// secret counterpart is combined with each recipient's view key to derive
// shared output secrets.
func (tx *Transaction) PublicKey() xcrypto.PublicKey {
	return tx.publicKey
}

// UnlockTime returns the transaction's unlock time (a block height or
// unix timestamp, depending on its magnitude, per convention).
func (tx *Transaction) UnlockTime() uint64 {
	return tx.unlockTime
}

// SetUnlockTime sets the height or timestamp before which the
// transaction's outputs cannot be spent.
func (tx *Transaction) SetUnlockTime(unlockTime uint64) error {
	if err := tx.requireUnsealed(); err != nil {
		return err
	}
	tx.unlockTime = unlockTime
	return nil
}

// Extra returns the raw extra-nonce bytes (including any payment ID
// tag appended by SetPaymentID).
func (tx *Transaction) Extra() []byte {
	return append([]byte(nil), tx.extra...)
}

// AppendExtra appends arbitrary bytes to the transaction's extra field.
func (tx *Transaction) AppendExtra(data []byte) error {
	if err := tx.requireUnsealed(); err != nil {
		return err
	}
	tx.extra = append(tx.extra, data...)
	return nil
}

// SetPaymentID appends a payment-id TLV (tag, 32-byte id) to extra, the
// mechanism an exchange or merchant uses to attribute an incoming payment
// to a specific customer when many customers share one address.
func (tx *Transaction) SetPaymentID(id [32]byte) error {
	if err := tx.requireUnsealed(); err != nil {
		return err
	}
	tx.extra = append(tx.extra, extraTagPaymentID)
	tx.extra = append(tx.extra, id[:]...)
	return nil
}

// PaymentID extracts a payment id from extra, if one was set.
func (tx *Transaction) PaymentID() (id [32]byte, ok bool) {
	for i := 0; i+1+32 <= len(tx.extra); {
		tag := tx.extra[i]
		if tag == extraTagPaymentID {
			copy(id[:], tx.extra[i+1:i+1+32])
			return id, true
		}
		i++
	}
	return id, false
}

// SetTransactionSecretKey overrides the transaction's secret key, used
// when rebuilding a transaction deterministically (e.g. fusion
// transactions derived from a fixed seed).
func (tx *Transaction) SetTransactionSecretKey(sk xcrypto.SecretKey) error {
	if err := tx.requireUnsealed(); err != nil {
		return err
	}
	tx.txSecretKey = sk
	tx.publicKey = sk.PublicKey()
	return nil
}

// SecretKey returns the transaction's secret key, needed by the sender to
// derive per-output shared secrets; never serialized onto the wire.
func (tx *Transaction) SecretKey() xcrypto.SecretKey {
	return tx.txSecretKey
}

// AddInput appends an input and returns its index within Inputs.
func (tx *Transaction) AddInput(in Input) (int, error) {
	if err := tx.requireUnsealed(); err != nil {
		return 0, err
	}
	tx.inputs = append(tx.inputs, in)
	return len(tx.inputs) - 1, nil
}

// AddKeyOutput appends a one-time key output for amount paid to pub, and
// returns the output's index.
func (tx *Transaction) AddKeyOutput(amount uint64, pub xcrypto.PublicKey) (int, error) {
	if err := tx.requireUnsealed(); err != nil {
		return 0, err
	}
	tx.outputs = append(tx.outputs, Output{
		Type: OutputTypeKey,
		Key:  &KeyOutput{Amount: amount, PublicKey: pub},
	})
	return len(tx.outputs) - 1, nil
}

// AddMultisigOutput appends a multisignature output requiring `required`
// of the given keys to spend, and returns the output's index.
func (tx *Transaction) AddMultisigOutput(amount uint64, keys []xcrypto.PublicKey, required uint32) (int, error) {
	if err := tx.requireUnsealed(); err != nil {
		return 0, err
	}
	if int(required) > len(keys) {
		return 0, fmt.Errorf("xtransaction: required signatures %d exceeds key count %d", required, len(keys))
	}
	tx.outputs = append(tx.outputs, Output{
		Type: OutputTypeMultisig,
		Multisig: &MultisigOutput{
			Amount:             amount,
			Keys:               append([]xcrypto.PublicKey(nil), keys...),
			RequiredSignatures: required,
		},
	})
	return len(tx.outputs) - 1, nil
}

// Inputs returns the transaction's inputs.
func (tx *Transaction) Inputs() []Input {
	return append([]Input(nil), tx.inputs...)
}

// Outputs returns the transaction's outputs.
func (tx *Transaction) Outputs() []Output {
	return append([]Output(nil), tx.outputs...)
}

// SignInputKey signs input index i (which must be a key input) with sec,
// the one-time secret key for the real spend referenced by that ring.
// The prefix hash stands in for the full CryptoNote ring-signature
// challenge; the cryptographic primitive is supplied by internal/xcrypto.
func (tx *Transaction) SignInputKey(i int, sec xcrypto.SecretKey, prefixHash []byte) error {
	if err := tx.requireUnsealed(); err != nil {
		return err
	}
	if i < 0 || i >= len(tx.inputs) {
		return fmt.Errorf("xtransaction: input index %d out of range", i)
	}
	if tx.inputs[i].Type != InputTypeKey {
		return fmt.Errorf("xtransaction: input %d is not a key input", i)
	}
	sig := xcrypto.Sign(sec, prefixHash)
	tx.ensureSignatureSlot(i)
	tx.signatures[i] = append(tx.signatures[i], sig)
	return nil
}

// SignInputMultisignature signs input index i (which must be a multisig
// input) with sec, one of the cosigners' secret keys.
func (tx *Transaction) SignInputMultisignature(i int, sec xcrypto.SecretKey, prefixHash []byte) error {
	if err := tx.requireUnsealed(); err != nil {
		return err
	}
	if i < 0 || i >= len(tx.inputs) {
		return fmt.Errorf("xtransaction: input index %d out of range", i)
	}
	if tx.inputs[i].Type != InputTypeMultisig {
		return fmt.Errorf("xtransaction: input %d is not a multisig input", i)
	}
	sig := xcrypto.Sign(sec, prefixHash)
	tx.ensureSignatureSlot(i)
	tx.signatures[i] = append(tx.signatures[i], sig)
	return nil
}

func (tx *Transaction) ensureSignatureSlot(i int) {
	for len(tx.signatures) <= i {
		tx.signatures = append(tx.signatures, nil)
	}
}

// Signatures returns the per-input signature lists.
func (tx *Transaction) Signatures() [][]xcrypto.Signature {
	return append([][]xcrypto.Signature(nil), tx.signatures...)
}

func (tx *Transaction) toWire() wireTransaction {
	return wireTransaction{
		Version:    tx.version,
		PublicKey:  tx.publicKey,
		UnlockTime: tx.unlockTime,
		Extra:      tx.extra,
		Inputs:     tx.inputs,
		Outputs:    tx.outputs,
		Signatures: tx.signatures,
	}
}

// Serialize encodes the transaction using compact, struct-as-array
// msgpack encoding. Because the wire shape is a fixed struct (never a
// map), encoding the same logical transaction always produces the same
// bytes: Deserialize(Serialize(tx)) re-serializes to an identical blob.
func (tx *Transaction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := mp.NewEncoder(&buf).UseCompactEncoding(true)
	if err := enc.Encode(tx.toWire()); err != nil {
		return nil, fmt.Errorf("xtransaction: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a transaction previously produced by Serialize. The
// result is sealed: a transaction read back off the wire is already
// complete and must not be mutated further.
func Deserialize(data []byte) (*Transaction, error) {
	var wire wireTransaction
	dec := mp.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("xtransaction: deserialize: %w", err)
	}
	return &Transaction{
		version:    wire.Version,
		publicKey:  wire.PublicKey,
		unlockTime: wire.UnlockTime,
		extra:      wire.Extra,
		inputs:     wire.Inputs,
		outputs:    wire.Outputs,
		signatures: wire.Signatures,
		sealed:     true,
	}, nil
}

// TotalOutputAmount sums the amounts of every output, used by the wallet
// engine to validate assembled transactions balance.
func (tx *Transaction) TotalOutputAmount() uint64 {
	var total uint64
	for _, o := range tx.outputs {
		switch o.Type {
		case OutputTypeKey:
			total += o.Key.Amount
		case OutputTypeMultisig:
			total += o.Multisig.Amount
		}
	}
	return total
}

// TotalInputAmount sums the amounts of every input.
func (tx *Transaction) TotalInputAmount() uint64 {
	var total uint64
	for _, in := range tx.inputs {
		switch in.Type {
		case InputTypeKey:
			total += in.Key.Amount
		case InputTypeMultisig:
			total += in.Multisig.Amount
		}
	}
	return total
}
