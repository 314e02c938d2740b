package xtransaction

import (
	"bytes"
	"testing"

	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
)

func buildSampleTransaction(t *testing.T) *Transaction {
	t.Helper()
	tx := New()

	_, destPub := xcrypto.GenerateKeyPair()
	if _, err := tx.AddKeyOutput(1000, destPub); err != nil {
		t.Fatalf("AddKeyOutput: %v", err)
	}

	spendSecret, spendPublic := xcrypto.GenerateKeyPair()
	idx, err := tx.AddInput(Input{
		Type: InputTypeKey,
		Key: &KeyInput{
			Amount:        1000,
			OutputIndexes: []uint64{1, 5, 9},
			KeyImage:      xcrypto.GenerateKeyImage(spendPublic, spendSecret),
		},
	})
	if err != nil {
		t.Fatalf("AddInput: %v", err)
	}

	if err := tx.SignInputKey(idx, spendSecret, []byte("prefix-hash")); err != nil {
		t.Fatalf("SignInputKey: %v", err)
	}

	var pid [32]byte
	copy(pid[:], []byte("order-12345"))
	if err := tx.SetPaymentID(pid); err != nil {
		t.Fatalf("SetPaymentID: %v", err)
	}
	if err := tx.SetUnlockTime(42); err != nil {
		t.Fatalf("SetUnlockTime: %v", err)
	}
	return tx
}

func TestByteStableRoundTrip(t *testing.T) {
	tx := buildSampleTransaction(t)
	tx.Seal()

	data, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	decoded, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	data2, err := decoded.Serialize()
	if err != nil {
		t.Fatalf("re-Serialize: %v", err)
	}

	if !bytes.Equal(data, data2) {
		t.Fatalf("round trip not byte-stable: %x != %x", data, data2)
	}
}

func TestMutationFailsAfterSeal(t *testing.T) {
	tx := buildSampleTransaction(t)
	tx.Seal()

	if err := tx.SetUnlockTime(100); err != ErrSealed {
		t.Fatalf("SetUnlockTime after seal = %v, want ErrSealed", err)
	}
	if _, err := tx.AddInput(Input{Type: InputTypeBase, Base: &BaseInput{BlockIndex: 1}}); err != ErrSealed {
		t.Fatalf("AddInput after seal = %v, want ErrSealed", err)
	}
}

func TestPaymentIDRoundTrip(t *testing.T) {
	tx := buildSampleTransaction(t)
	id, ok := tx.PaymentID()
	if !ok {
		t.Fatalf("expected payment id to be set")
	}
	want := [32]byte{}
	copy(want[:], []byte("order-12345"))
	if id != want {
		t.Fatalf("payment id = %x, want %x", id, want)
	}
}

func TestDeserializedTransactionIsSealed(t *testing.T) {
	tx := buildSampleTransaction(t)
	tx.Seal()
	data, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !decoded.Sealed() {
		t.Fatalf("deserialized transaction should be sealed")
	}
}

func TestTotalAmounts(t *testing.T) {
	tx := buildSampleTransaction(t)
	if got := tx.TotalOutputAmount(); got != 1000 {
		t.Fatalf("TotalOutputAmount = %d, want 1000", got)
	}
	if got := tx.TotalInputAmount(); got != 1000 {
		t.Fatalf("TotalInputAmount = %d, want 1000", got)
	}
}
