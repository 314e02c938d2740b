package transfers

import (
	"testing"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

func hashFromByte(b byte) node.Hash {
	var h node.Hash
	h[0] = b
	return h
}

func keyImageFromByte(b byte) xcrypto.KeyImage {
	var ki xcrypto.KeyImage
	ki[0] = b
	return ki
}

// TestUnlockAfterSpendableAge covers scenario S1: a coinbase-style
// receipt stays locked until the 10-block mined-money unlock window has
// passed, even though the container's spendableAge is only 1.
func TestUnlockAfterSpendableAge(t *testing.T) {
	c := NewContainer(1)
	const height = 100
	const amount = 70368744177663

	coinbase := xtransaction.New()
	if _, err := coinbase.AddInput(xtransaction.Input{Type: xtransaction.InputTypeBase, Base: &xtransaction.BaseInput{BlockIndex: height}}); err != nil {
		t.Fatalf("AddInput: %v", err)
	}

	owned := []OwnedOutput{{Amount: amount, GlobalOutputIndex: 5, KeyImage: keyImageFromByte(1)}}
	ok, err := c.AddTransaction(BlockInfo{Height: height}, hashFromByte(1), coinbase, owned)
	if err != nil || !ok {
		t.Fatalf("AddTransaction: ok=%v err=%v", ok, err)
	}

	c.AdvanceHeight(height+9, height+9)
	if got := c.Balance(IncludeUnlocked); got != 0 {
		t.Fatalf("at height+9, actual=%d, want 0", got)
	}
	if got := c.Balance(AllExceptSpent); got != amount {
		t.Fatalf("at height+9, pending(all)=%d, want %d", got, amount)
	}

	c.AdvanceHeight(height+10, height+10)
	if got := c.Balance(IncludeUnlocked); got != amount {
		t.Fatalf("at height+10, actual=%d, want %d", got, amount)
	}
}

// TestReorgUnseatsSpend covers scenario S3.
func TestReorgUnseatsSpend(t *testing.T) {
	c := NewContainer(0)
	const recvHeight = 10
	const recvAmount = 1000

	ki := keyImageFromByte(7)
	owned := []OwnedOutput{{Amount: recvAmount, GlobalOutputIndex: 1, KeyImage: ki}}
	if _, err := c.AddTransaction(BlockInfo{Height: recvHeight}, hashFromByte(1), xtransaction.New(), owned); err != nil {
		t.Fatalf("receive: %v", err)
	}
	c.AdvanceHeight(recvHeight, recvHeight)

	spendTx := xtransaction.New()
	if _, err := spendTx.AddInput(xtransaction.Input{
		Type: xtransaction.InputTypeKey,
		Key:  &xtransaction.KeyInput{Amount: recvAmount, KeyImage: ki},
	}); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if _, err := c.AddTransaction(BlockInfo{Height: recvHeight + 6}, hashFromByte(2), spendTx, nil); err != nil {
		t.Fatalf("spend: %v", err)
	}

	if got := c.Balance(IncludeUnlocked); got != 0 {
		t.Fatalf("after spend, unlocked=%d, want 0", got)
	}

	removed := c.Detach(recvHeight + 5)
	if len(removed) != 1 || removed[0] != hashFromByte(2) {
		t.Fatalf("Detach removed = %v, want [spend hash]", removed)
	}

	if got := c.Balance(IncludeUnlocked); got != recvAmount {
		t.Fatalf("after detach, unlocked=%d, want %d", got, recvAmount)
	}
}

// TestKeyImageCollisionVisibility covers P6 / I2: of two outputs sharing
// a key image, exactly one is visible, and confirmed beats unconfirmed.
func TestKeyImageCollisionVisibility(t *testing.T) {
	c := NewContainer(0)
	ki := keyImageFromByte(3)

	// Unconfirmed sighting first (e.g. a pool rebroadcast).
	owned1 := []OwnedOutput{{Amount: 500, GlobalOutputIndex: UnconfirmedGlobalIndex, KeyImage: ki}}
	if _, err := c.AddTransaction(BlockInfo{Height: UnconfirmedHeight}, hashFromByte(10), xtransaction.New(), owned1); err != nil {
		t.Fatalf("add unconfirmed sibling: %v", err)
	}

	outs := c.GetOutputs(IncludeUnconfirmed)
	if len(outs) != 1 {
		t.Fatalf("expected 1 visible unconfirmed output, got %d", len(outs))
	}

	// Confirmed sighting of the same key image arrives; it must become
	// visible, demoting the pool sighting to hidden.
	owned2 := []OwnedOutput{{Amount: 500, GlobalOutputIndex: 9, KeyImage: ki}}
	if _, err := c.AddTransaction(BlockInfo{Height: 50}, hashFromByte(11), xtransaction.New(), owned2); err != nil {
		t.Fatalf("add confirmed sibling: %v", err)
	}

	if got := c.Balance(IncludeUnconfirmed); got != 0 {
		t.Fatalf("unconfirmed sibling should now be hidden, balance=%d", got)
	}
	if got := c.Balance(IncludeSoftLocked); got != 500 {
		t.Fatalf("confirmed sibling should now be visible, balance=%d", got)
	}
}

// TestAmountMismatchIsFatal covers the I6 admission guard.
func TestAmountMismatchIsFatal(t *testing.T) {
	c := NewContainer(0)
	ki := keyImageFromByte(9)

	owned := []OwnedOutput{{Amount: 100, GlobalOutputIndex: 1, KeyImage: ki}}
	if _, err := c.AddTransaction(BlockInfo{Height: 1}, hashFromByte(1), xtransaction.New(), owned); err != nil {
		t.Fatalf("receive: %v", err)
	}

	spendTx := xtransaction.New()
	spendTx.AddInput(xtransaction.Input{
		Type: xtransaction.InputTypeKey,
		Key:  &xtransaction.KeyInput{Amount: 999, KeyImage: ki},
	})
	if _, err := c.AddTransaction(BlockInfo{Height: 2}, hashFromByte(2), spendTx, nil); err == nil {
		t.Fatalf("expected fatal amount mismatch error")
	}
}

// TestReAdmissionRejected covers admission rule 3.
func TestReAdmissionRejected(t *testing.T) {
	c := NewContainer(0)
	owned := []OwnedOutput{{Amount: 1, GlobalOutputIndex: 1, KeyImage: keyImageFromByte(1)}}
	if _, err := c.AddTransaction(BlockInfo{Height: 1}, hashFromByte(1), xtransaction.New(), owned); err != nil {
		t.Fatalf("first admission: %v", err)
	}
	if _, err := c.AddTransaction(BlockInfo{Height: 1}, hashFromByte(1), xtransaction.New(), owned); err != ErrAlreadyAdded {
		t.Fatalf("re-admission error = %v, want ErrAlreadyAdded", err)
	}
}

// TestBalanceMonotonic covers P1.
func TestBalanceMonotonic(t *testing.T) {
	c := NewContainer(1)
	c.AddTransaction(BlockInfo{Height: 1}, hashFromByte(1), xtransaction.New(),
		[]OwnedOutput{{Amount: 10, GlobalOutputIndex: 1, KeyImage: keyImageFromByte(1)}})
	c.AddTransaction(BlockInfo{Height: UnconfirmedHeight}, hashFromByte(2), xtransaction.New(),
		[]OwnedOutput{{Amount: 20, GlobalOutputIndex: UnconfirmedGlobalIndex, KeyImage: keyImageFromByte(2)}})

	small := c.Balance(IncludeUnlocked)
	big := c.Balance(AllExceptSpent)
	if big < small {
		t.Fatalf("balance not monotonic: all=%d < unlocked=%d", big, small)
	}
}

// TestDetachIdempotent covers P4.
func TestDetachIdempotent(t *testing.T) {
	c := NewContainer(0)
	c.AddTransaction(BlockInfo{Height: 5}, hashFromByte(1), xtransaction.New(),
		[]OwnedOutput{{Amount: 10, GlobalOutputIndex: 1, KeyImage: keyImageFromByte(1)}})

	first := c.Detach(5)
	second := c.Detach(5)
	if len(first) != 1 {
		t.Fatalf("first Detach removed %d, want 1", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("second Detach removed %d, want 0 (idempotent)", len(second))
	}
}

// TestGetSpendableOutputsCarriesTxHash covers the wallet engine's need to
// recover which transaction produced a candidate spend source.
func TestGetSpendableOutputsCarriesTxHash(t *testing.T) {
	c := NewContainer(0)
	txHash := hashFromByte(9)
	tx := xtransaction.New()
	c.AddTransaction(BlockInfo{Height: 1}, txHash, tx,
		[]OwnedOutput{{Amount: 100, GlobalOutputIndex: 1, KeyImage: keyImageFromByte(9)}})
	c.AdvanceHeight(1, 0)

	outs := c.GetSpendableOutputs(IncludeUnlocked)
	if len(outs) != 1 {
		t.Fatalf("GetSpendableOutputs returned %d outputs, want 1", len(outs))
	}
	if outs[0].TxHash != txHash {
		t.Fatalf("TxHash = %x, want %x", outs[0].TxHash, txHash)
	}
	if outs[0].Amount != 100 {
		t.Fatalf("Amount = %d, want 100", outs[0].Amount)
	}
	if outs[0].TxPublicKey != tx.PublicKey() {
		t.Fatalf("TxPublicKey = %x, want %x", outs[0].TxPublicKey, tx.PublicKey())
	}
}
