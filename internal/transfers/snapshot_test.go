package transfers

import (
	"testing"

	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

// TestSnapshotRoundTripPreservesBalanceAndSpends builds a container with
// one received, unlocked output and one spend of it, takes a Snapshot,
// restores it with LoadSnapshot, and checks the restored container
// answers balance and spend queries identically to the original.
func TestSnapshotRoundTripPreservesBalanceAndSpends(t *testing.T) {
	c := NewContainer(0)
	const amount = 5_000_000_000

	recvTx := xtransaction.New()
	if _, err := recvTx.AddKeyOutput(amount, [32]byte{1}); err != nil {
		t.Fatalf("AddKeyOutput: %v", err)
	}
	owned := []OwnedOutput{{Amount: amount, GlobalOutputIndex: 1, KeyImage: keyImageFromByte(1)}}
	if _, err := c.AddTransaction(BlockInfo{Height: 10}, hashFromByte(1), recvTx, owned); err != nil {
		t.Fatalf("AddTransaction(recv): %v", err)
	}
	c.AdvanceHeight(10, 0)

	spendTx := xtransaction.New()
	if _, err := spendTx.AddInput(xtransaction.Input{
		Type: xtransaction.InputTypeKey,
		Key:  &xtransaction.KeyInput{Amount: amount, OutputIndexes: []uint64{1}, KeyImage: keyImageFromByte(1)},
	}); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if _, err := c.AddTransaction(BlockInfo{Height: 11}, hashFromByte(2), spendTx, nil); err != nil {
		t.Fatalf("AddTransaction(spend): %v", err)
	}
	c.AdvanceHeight(11, 0)

	wantSpent := c.Balance(IncludeSpent)
	wantUnlocked := c.Balance(IncludeUnlocked)
	wantSpentOutputs := c.GetSpentOutputs()

	snap := c.Snapshot()
	restored := LoadSnapshot(snap)

	if got := restored.Balance(IncludeSpent); got != wantSpent {
		t.Fatalf("restored spent balance = %d, want %d", got, wantSpent)
	}
	if got := restored.Balance(IncludeUnlocked); got != wantUnlocked {
		t.Fatalf("restored unlocked balance = %d, want %d", got, wantUnlocked)
	}
	if got := restored.GetSpentOutputs(); len(got) != len(wantSpentOutputs) {
		t.Fatalf("restored spent outputs = %d, want %d", len(got), len(wantSpentOutputs))
	}
	if restored.CheckIfSpent(keyImageFromByte(1)) != c.CheckIfSpent(keyImageFromByte(1)) {
		t.Fatalf("restored CheckIfSpent disagrees with original")
	}
}

func TestSnapshotRoundTripPreservesEmptyContainer(t *testing.T) {
	c := NewContainer(5)
	c.AdvanceHeight(3, 7)
	restored := LoadSnapshot(c.Snapshot())
	if got := restored.Balance(AllExceptSpent); got != 0 {
		t.Fatalf("restored empty container balance = %d, want 0", got)
	}
}
