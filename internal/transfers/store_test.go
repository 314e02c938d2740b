package transfers

import (
	"path/filepath"
	"testing"

	"github.com/asdine/storm"

	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

func TestStoreSaveAndLoadContainerRoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	store, err := OpenStore(dbPath)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	c := NewContainer(3)
	const amount = 2_500_000_000
	tx := xtransaction.New()
	if _, err := tx.AddKeyOutput(amount, [32]byte{7}); err != nil {
		t.Fatalf("AddKeyOutput: %v", err)
	}
	owned := []OwnedOutput{{Amount: amount, GlobalOutputIndex: 1, KeyImage: keyImageFromByte(5)}}
	if _, err := c.AddTransaction(BlockInfo{Height: 20}, hashFromByte(5), tx, owned); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	c.AdvanceHeight(23, 0)

	const key = "abcd"
	if err := store.SaveContainer(key, c); err != nil {
		t.Fatalf("SaveContainer: %v", err)
	}

	restored, err := store.LoadContainer(key)
	if err != nil {
		t.Fatalf("LoadContainer: %v", err)
	}
	if got, want := restored.Balance(IncludeUnlocked), c.Balance(IncludeUnlocked); got != want {
		t.Fatalf("restored balance = %d, want %d", got, want)
	}
}

func TestStoreLoadContainerMissingReturnsNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	store, err := OpenStore(dbPath)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if _, err := store.LoadContainer("missing"); err != storm.ErrNotFound {
		t.Fatalf("LoadContainer(missing) err = %v, want storm.ErrNotFound", err)
	}
}
