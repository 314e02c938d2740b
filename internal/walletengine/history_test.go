package walletengine

import (
	"context"
	"testing"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
)

func hashFromByte(b byte) node.Hash {
	var h node.Hash
	h[0] = b
	return h
}

func newHistoryTestEngine() *Engine {
	e := newTestEngine()
	e.blockHashes = []node.Hash{hashFromByte(1), hashFromByte(2), hashFromByte(3)}
	e.history = []HistoryEntry{
		{Hash: hashFromByte(10), BlockHeight: 1, Fee: 1000, State: TxSucceeded, Transfers: []Transfer{{Amount: 500}}},
		{Hash: hashFromByte(11), BlockHeight: 2, Fee: 2000, State: TxSucceeded, Transfers: []Transfer{{Amount: 600}, {Amount: 700}}},
		{Hash: hashFromByte(12), BlockHeight: UnconfirmedBlockHeight, Fee: 3000, State: TxSucceeded},
	}
	return e
}

func TestGetTransactionCountAndByIndex(t *testing.T) {
	e := newHistoryTestEngine()
	if got, want := e.GetTransactionCount(), 3; got != want {
		t.Fatalf("GetTransactionCount() = %d, want %d", got, want)
	}
	entry, err := e.GetTransaction(1)
	if err != nil {
		t.Fatalf("GetTransaction(1): %v", err)
	}
	if entry.Hash != hashFromByte(11) {
		t.Fatalf("GetTransaction(1).Hash = %x, want %x", entry.Hash, hashFromByte(11))
	}
}

func TestGetTransactionRejectsOutOfRangeIndex(t *testing.T) {
	e := newHistoryTestEngine()
	if _, err := e.GetTransaction(99); err == nil {
		t.Fatalf("GetTransaction(99) succeeded, want IndexOutOfRange")
	} else if kind, _ := walleterror.KindOf(err); kind != walleterror.IndexOutOfRange {
		t.Fatalf("kind = %v, want IndexOutOfRange", kind)
	}
}

func TestGetTransactionByHash(t *testing.T) {
	e := newHistoryTestEngine()
	entry, idx, err := e.GetTransactionByHash(hashFromByte(10))
	if err != nil {
		t.Fatalf("GetTransactionByHash: %v", err)
	}
	if idx != 0 || entry.Fee != 1000 {
		t.Fatalf("GetTransactionByHash = (%+v, %d), want idx 0 fee 1000", entry, idx)
	}
	if _, _, err := e.GetTransactionByHash(hashFromByte(99)); err == nil {
		t.Fatalf("GetTransactionByHash(unknown) succeeded, want error")
	}
}

func TestGetTransactionTransferCountAndTransfer(t *testing.T) {
	e := newHistoryTestEngine()
	count, err := e.GetTransactionTransferCount(1)
	if err != nil {
		t.Fatalf("GetTransactionTransferCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("GetTransactionTransferCount(1) = %d, want 2", count)
	}
	transfer, err := e.GetTransactionTransfer(1, 1)
	if err != nil {
		t.Fatalf("GetTransactionTransfer: %v", err)
	}
	if transfer.Amount != 700 {
		t.Fatalf("GetTransactionTransfer(1,1).Amount = %d, want 700", transfer.Amount)
	}
	if _, err := e.GetTransactionTransfer(1, 5); err == nil {
		t.Fatalf("GetTransactionTransfer(1,5) succeeded, want IndexOutOfRange")
	}
}

func TestGetBlockCountAndHashes(t *testing.T) {
	e := newHistoryTestEngine()
	if got, want := e.GetBlockCount(), uint64(3); got != want {
		t.Fatalf("GetBlockCount() = %d, want %d", got, want)
	}
	hashes, err := e.GetBlockHashes(1, 2)
	if err != nil {
		t.Fatalf("GetBlockHashes: %v", err)
	}
	if len(hashes) != 2 || hashes[0] != hashFromByte(2) || hashes[1] != hashFromByte(3) {
		t.Fatalf("GetBlockHashes(1,2) = %v, want [hash(2) hash(3)]", hashes)
	}
	if _, err := e.GetBlockHashes(10, 1); err == nil {
		t.Fatalf("GetBlockHashes(10,1) succeeded, want IndexOutOfRange")
	}
}

func TestGetTransactionsGroupsByBlockHeight(t *testing.T) {
	e := newHistoryTestEngine()
	groups, err := e.GetTransactions(0, 3)
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("GetTransactions returned %d groups, want 3", len(groups))
	}
	if len(groups[0].Transactions) != 0 {
		t.Fatalf("block 0 has %d transactions, want 0", len(groups[0].Transactions))
	}
	if len(groups[1].Transactions) != 1 || groups[1].Transactions[0].Hash != hashFromByte(10) {
		t.Fatalf("block 1 transactions = %+v, want [hash(10)]", groups[1].Transactions)
	}
	if groups[1].BlockHash != hashFromByte(2) {
		t.Fatalf("block 1 hash = %x, want %x", groups[1].BlockHash, hashFromByte(2))
	}
}

func TestGetTransactionsByHash(t *testing.T) {
	e := newHistoryTestEngine()
	groups, err := e.GetTransactionsByHash(hashFromByte(2), 1)
	if err != nil {
		t.Fatalf("GetTransactionsByHash: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Transactions) != 1 {
		t.Fatalf("GetTransactionsByHash = %+v, want one block with one transaction", groups)
	}
	if _, err := e.GetTransactionsByHash(hashFromByte(99), 1); err == nil {
		t.Fatalf("GetTransactionsByHash(unknown) succeeded, want error")
	}
}

func TestGetUnconfirmedTransactions(t *testing.T) {
	e := newHistoryTestEngine()
	unconfirmed := e.GetUnconfirmedTransactions()
	if len(unconfirmed) != 1 || unconfirmed[0].Hash != hashFromByte(12) {
		t.Fatalf("GetUnconfirmedTransactions = %+v, want [hash(12)]", unconfirmed)
	}
}

func TestGetDelayedTransactionIds(t *testing.T) {
	e, _ := newFundedTestEngine(t, 5_000_000_000)
	dest := randomAddress()

	id, err := e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: dest, Amount: 1_000_000_000}},
		Fee:          e.policy.MinimumFee,
	})
	if err != nil {
		t.Fatalf("makeTransaction: %v", err)
	}

	ids := e.GetDelayedTransactionIds()
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("GetDelayedTransactionIds = %v, want [%s]", ids, id)
	}

	if _, err := e.CommitTransaction(context.Background(), id); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}
	if ids := e.GetDelayedTransactionIds(); len(ids) != 0 {
		t.Fatalf("GetDelayedTransactionIds after commit = %v, want empty", ids)
	}
}
