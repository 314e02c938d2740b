package walletengine

import (
	"bytes"
	"io"
	"testing"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/transfers"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/pkg/xlog"
)

func TestSaveLoadRoundTripsAccountsCacheAndHistory(t *testing.T) {
	e := newTestEngine()
	addr1, err := e.CreateAddress()
	if err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	addr2, err := e.CreateAddress()
	if err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	fundAccount(t, e, e.accounts[addr1.SpendPublicKey], 5_000_000_000, 1)
	fundAccount(t, e, e.accounts[addr2.SpendPublicKey], 2_000_000_000, 2)

	e.mu.Lock()
	e.blockHashes = []node.Hash{hashFromByte(1)}
	e.history = []HistoryEntry{{Hash: hashFromByte(10), BlockHeight: 1, Fee: 1000, State: TxSucceeded}}
	e.mu.Unlock()

	var buf bytes.Buffer
	if err := e.Save(&buf, "hunter2", true, true); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New(e.nd, xlog.New(io.Discard, "test"), xcrypto.SecretKey{}, [32]byte{}, 0)
	if err := restored.Load(bytes.NewReader(buf.Bytes()), "hunter2"); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got, want := len(restored.accounts), 2; got != want {
		t.Fatalf("restored accounts = %d, want %d", got, want)
	}
	acc1, ok := restored.accounts[addr1.SpendPublicKey]
	if !ok {
		t.Fatalf("restored wallet missing address1")
	}
	if got, want := acc1.container.Balance(transfers.AllExceptSpent), uint64(5_000_000_000); got != want {
		t.Fatalf("restored account1 balance = %d, want %d", got, want)
	}
	if got, want := restored.GetBlockCount(), uint64(1); got != want {
		t.Fatalf("restored block count = %d, want %d", got, want)
	}
	if got, want := restored.GetTransactionCount(), 1; got != want {
		t.Fatalf("restored transaction count = %d, want %d", got, want)
	}
}

func TestLoadRejectsWrongPassword(t *testing.T) {
	e := newTestEngine()
	if _, err := e.CreateAddress(); err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}

	var buf bytes.Buffer
	if err := e.Save(&buf, "correct-password", false, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New(e.nd, xlog.New(io.Discard, "test"), xcrypto.SecretKey{}, [32]byte{}, 0)
	err := restored.Load(bytes.NewReader(buf.Bytes()), "wrong-password")
	if kind, _ := walleterror.KindOf(err); kind != walleterror.WrongPassword {
		t.Fatalf("kind = %v, want WrongPassword", kind)
	}
}

func TestLoadRejectsAlreadyInitializedEngine(t *testing.T) {
	e := newTestEngine()
	if _, err := e.CreateAddress(); err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	var buf bytes.Buffer
	if err := e.Save(&buf, "pw", false, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := e.CreateAddress(); err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	err := e.Load(bytes.NewReader(buf.Bytes()), "pw")
	if kind, _ := walleterror.KindOf(err); kind != walleterror.AlreadyInitialized {
		t.Fatalf("kind = %v, want AlreadyInitialized", kind)
	}
}

func TestSaveWithoutCacheOmitsContainerState(t *testing.T) {
	e, addr := newFundedTestEngine(t, 5_000_000_000)

	var buf bytes.Buffer
	if err := e.Save(&buf, "pw", false, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New(e.nd, xlog.New(io.Discard, "test"), xcrypto.SecretKey{}, [32]byte{}, 0)
	if err := restored.Load(bytes.NewReader(buf.Bytes()), "pw"); err != nil {
		t.Fatalf("load: %v", err)
	}
	acc := restored.accounts[addr.SpendPublicKey]
	if got := acc.container.Balance(transfers.AllExceptSpent); got != 0 {
		t.Fatalf("restored balance without cache = %d, want 0", got)
	}
}
