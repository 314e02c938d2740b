package walletengine

import (
	"context"
	"io"
	"testing"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/transfers"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
	"github.com/amjuarez/bytecoin-sub000/pkg/xlog"
)

// fundAccount admits a confirmed, already-unlocked output of amount into
// acc's container, the same shape internal/consumer would have produced
// from a real block.
func fundAccount(t *testing.T, e *Engine, acc *account, amount, globalIndex uint64) {
	t.Helper()
	tx := xtransaction.New()
	derivation := xcrypto.KeyDerivation(acc.address.ViewPublicKey, tx.SecretKey())
	onetime := xcrypto.DerivePublicKey(derivation, 0, acc.address.SpendPublicKey)
	if _, err := tx.AddKeyOutput(amount, onetime); err != nil {
		t.Fatalf("AddKeyOutput: %v", err)
	}
	tx.Seal()

	var txHash node.Hash
	copy(txHash[:], xcrypto.RandomBytes(32))

	recvDerivation := xcrypto.KeyDerivation(tx.PublicKey(), e.viewSecretKey)
	onetimeSecret := xcrypto.DeriveSecretKey(recvDerivation, 0, acc.spendSecretKey)
	keyImage := xcrypto.GenerateKeyImage(onetime, onetimeSecret)

	owned := []transfers.OwnedOutput{{
		OutputIndexInTransaction: 0,
		Amount:                   amount,
		Type:                     transfers.OutputKey,
		OutputKey:                onetime,
		GlobalOutputIndex:        globalIndex,
		KeyImage:                 keyImage,
	}}
	if _, err := acc.container.AddTransaction(transfers.BlockInfo{Height: 1, TxIndex: uint32(globalIndex)}, txHash, tx, owned); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	acc.container.AdvanceHeight(1, 0)
}

func newFundedTestEngine(t *testing.T, amount uint64) (*Engine, Address) {
	t.Helper()
	e := newTestEngine()
	addr, err := e.CreateAddress()
	if err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	fundAccount(t, e, e.accounts[addr.SpendPublicKey], amount, 1)
	return e, addr
}

func randomAddress() Address {
	_, viewPublic := xcrypto.GenerateKeyPair()
	_, spendPublic := xcrypto.GenerateKeyPair()
	return Address{ViewPublicKey: viewPublic, SpendPublicKey: spendPublic}
}

func TestMakeTransactionBalancesInputsAndOutputs(t *testing.T) {
	e, _ := newFundedTestEngine(t, 5_000_000_000)
	dest := randomAddress()

	id, err := e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: dest, Amount: 1_000_000_000}},
		Fee:          e.policy.MinimumFee,
		MixIn:        0,
	})
	if err != nil {
		t.Fatalf("makeTransaction: %v", err)
	}

	e.mu.Lock()
	p := e.pending[id]
	e.mu.Unlock()
	if p == nil {
		t.Fatalf("pending transaction %s not found", id)
	}
	if p.state != TxCreated {
		t.Fatalf("state = %v, want Created", p.state)
	}
	if got, want := p.tx.TotalInputAmount(), uint64(5_000_000_000); got != want {
		t.Fatalf("TotalInputAmount = %d, want %d", got, want)
	}
	if got, want := p.tx.TotalInputAmount()-p.tx.TotalOutputAmount(), e.policy.MinimumFee; got != want {
		t.Fatalf("implied fee = %d, want %d", got, want)
	}
}

func TestMakeTransactionRejectsZeroDestinations(t *testing.T) {
	e, _ := newFundedTestEngine(t, 5_000_000_000)
	_, err := e.makeTransaction(context.Background(), TransferParams{Fee: e.policy.MinimumFee})
	if kind, _ := walleterror.KindOf(err); kind != walleterror.ZeroDestination {
		t.Fatalf("kind = %v, want ZeroDestination", kind)
	}
}

func TestMakeTransactionRejectsFeeBelowMinimum(t *testing.T) {
	e, _ := newFundedTestEngine(t, 5_000_000_000)
	_, err := e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: randomAddress(), Amount: 1000}},
		Fee:          e.policy.MinimumFee - 1,
	})
	if kind, _ := walleterror.KindOf(err); kind != walleterror.FeeTooSmall {
		t.Fatalf("kind = %v, want FeeTooSmall", kind)
	}
}

func TestMakeTransactionRejectsMixinAboveMaximum(t *testing.T) {
	e, _ := newFundedTestEngine(t, 5_000_000_000)
	_, err := e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: randomAddress(), Amount: 1000}},
		Fee:          e.policy.MinimumFee,
		MixIn:        e.policy.MaxSupportedMixin + 1,
	})
	if kind, _ := walleterror.KindOf(err); kind != walleterror.MixinCountTooBig {
		t.Fatalf("kind = %v, want MixinCountTooBig", kind)
	}
}

func TestMakeTransactionRejectsInsufficientFunds(t *testing.T) {
	e, _ := newFundedTestEngine(t, 1000)
	_, err := e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: randomAddress(), Amount: 5_000_000_000}},
		Fee:          e.policy.MinimumFee,
	})
	if kind, _ := walleterror.KindOf(err); kind != walleterror.WrongAmount {
		t.Fatalf("kind = %v, want WrongAmount", kind)
	}
}

func TestMakeTransactionWithoutChangeDestinationRequiresOneWhenAmbiguous(t *testing.T) {
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
	fundAccount(t, e, e.accounts[addr2.SpendPublicKey], 5_000_000_000, 2)

	_, err = e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: randomAddress(), Amount: 1_000_000_000}},
		Fee:          e.policy.MinimumFee,
	})
	if kind, _ := walleterror.KindOf(err); kind != walleterror.DestinationAddressRequired {
		t.Fatalf("kind = %v, want DestinationAddressRequired", kind)
	}
}

func TestTrackingAddressCannotFundASpend(t *testing.T) {
	viewSecret, _ := xcrypto.GenerateKeyPair()
	e := New(node.NewStubNode(), xlog.New(io.Discard, "test"), viewSecret, [32]byte{9}, 0)
	_, spendPublic := xcrypto.GenerateKeyPair()
	addr, err := e.CreateTrackingAddress(spendPublic)
	if err != nil {
		t.Fatalf("CreateTrackingAddress: %v", err)
	}
	fundAccount(t, e, e.accounts[addr.SpendPublicKey], 5_000_000_000, 1)

	_, err = e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: randomAddress(), Amount: 1_000_000_000}},
		Fee:          e.policy.MinimumFee,
	})
	if kind, _ := walleterror.KindOf(err); kind != walleterror.TxTransferImpossible {
		t.Fatalf("kind = %v, want TxTransferImpossible", kind)
	}
}

func TestCommitTransactionRelaysAndRecordsHistory(t *testing.T) {
	e, _ := newFundedTestEngine(t, 5_000_000_000)
	dest := randomAddress()

	id, err := e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: dest, Amount: 1_000_000_000}},
		Fee:          e.policy.MinimumFee,
	})
	if err != nil {
		t.Fatalf("makeTransaction: %v", err)
	}

	index, err := e.CommitTransaction(context.Background(), id)
	if err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}
	if index != 0 {
		t.Fatalf("history index = %d, want 0", index)
	}
	if e.history[0].State != TxSucceeded {
		t.Fatalf("history[0].State = %v, want Succeeded", e.history[0].State)
	}

	stub := e.nd.(*node.StubNode)
	if len(stub.Relayed()) != 1 {
		t.Fatalf("Relayed() has %d transactions, want 1", len(stub.Relayed()))
	}

	if _, err := e.CommitTransaction(context.Background(), id); err == nil {
		t.Fatalf("second CommitTransaction on the same id should fail")
	}
}

func TestRollbackUncommittedTransactionUnlocksOutputs(t *testing.T) {
	e, addr := newFundedTestEngine(t, 5_000_000_000)
	dest := randomAddress()

	id, err := e.makeTransaction(context.Background(), TransferParams{
		Destinations: []Destination{{Address: dest, Amount: 1_000_000_000}},
		Fee:          e.policy.MinimumFee,
	})
	if err != nil {
		t.Fatalf("makeTransaction: %v", err)
	}

	e.mu.Lock()
	lockedBefore := len(e.lockedOutputs)
	e.mu.Unlock()
	if lockedBefore == 0 {
		t.Fatalf("expected at least one locked output after makeTransaction")
	}

	if err := e.RollbackUncommittedTransaction(id); err != nil {
		t.Fatalf("RollbackUncommittedTransaction: %v", err)
	}

	e.mu.Lock()
	lockedAfter := len(e.lockedOutputs)
	_, stillPending := e.pending[id]
	e.mu.Unlock()
	if lockedAfter != 0 {
		t.Fatalf("lockedOutputs still has %d entries after rollback, want 0", lockedAfter)
	}
	if stillPending {
		t.Fatalf("pending transaction still present after rollback")
	}

	// The unlocked output should be selectable again.
	_, err = e.makeTransaction(context.Background(), TransferParams{
		Destinations:      []Destination{{Address: dest, Amount: 1_000_000_000}},
		Fee:               e.policy.MinimumFee,
		ChangeDestination: &addr,
	})
	if err != nil {
		t.Fatalf("makeTransaction after rollback: %v", err)
	}
}

func TestDecomposeAmountFoldsDustIntoOneChunk(t *testing.T) {
	chunks := decomposeAmount(123456, 100)
	var sum uint64
	seenOrders := make(map[uint64]bool)
	for _, c := range chunks {
		sum += c
		order := uint64(1)
		for c >= 10 && c%10 == 0 {
			c /= 10
			order *= 10
		}
		if seenOrders[order] {
			t.Fatalf("decomposeAmount produced two chunks of the same order of magnitude: %v", chunks)
		}
		seenOrders[order] = true
	}
	if sum != 123456 {
		t.Fatalf("decomposeAmount(123456, 100) sums to %d, want 123456", sum)
	}
}

func TestDecomposeAmountZero(t *testing.T) {
	if chunks := decomposeAmount(0, 100); chunks != nil {
		t.Fatalf("decomposeAmount(0, ...) = %v, want nil", chunks)
	}
}
