// Package walletengine implements the Wallet Engine: the
// user-facing surface that owns a family of addresses sharing one view
// keypair, wires them into an internal/consumer.Consumer and
// internal/synchronizer.Synchronizer pair, and exposes balances,
// transaction assembly, fusion transactions, an event queue and a
// transaction history.
package walletengine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/amjuarez/bytecoin-sub000/internal/consumer"
	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/synchronizer"
	"github.com/amjuarez/bytecoin-sub000/internal/transfers"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/pkg/xlog"
)

// eventQueueSoftCap bounds the buffered transaction-class event queue.
// Transaction events never drop while the engine runs: emitting one waits
// for room in the queue, or for Stop. Progress events do not use this
// queue; they always coalesce into a single pending slot.
const eventQueueSoftCap = 256

// account is one address this engine's owner controls: a spend keypair
// (zero secret for a tracking-only address) sharing the engine's view
// keypair, and the container its consumer subscription feeds.
type account struct {
	address        Address
	spendSecretKey xcrypto.SecretKey
	container      *transfers.Container
}

func (a *account) tracking() bool {
	return a.spendSecretKey.IsZero()
}

// Engine is the Wallet Engine: the composition root a CLI or RPC surface
// drives directly.
type Engine struct {
	mu sync.Mutex

	nd            node.Node
	log           *xlog.Logger
	viewSecretKey xcrypto.SecretKey
	primarySeed   [32]byte
	nextIndex     uint64
	spendableAge  uint64
	policy        Policy
	store         *transfers.Store

	consumer     *consumer.Consumer
	synchronizer *synchronizer.Synchronizer

	accounts map[xcrypto.PublicKey]*account

	pending       map[uuid.UUID]*pendingTransaction
	lockedOutputs map[lockKey]uuid.UUID

	history     []HistoryEntry
	blockHashes []node.Hash

	events     chan Event
	progressMu sync.Mutex
	progress   *Event
	progressCh chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
}

// lockKey identifies one candidate spend source, the granularity
// LockedForPending locks at.
type lockKey struct {
	SpendPublicKey xcrypto.PublicKey
	TxHash         node.Hash
	OutputIndex    int
}

// New creates a Wallet Engine for a fresh account family: viewSecretKey
// is generated once and shared by every address this engine creates;
// primarySeed drives deterministic address derivation for CreateAddress.
// spendableAge is the confirmation depth every new container requires.
func New(nd node.Node, log *xlog.Logger, viewSecretKey xcrypto.SecretKey, primarySeed [32]byte, spendableAge uint64) *Engine {
	e := &Engine{
		nd:            nd,
		log:           log,
		viewSecretKey: viewSecretKey,
		primarySeed:   primarySeed,
		spendableAge:  spendableAge,
		policy:        DefaultPolicy(),
		consumer:      consumer.NewConsumer(viewSecretKey),
		accounts:      make(map[xcrypto.PublicKey]*account),
		pending:       make(map[uuid.UUID]*pendingTransaction),
		lockedOutputs: make(map[lockKey]uuid.UUID),
		events:        make(chan Event, eventQueueSoftCap),
		progressCh:    make(chan struct{}, 1),
		stopped:       make(chan struct{}),
	}
	e.synchronizer = synchronizer.New(nd, log)
	e.synchronizer.Subscribe(e)
	if err := e.synchronizer.AddConsumer(&blockTrackingConsumer{Consumer: e.consumer, e: e}); err != nil {
		// AddConsumer only fails if the synchronizer is Running, which is
		// impossible for one we just constructed.
		panic(fmt.Sprintf("walletengine: unexpected AddConsumer failure: %v", err))
	}
	return e
}

// blockTrackingConsumer wraps the engine's consumer.Consumer to also
// record the block hash ledger GetBlockCount/GetBlockHashes report,
// since synchronizer.Consumer carries no such accessor of its own and
// GetConsumerState is only legal while the synchronizer is Stopped.
type blockTrackingConsumer struct {
	*consumer.Consumer
	e *Engine
}

func (b *blockTrackingConsumer) OnNewBlocks(ctx context.Context, nd node.Node, blocks []node.BlockEntry, startHeight uint64) error {
	if err := b.Consumer.OnNewBlocks(ctx, nd, blocks, startHeight); err != nil {
		return err
	}
	b.e.mu.Lock()
	for _, block := range blocks {
		if uint64(len(b.e.blockHashes)) == startHeight {
			b.e.blockHashes = append(b.e.blockHashes, block.Hash)
		}
		startHeight++
	}
	b.e.mu.Unlock()
	return nil
}

func (b *blockTrackingConsumer) OnBlockchainDetach(height uint64) []node.Hash {
	removed := b.Consumer.OnBlockchainDetach(height)
	b.e.mu.Lock()
	if uint64(len(b.e.blockHashes)) > height {
		b.e.blockHashes = b.e.blockHashes[:height]
	}
	b.e.mu.Unlock()
	return removed
}

// ViewPublicKey returns the view public key shared by every address this
// engine creates.
func (e *Engine) ViewPublicKey() xcrypto.PublicKey {
	return e.viewSecretKey.PublicKey()
}

// Start begins the blockchain synchronizer's pull loop.
func (e *Engine) Start() error {
	return e.synchronizer.Start()
}

// Stop halts the synchronizer, flushes every account's container into
// the attached store (if any) and unblocks every pending GetEvent caller.
// The engine stays usable for history/balance queries, and Start may be
// called again afterwards. Stop does not block transaction creation or
// commit, and the stopped signal that releases GetEvent callers is not
// reset by a later Start.
func (e *Engine) Stop() error {
	err := e.synchronizer.Stop()
	e.mu.Lock()
	e.saveContainersToStoreLocked()
	e.mu.Unlock()
	e.stopOnce.Do(func() { close(e.stopped) })
	return err
}

func addressEntropy(seed [32]byte, index uint64) [32]byte {
	h := sha256.New()
	h.Write(seed[:])
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	h.Write(idx[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CreateAddress generates a fresh spend keypair deterministically from
// the engine's primary seed and registers it as a spendable address.
func (e *Engine) CreateAddress() (Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entropy := addressEntropy(e.primarySeed, e.nextIndex)
	sk, pk := xcrypto.GenerateKeyPairDeterministic(entropy)
	e.nextIndex++
	return e.registerAccountLocked(pk, sk)
}

// CreateAddressWithSecret registers an imported spend secret key as a
// spendable address.
func (e *Engine) CreateAddressWithSecret(spendSecret xcrypto.SecretKey) (Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registerAccountLocked(spendSecret.PublicKey(), spendSecret)
}

// CreateTrackingAddress registers a spend public key with no
// corresponding secret: the resulting address detects incoming outputs
// but can never spend them (scenario S5).
func (e *Engine) CreateTrackingAddress(spendPublic xcrypto.PublicKey) (Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registerAccountLocked(spendPublic, xcrypto.SecretKey{})
}

// registerAccountLocked registers spendPublic backed by whatever e.store
// has cached for it, or an empty container if nothing is cached: an
// imported spend key (CreateAddressWithSecret/CreateTrackingAddress)
// resumes from its last Stop instead of resyncing from genesis.
func (e *Engine) registerAccountLocked(spendPublic xcrypto.PublicKey, spendSecret xcrypto.SecretKey) (Address, error) {
	return e.restoreAccountLocked(spendPublic, spendSecret, e.loadCachedContainerLocked(spendPublic))
}

// restoreAccountLocked registers an account backed by an
// already-populated container, the path load uses to bring back a
// saved account's cached output state instead of starting it empty.
func (e *Engine) restoreAccountLocked(spendPublic xcrypto.PublicKey, spendSecret xcrypto.SecretKey, container *transfers.Container) (Address, error) {
	if _, exists := e.accounts[spendPublic]; exists {
		return Address{}, walleterror.Newf(walleterror.BadAddress, "address already exists in this wallet")
	}
	sub := consumer.Subscription{
		SpendPublicKey:          spendPublic,
		SpendSecretKey:          spendSecret,
		TransactionSpendableAge: e.spendableAge,
		Container:               container,
	}
	if err := e.consumer.AddSubscription(sub); err != nil {
		return Address{}, walleterror.New(walleterror.InternalWalletError, err)
	}
	addr := Address{ViewPublicKey: e.viewSecretKey.PublicKey(), SpendPublicKey: spendPublic}
	e.accounts[spendPublic] = &account{address: addr, spendSecretKey: spendSecret, container: container}
	return addr, nil
}

// DeleteAddress removes an address, its container, and any store cache
// entry for it. Outputs locked by a still-pending transaction
// referencing this address are left locked; the caller should roll
// those back first.
func (e *Engine) DeleteAddress(addr Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.accounts[addr.SpendPublicKey]; !ok {
		return walleterror.New(walleterror.AddressNotFound, nil)
	}
	e.consumer.RemoveSubscription(addr.SpendPublicKey)
	delete(e.accounts, addr.SpendPublicKey)
	if e.store != nil {
		key := hex.EncodeToString(addr.SpendPublicKey[:])
		if err := e.store.DeleteContainer(key); err != nil {
			e.log.Println("walletengine: deleting cached container for", key, "failed:", err)
		}
	}
	return nil
}

// resolveAccounts maps a possibly-empty address list to the accounts it
// names; an empty list means "every address in this wallet".
func (e *Engine) resolveAccounts(addrs []Address) ([]*account, error) {
	if len(addrs) == 0 {
		accounts := make([]*account, 0, len(e.accounts))
		for _, acc := range e.accounts {
			accounts = append(accounts, acc)
		}
		return accounts, nil
	}
	accounts := make([]*account, 0, len(addrs))
	for _, addr := range addrs {
		acc, ok := e.accounts[addr.SpendPublicKey]
		if !ok {
			return nil, walleterror.New(walleterror.AddressNotFound, fmt.Errorf("address %s not found", addr.String()))
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// GetActualBalance sums Unlocked∖Spent across the given addresses (every
// address in the wallet if none are given).
func (e *Engine) GetActualBalance(addrs ...Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	accounts, err := e.resolveAccounts(addrs)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, acc := range accounts {
		total += acc.container.Balance(transfers.IncludeUnlocked)
	}
	return total, nil
}

// GetPendingBalance sums Unconfirmed+SoftLocked across the given
// addresses, minus whatever this engine currently has locked for a
// not-yet-committed or not-yet-confirmed transaction.
func (e *Engine) GetPendingBalance(addrs ...Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	accounts, err := e.resolveAccounts(addrs)
	if err != nil {
		return 0, err
	}
	wanted := make(map[xcrypto.PublicKey]bool, len(accounts))
	var total uint64
	for _, acc := range accounts {
		wanted[acc.address.SpendPublicKey] = true
		total += acc.container.Balance(transfers.IncludeUnconfirmed | transfers.IncludeSoftLocked)
	}
	var locked uint64
	for key, id := range e.lockedOutputs {
		if !wanted[key.SpendPublicKey] {
			continue
		}
		if p, ok := e.pending[id]; ok {
			locked += p.lockedAmount(key)
		}
	}
	if locked > total {
		return 0, nil
	}
	return total - locked, nil
}

// SynchronizationProgressUpdated implements synchronizer.Observer.
func (e *Engine) SynchronizationProgressUpdated(current, total uint64) {
	e.progressMu.Lock()
	e.progress = &Event{Kind: EventSyncProgressUpdated, Current: current, Total: total}
	e.progressMu.Unlock()
	select {
	case e.progressCh <- struct{}{}:
	default:
	}
}

// SynchronizationCompleted implements synchronizer.Observer.
func (e *Engine) SynchronizationCompleted(err error) {
	e.emitTransactionEvent(Event{Kind: EventSyncCompleted, Err: err})
}

// emitTransactionEvent delivers a transaction-class event, which must
// never be dropped; it only gives up if the engine has been stopped.
func (e *Engine) emitTransactionEvent(ev Event) {
	select {
	case e.events <- ev:
	case <-e.stopped:
	}
}

// GetEvent blocks until an event is available, the engine is stopped, or
// ctx is cancelled.
func (e *Engine) GetEvent(ctx context.Context) (Event, bool) {
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return Event{}, false
			}
			return ev, true
		case <-e.progressCh:
			e.progressMu.Lock()
			p := e.progress
			e.progress = nil
			e.progressMu.Unlock()
			if p != nil {
				return *p, true
			}
		case <-e.stopped:
			select {
			case ev, ok := <-e.events:
				if ok {
					return ev, true
				}
			default:
			}
			return Event{}, false
		case <-ctx.Done():
			return Event{}, false
		}
	}
}
