// Package consumer implements the per-account output detector that sits
// between a blockchain node and a transfers container: for every block
// and pool transaction the synchronizer hands it, it works out which
// outputs belong to which subscribed address and feeds them to the
// matching transfers.Container.
package consumer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/transfers"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

// deletedPoolCacheSize bounds the recently-deleted-pool-tx cache: a
// consumer remembers up to this many pool tx hashes it deleted so a
// late-arriving duplicate deletion notice from the node is a silent no-op
// rather than a surprise. Hashes leave the cache only through LRU
// eviction; there is no time-based expiry, and mempoolTxLiveTime and
// numberOfPeriodsToForgetTxDeletedFromPool are not used by the cache.
const (
	mempoolTxLiveTime                        = 86400
	numberOfPeriodsToForgetTxDeletedFromPool = 5
	deletedPoolCacheSize                     = 1 << 16
)

// SyncStart is the height/timestamp pair a subscription begins scanning
// the chain from.
type SyncStart struct {
	Height    uint64
	Timestamp uint64
}

// Subscription binds one address (a spend keypair sharing the consumer's
// view-secret) to the transfers.Container that records its outputs. A
// zero SpendSecretKey marks a tracking account: it can
// detect incoming outputs but never spend them.
type Subscription struct {
	SpendPublicKey          xcrypto.PublicKey
	SpendSecretKey          xcrypto.SecretKey
	SyncStart               SyncStart
	TransactionSpendableAge uint64
	Container               *transfers.Container
}

func (s *Subscription) tracking() bool {
	return s.SpendSecretKey.IsZero()
}

// Consumer detects outputs for every subscription sharing one
// view-secret key, and dispatches the admissions a synchronizer's block
// and pool phases produce to each subscription's container.
type Consumer struct {
	mu sync.RWMutex

	viewSecretKey xcrypto.SecretKey
	subs          map[xcrypto.PublicKey]*Subscription

	recentlyDeleted *lru.Cache
}

// NewConsumer creates a consumer for the account family sharing
// viewSecretKey.
func NewConsumer(viewSecretKey xcrypto.SecretKey) *Consumer {
	cache, _ := lru.New(deletedPoolCacheSize)
	return &Consumer{
		viewSecretKey:   viewSecretKey,
		subs:            make(map[xcrypto.PublicKey]*Subscription),
		recentlyDeleted: cache,
	}
}

// AddSubscription registers a new address under this consumer.
func (c *Consumer) AddSubscription(sub Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub.Container == nil {
		return fmt.Errorf("consumer: subscription requires a container")
	}
	if _, exists := c.subs[sub.SpendPublicKey]; exists {
		return fmt.Errorf("consumer: subscription already exists for this address")
	}
	cp := sub
	c.subs[sub.SpendPublicKey] = &cp
	return nil
}

// RemoveSubscription unregisters an address; its container is left for
// the caller to discard.
func (c *Consumer) RemoveSubscription(spendPublic xcrypto.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, spendPublic)
}

// ViewPublicKey identifies this consumer for synchronizer persistence
// (matches the saved subscription set by view-public-key).
func (c *Consumer) ViewPublicKey() xcrypto.PublicKey {
	return c.viewSecretKey.PublicKey()
}

// GetSyncStart returns the component-wise minimum (height, timestamp)
// over every subscription, the point the synchronizer must resume this
// consumer from. The second result is false if the consumer has no
// subscriptions yet.
func (c *Consumer) GetSyncStart() (SyncStart, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subs) == 0 {
		return SyncStart{}, false
	}
	first := true
	var min SyncStart
	for _, sub := range c.subs {
		if first {
			min = sub.SyncStart
			first = false
			continue
		}
		if sub.SyncStart.Height < min.Height {
			min.Height = sub.SyncStart.Height
		}
		if sub.SyncStart.Timestamp < min.Timestamp {
			min.Timestamp = sub.SyncStart.Timestamp
		}
	}
	return min, true
}

// sortedSubs returns every subscription ordered by spend-public-key
// bytes, the address-key order the locking discipline requires when one
// block touches more than one of this consumer's containers.
func (c *Consumer) sortedSubs() []*Subscription {
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		a, b := subs[i].SpendPublicKey, subs[j].SpendPublicKey
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return subs
}

func skipBySyncStart(sub *Subscription, height, blockTimestamp uint64) bool {
	return blockTimestamp < sub.SyncStart.Timestamp && height <= sub.SyncStart.Height
}

// detectForSub finds the outputs of tx that belong to sub's spend key.
// GlobalOutputIndex is left unset; processBlock fills it in from the
// node's per-transaction indices when it admits a confirmed transaction.
func (c *Consumer) detectForSub(sub *Subscription, tx *xtransaction.Transaction) []transfers.OwnedOutput {
	derivation := xcrypto.KeyDerivation(tx.PublicKey(), c.viewSecretKey)
	var owned []transfers.OwnedOutput
	for i, out := range tx.Outputs() {
		if out.Type != xtransaction.OutputTypeKey {
			continue
		}
		expected := xcrypto.DerivePublicKey(derivation, uint64(i), sub.SpendPublicKey)
		if expected != out.Key.PublicKey {
			continue
		}
		owned = append(owned, transfers.OwnedOutput{
			OutputIndexInTransaction: i,
			Amount:                   out.Key.Amount,
			Type:                     transfers.OutputKey,
			OutputKey:                out.Key.PublicKey,
			KeyImage:                 c.deriveKeyImage(sub, derivation, uint64(i), expected),
		})
	}
	return owned
}

// deriveKeyImage computes the real key image for a non-tracking
// subscription. A tracking subscription has no spend secret and so
// cannot produce the one defined by GenerateKeyImage; it instead gets a
// stable pseudo key image hashed from the one-time public key, enough
// for this container's own visible/hidden bookkeeping even though it can
// never match the real key image a spend would later reveal on chain
// (see DESIGN.md).
func (c *Consumer) deriveKeyImage(sub *Subscription, derivation xcrypto.Derivation, idx uint64, onetimePublic xcrypto.PublicKey) xcrypto.KeyImage {
	if sub.tracking() {
		h := xcrypto.HashToScalar(onetimePublic[:])
		return xcrypto.KeyImage(h.PublicKey())
	}
	onetimeSecret := xcrypto.DeriveSecretKey(derivation, idx, sub.SpendSecretKey)
	return xcrypto.GenerateKeyImage(onetimePublic, onetimeSecret)
}

// txPlan is the per-transaction work resolved during a block's node-call
// phase, before any container is touched.
type txPlan struct {
	itx           node.IdentifiedTransaction
	needsIndices  bool
	globalIndexes []uint64
	ownedBySub    map[xcrypto.PublicKey][]transfers.OwnedOutput
	pendingBySub  map[xcrypto.PublicKey]bool
}

// OnNewBlocks applies a contiguous run of blocks starting at startHeight,
// one at a time, each as an all-or-nothing admission: every node call a
// block's transactions need is resolved before any of that block's
// container mutations happen, so a node failure partway through a block
// leaves no partial state.
func (c *Consumer) OnNewBlocks(ctx context.Context, nd node.Node, blocks []node.BlockEntry, startHeight uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for bi, block := range blocks {
		if err := c.processBlock(ctx, nd, block, startHeight+uint64(bi)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) processBlock(ctx context.Context, nd node.Node, block node.BlockEntry, height uint64) error {
	subs := c.sortedSubs()

	plans := make([]*txPlan, len(block.Transactions))
	for ti, itx := range block.Transactions {
		p := &txPlan{
			itx:          itx,
			ownedBySub:   make(map[xcrypto.PublicKey][]transfers.OwnedOutput),
			pendingBySub: make(map[xcrypto.PublicKey]bool),
		}
		for _, sub := range subs {
			if skipBySyncStart(sub, height, block.Timestamp) {
				continue
			}
			if owned := c.detectForSub(sub, itx.Transaction); len(owned) > 0 {
				p.ownedBySub[sub.SpendPublicKey] = owned
				p.needsIndices = true
			}
			if info, err := sub.Container.GetTransactionInformation(itx.Hash); err == nil && !info.InBlockchain() {
				p.pendingBySub[sub.SpendPublicKey] = true
				p.needsIndices = true
			}
		}
		plans[ti] = p
	}

	// Phase 1: resolve every node call this block needs before mutating
	// any container.
	for _, p := range plans {
		if !p.needsIndices {
			continue
		}
		indices, err := nd.GetTransactionOutsGlobalIndices(ctx, p.itx.Hash)
		if err != nil {
			return node.WrapTransport(ctx, err)
		}
		p.globalIndexes = indices
	}

	// Phase 2: mutate. By this point every node call has already
	// succeeded, so a failure here is a container-consistency bug, not
	// the node-communication failure the all-or-nothing rule is about.
	for ti, p := range plans {
		info := transfers.BlockInfo{Height: height, Timestamp: block.Timestamp, TxIndex: uint32(ti)}
		for _, sub := range subs {
			if skipBySyncStart(sub, height, block.Timestamp) {
				continue
			}
			if p.pendingBySub[sub.SpendPublicKey] {
				if err := sub.Container.MarkTransactionConfirmed(info, p.itx.Hash, p.globalIndexes); err != nil {
					return err
				}
				continue
			}
			owned := p.ownedBySub[sub.SpendPublicKey]
			for i := range owned {
				owned[i].GlobalOutputIndex = p.globalIndexes[owned[i].OutputIndexInTransaction]
			}
			if _, err := sub.Container.AddTransaction(info, p.itx.Hash, p.itx.Transaction, owned); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnPoolUpdated admits newly-seen pool transactions and retires deleted
// ones, using the same per-block output detection. Admission failures for
// already-known transactions are silent; the first other error
// encountered is returned, but every subscription still receives the
// update (matching the synchronizer's own "subsequent consumers still
// receive the update" rule, applied here at the subscription level).
func (c *Consumer) OnPoolUpdated(added []node.IdentifiedTransaction, deleted []node.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.sortedSubs()
	var firstErr error

	for _, itx := range added {
		for _, sub := range subs {
			owned := c.detectForSub(sub, itx.Transaction)
			for i := range owned {
				owned[i].GlobalOutputIndex = transfers.UnconfirmedGlobalIndex
			}
			info := transfers.BlockInfo{Height: transfers.UnconfirmedHeight}
			if _, err := sub.Container.AddTransaction(info, itx.Hash, itx.Transaction, owned); err != nil {
				if err != transfers.ErrAlreadyAdded && firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	for _, hash := range deleted {
		if _, ok := c.recentlyDeleted.Get(hash); ok {
			continue
		}
		c.recentlyDeleted.Add(hash, struct{}{})
		for _, sub := range subs {
			if err := sub.Container.DeleteUnconfirmedTransaction(hash); err != nil {
				if err != transfers.ErrNotFound && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// OnBlockchainDetach rolls every subscription's container back to below
// height h, returning the union of transaction hashes removed across all
// of them.
func (c *Consumer) OnBlockchainDetach(h uint64) []node.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[node.Hash]bool)
	var removed []node.Hash
	for _, sub := range c.sortedSubs() {
		for _, hash := range sub.Container.Detach(h) {
			if !seen[hash] {
				seen[hash] = true
				removed = append(removed, hash)
			}
		}
	}
	return removed
}
