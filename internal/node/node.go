// Package node defines the blockchain node boundary the synchronizer and
// wallet engine consume. The original CryptoNote INode contract is
// callback-based ("all calls are async with a completion callback
// reporting an error code"); this package expresses the same contract
// the idiomatic Go way rivine's own ConsensusSet interface does it:
// context-scoped, synchronous-looking methods that return a value and an
// error, with a small observer interface for the few genuinely
// asynchronous push notifications (new local tip, pool changed, and so
// on).
package node

import (
	"context"
	"errors"

	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

// Hash identifies a block or transaction.
type Hash [32]byte

// IdentifiedTransaction pairs a transaction with the hash it is known by
// over the node boundary (the core never recomputes transaction hashes
// itself).
type IdentifiedTransaction struct {
	Hash        Hash
	Transaction *xtransaction.Transaction
}

// BlockEntry is one block as seen over the node boundary: its identity,
// position, and the transactions it carries (miner transaction first).
type BlockEntry struct {
	Hash         Hash
	Height       uint64
	Timestamp    uint64
	Transactions []IdentifiedTransaction
}

// RandomOutput is one candidate ring member returned by
// GetRandomOutsByAmounts.
type RandomOutput struct {
	GlobalIndex uint64
	PublicKey   xcrypto.PublicKey
}

// AmountOuts pairs an amount with the decoy outputs the node found for
// it.
type AmountOuts struct {
	Amount uint64
	Outs   []RandomOutput
}

// ErrNotEnoughDecoys is wrapped into a walleterror.MixinCountTooBig when
// GetRandomOutsByAmounts cannot satisfy the requested mixin for some
// amount.
var ErrNotEnoughDecoys = errors.New("node: not enough decoy outputs for requested mixin")

// Node is the blockchain node boundary. Every method may fail with a
// walleterror.Error of kind NodeError (transport failure) or Interrupted
// (the call was in flight when the caller's context was cancelled,
// mirroring a caller's stop() short-circuiting pending node RPCs).
type Node interface {
	GetLastLocalBlockHeight(ctx context.Context) (uint64, error)
	GetLastKnownBlockHeight(ctx context.Context) (uint64, error)
	GetLastLocalBlockTimestamp(ctx context.Context) (uint64, error)
	GetPeerCount(ctx context.Context) (int, error)
	IsSynchronized(ctx context.Context) (bool, error)

	// GetNewBlocks and QueryBlocks are the sparse-chain resumable fetch:
	// knownIDs is the caller's exponentially-spaced ancestor list, most
	// recent first. startHeight identifies where blocks begins in the
	// canonical chain.
	GetNewBlocks(ctx context.Context, knownIDs []Hash) (blocks []BlockEntry, startHeight uint64, err error)
	QueryBlocks(ctx context.Context, knownIDs []Hash, minTimestamp uint64) (blocks []BlockEntry, startHeight uint64, err error)

	GetPoolSymmetricDifference(ctx context.Context, knownPoolTxIDs []Hash, knownBlockID Hash) (isBlockchainActual bool, newTxs []IdentifiedTransaction, deletedIDs []Hash, err error)

	GetTransactionOutsGlobalIndices(ctx context.Context, txHash Hash) ([]uint64, error)

	GetRandomOutsByAmounts(ctx context.Context, amounts []uint64, mixIn uint64) ([]AmountOuts, error)

	RelayTransaction(ctx context.Context, tx *xtransaction.Transaction) error
}

// Observer receives the node's asynchronous push notifications. A
// synchronizer worker registers one of these to learn about new tips and
// pool activity between its own poll cycles.
type Observer interface {
	LocalBlockchainUpdated(height uint64)
	LastKnownBlockHeightUpdated(height uint64)
	PoolChanged()
	BlockchainSynchronized(topHeight uint64)
}

// ObservableNode is implemented by nodes that support observer
// registration; the in-memory StubNode below does.
type ObservableNode interface {
	Node
	Subscribe(o Observer)
	Unsubscribe(o Observer)
}

// WrapTransport classifies a raw transport error as a walleterror with
// kind NodeError, unless ctx has already been cancelled, in which case it
// is classified as Interrupted.
func WrapTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return walleterror.New(walleterror.Interrupted, err)
	}
	return walleterror.New(walleterror.NodeError, err)
}
