package node

import (
	"context"
	"sync"

	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

// StubNode is an in-memory Node used by package tests throughout the
// module, grounded on original_source's INodeTrivialRefreshStub: a node
// double that holds an explicit chain and pool the test builds up by
// hand, rather than talking to a real network.
type StubNode struct {
	mu sync.Mutex

	blocks       []BlockEntry
	pool         map[Hash]*xtransaction.Transaction
	relayed      []*xtransaction.Transaction
	outsByHash   map[Hash][]uint64
	randomOuts   map[uint64][]RandomOutput
	synchronized bool

	observers []Observer
}

// NewStubNode returns a StubNode seeded with a single genesis block at
// height 0.
func NewStubNode() *StubNode {
	return &StubNode{
		blocks:     []BlockEntry{{Hash: Hash{}, Height: 0, Timestamp: 0}},
		pool:       make(map[Hash]*xtransaction.Transaction),
		outsByHash: make(map[Hash][]uint64),
		randomOuts: make(map[uint64][]RandomOutput),
	}
}

func randomHash() Hash {
	var h Hash
	copy(h[:], xcrypto.RandomBytes(32))
	return h
}

// AppendBlock appends a new block to the stub's chain and notifies
// subscribed observers, mirroring startAlternativeChain/submitBlock in
// the original stub. Each transaction is assigned a fresh random hash and
// removed from the pool if present there.
func (s *StubNode) AppendBlock(txs []*xtransaction.Transaction) BlockEntry {
	s.mu.Lock()
	height := uint64(len(s.blocks))

	identified := make([]IdentifiedTransaction, len(txs))
	for i, tx := range txs {
		h := randomHash()
		identified[i] = IdentifiedTransaction{Hash: h, Transaction: tx}
		indices := make([]uint64, len(tx.Outputs()))
		for j := range indices {
			indices[j] = uint64(j)
		}
		s.outsByHash[h] = indices
		for ph, ptx := range s.pool {
			if ptx == tx {
				delete(s.pool, ph)
			}
		}
	}

	entry := BlockEntry{Hash: randomHash(), Height: height, Timestamp: height, Transactions: identified}
	s.blocks = append(s.blocks, entry)
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.LocalBlockchainUpdated(height)
	}
	return entry
}

// DetachTo truncates the chain so its new tip is at height h-1, the
// stub's analogue of a reorg.
func (s *StubNode) DetachTo(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h < uint64(len(s.blocks)) {
		s.blocks = s.blocks[:h]
	}
}

// AddToPool injects a transaction into the pending pool under hash.
func (s *StubNode) AddToPool(hash Hash, tx *xtransaction.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool[hash] = tx
}

// SetSynchronized toggles the value IsSynchronized reports.
func (s *StubNode) SetSynchronized(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synchronized = v
}

// SetRandomOuts seeds the decoys GetRandomOutsByAmounts returns for a
// given amount.
func (s *StubNode) SetRandomOuts(amount uint64, outs []RandomOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.randomOuts[amount] = outs
}

// Relayed returns every transaction passed to RelayTransaction, in order.
func (s *StubNode) Relayed() []*xtransaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*xtransaction.Transaction(nil), s.relayed...)
}

func (s *StubNode) GetLastLocalBlockHeight(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.blocks) - 1), nil
}

func (s *StubNode) GetLastKnownBlockHeight(ctx context.Context) (uint64, error) {
	return s.GetLastLocalBlockHeight(ctx)
}

func (s *StubNode) GetLastLocalBlockTimestamp(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[len(s.blocks)-1].Timestamp, nil
}

func (s *StubNode) GetPeerCount(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *StubNode) IsSynchronized(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synchronized, nil
}

func (s *StubNode) indexOf(hash Hash) int {
	for i, b := range s.blocks {
		if b.Hash == hash {
			return i
		}
	}
	return -1
}

// GetNewBlocks returns every block after the highest-height entry of
// knownIDs found in the chain (or from the genesis if none match).
func (s *StubNode) GetNewBlocks(ctx context.Context, knownIDs []Hash) ([]BlockEntry, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := -1
	for _, id := range knownIDs {
		if idx := s.indexOf(id); idx > start {
			start = idx
		}
	}
	return append([]BlockEntry(nil), s.blocks[start+1:]...), uint64(start + 1), nil
}

// QueryBlocks behaves like GetNewBlocks but also honors minTimestamp,
// never returning blocks older than it once a match has been found.
func (s *StubNode) QueryBlocks(ctx context.Context, knownIDs []Hash, minTimestamp uint64) ([]BlockEntry, uint64, error) {
	blocks, start, err := s.GetNewBlocks(ctx, knownIDs)
	if err != nil {
		return nil, 0, err
	}
	filtered := blocks[:0:0]
	for _, b := range blocks {
		if b.Timestamp >= minTimestamp {
			filtered = append(filtered, b)
		}
	}
	return filtered, start, nil
}

func (s *StubNode) GetPoolSymmetricDifference(ctx context.Context, knownPoolTxIDs []Hash, knownBlockID Hash) (bool, []IdentifiedTransaction, []Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[Hash]bool, len(knownPoolTxIDs))
	for _, h := range knownPoolTxIDs {
		known[h] = true
	}

	var added []IdentifiedTransaction
	for hash, tx := range s.pool {
		if !known[hash] {
			added = append(added, IdentifiedTransaction{Hash: hash, Transaction: tx})
		}
	}
	var deleted []Hash
	for h := range known {
		if _, ok := s.pool[h]; !ok {
			deleted = append(deleted, h)
		}
	}

	var zero Hash
	actual := knownBlockID == s.blocks[len(s.blocks)-1].Hash || knownBlockID == zero
	return actual, added, deleted, nil
}

func (s *StubNode) GetTransactionOutsGlobalIndices(ctx context.Context, txHash Hash) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	indices, ok := s.outsByHash[txHash]
	if !ok {
		return nil, WrapTransport(ctx, ErrNotEnoughDecoys)
	}
	return indices, nil
}

func (s *StubNode) GetRandomOutsByAmounts(ctx context.Context, amounts []uint64, mixIn uint64) ([]AmountOuts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]AmountOuts, 0, len(amounts))
	for _, amount := range amounts {
		outs := s.randomOuts[amount]
		if uint64(len(outs)) < mixIn {
			return nil, ErrNotEnoughDecoys
		}
		result = append(result, AmountOuts{Amount: amount, Outs: outs})
	}
	return result, nil
}

func (s *StubNode) RelayTransaction(ctx context.Context, tx *xtransaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayed = append(s.relayed, tx)
	return nil
}

func (s *StubNode) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *StubNode) Unsubscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}
