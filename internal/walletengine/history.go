package walletengine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
)

// BlockTransactions groups the history entries confirmed in one block,
// the shape GetTransactions reports.
type BlockTransactions struct {
	BlockHash    node.Hash
	Transactions []HistoryEntry
}

// GetTransactionCount returns how many transactions are in history,
// committed or not.
func (e *Engine) GetTransactionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// GetTransaction returns the history entry at idx.
func (e *Engine) GetTransaction(idx int) (HistoryEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx >= len(e.history) {
		return HistoryEntry{}, walleterror.Newf(walleterror.IndexOutOfRange, "transaction index %d out of range [0,%d)", idx, len(e.history))
	}
	return e.history[idx], nil
}

// GetTransactionByHash returns a history entry and its index, looked up
// by transaction hash.
func (e *Engine) GetTransactionByHash(hash node.Hash) (HistoryEntry, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, entry := range e.history {
		if entry.Hash == hash {
			return entry, i, nil
		}
	}
	return HistoryEntry{}, 0, walleterror.New(walleterror.IndexOutOfRange, fmt.Errorf("no transaction with hash %x", hash))
}

// GetTransactionTransferCount reports how many Transfers the history
// entry at idx carries.
func (e *Engine) GetTransactionTransferCount(idx int) (int, error) {
	entry, err := e.GetTransaction(idx)
	if err != nil {
		return 0, err
	}
	return len(entry.Transfers), nil
}

// GetTransactionTransfer returns the i'th Transfer of the history entry
// at idx.
func (e *Engine) GetTransactionTransfer(idx, i int) (Transfer, error) {
	entry, err := e.GetTransaction(idx)
	if err != nil {
		return Transfer{}, err
	}
	if i < 0 || i >= len(entry.Transfers) {
		return Transfer{}, walleterror.Newf(walleterror.IndexOutOfRange, "transfer index %d out of range [0,%d)", i, len(entry.Transfers))
	}
	return entry.Transfers[i], nil
}

// GetBlockCount reports how many blocks this engine has recorded a hash
// for, the height its own block-hash ledger has advanced to.
func (e *Engine) GetBlockCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.blockHashes))
}

// GetBlockHashes returns up to count block hashes starting at height
// from.
func (e *Engine) GetBlockHashes(from uint64, count int) ([]node.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if from > uint64(len(e.blockHashes)) {
		return nil, walleterror.Newf(walleterror.IndexOutOfRange, "block height %d out of range [0,%d]", from, len(e.blockHashes))
	}
	end := from + uint64(count)
	if end > uint64(len(e.blockHashes)) {
		end = uint64(len(e.blockHashes))
	}
	return append([]node.Hash(nil), e.blockHashes[from:end]...), nil
}

// GetTransactions groups committed history entries confirmed in the
// count blocks starting at height from, one BlockTransactions per block
// that has a resolvable hash.
func (e *Engine) GetTransactions(from uint64, count int) ([]BlockTransactions, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	byHeight := make(map[uint64][]HistoryEntry)
	for _, entry := range e.history {
		if entry.InBlockchain() {
			byHeight[entry.BlockHeight] = append(byHeight[entry.BlockHeight], entry)
		}
	}

	end := from + uint64(count)
	if end > uint64(len(e.blockHashes)) {
		end = uint64(len(e.blockHashes))
	}
	if from > end {
		return nil, walleterror.Newf(walleterror.IndexOutOfRange, "block height %d out of range [0,%d]", from, len(e.blockHashes))
	}

	result := make([]BlockTransactions, 0, end-from)
	for h := from; h < end; h++ {
		result = append(result, BlockTransactions{BlockHash: e.blockHashes[h], Transactions: byHeight[h]})
	}
	return result, nil
}

// GetTransactionsByHash is GetTransactions anchored at a block hash
// instead of a height.
func (e *Engine) GetTransactionsByHash(blockHash node.Hash, count int) ([]BlockTransactions, error) {
	e.mu.Lock()
	height, found := -1, false
	for i, h := range e.blockHashes {
		if h == blockHash {
			height, found = i, true
			break
		}
	}
	e.mu.Unlock()
	if !found {
		return nil, walleterror.New(walleterror.IndexOutOfRange, fmt.Errorf("no block with hash %x", blockHash))
	}
	return e.GetTransactions(uint64(height), count)
}

// GetUnconfirmedTransactions returns every committed history entry still
// awaiting confirmation.
func (e *Engine) GetUnconfirmedTransactions() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	var result []HistoryEntry
	for _, entry := range e.history {
		if entry.State == TxSucceeded && !entry.InBlockchain() {
			result = append(result, entry)
		}
	}
	return result
}

// GetDelayedTransactionIds returns the ids of every transaction still in
// the Created state: built and signed, but neither relayed nor
// cancelled.
func (e *Engine) GetDelayedTransactionIds() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []uuid.UUID
	for id, p := range e.pending {
		if p.state == TxCreated {
			ids = append(ids, id)
		}
	}
	return ids
}
