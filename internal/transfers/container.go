// Package transfers implements the per-account output ledger: the
// unconfirmed/soft-locked/unlocked/spent state machine for owned
// outputs, key-image collision resolution across a visible/hidden
// sibling chain, and the balance/history queries the wallet engine and
// consumer read from it.
package transfers

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

// UnconfirmedHeight is the sentinel block height recorded for a
// transaction still only in the pool.
const UnconfirmedHeight = ^uint64(0)

// UnconfirmedGlobalIndex is the sentinel global output index an owned
// output carries while its transaction is unconfirmed.
const UnconfirmedGlobalIndex = ^uint64(0)

// unlockTimeIsTimestamp is the RFC-ish CryptoNote threshold: an
// unlockTime below this is a block height, at or above it a Unix
// timestamp.
const unlockTimeIsTimestamp = 1 << 31

// minedMoneyUnlockWindow is the fixed additional maturity a base
// (coinbase) output requires before it can unlock, on top of whatever
// transactionSpendableAge the subscription configures for ordinary
// received outputs — mirroring CryptoNote's CRYPTONOTE_MINED_MONEY_UNLOCK_WINDOW.
const minedMoneyUnlockWindow = 10

// State is the lifecycle state of an owned output.
type State int

const (
	Unconfirmed State = iota
	SoftLocked
	Unlocked
	Spent
	SpentUnconfirmed
)

func (s State) String() string {
	switch s {
	case Unconfirmed:
		return "Unconfirmed"
	case SoftLocked:
		return "SoftLocked"
	case Unlocked:
		return "Unlocked"
	case Spent:
		return "Spent"
	case SpentUnconfirmed:
		return "SpentUnconfirmed"
	default:
		return "???"
	}
}

// BalanceFlags selects which output states contribute to a Balance or
// GetOutputs query. Flags compose: querying a superset of flags can only
// add non-negative amounts, which is what makes Balance monotonic in its
// flag set.
type BalanceFlags uint8

const (
	IncludeUnlocked BalanceFlags = 1 << iota
	IncludeSoftLocked
	IncludeUnconfirmed
	IncludeSpent
	IncludeSpentUnconfirmed
)

// AllExceptSpent is the flag set balance(All) sums over (I4): every
// state but Spent.
const AllExceptSpent = IncludeUnlocked | IncludeSoftLocked | IncludeUnconfirmed | IncludeSpentUnconfirmed

func (f BalanceFlags) includes(s State) bool {
	switch s {
	case Unlocked:
		return f&IncludeUnlocked != 0
	case SoftLocked:
		return f&IncludeSoftLocked != 0
	case Unconfirmed:
		return f&IncludeUnconfirmed != 0
	case Spent:
		return f&IncludeSpent != 0
	case SpentUnconfirmed:
		return f&IncludeSpentUnconfirmed != 0
	default:
		return false
	}
}

// OutputType mirrors xtransaction's output variants from the container's
// point of view.
type OutputType int

const (
	OutputKey OutputType = iota
	OutputMultisignature
)

// BlockInfo identifies where a transaction was (or will be) confirmed.
// Height is UnconfirmedHeight for a pool transaction; TxIndex orders
// transactions confirmed at the same height.
type BlockInfo struct {
	Height    uint64
	Timestamp uint64
	TxIndex   uint32
}

func (b BlockInfo) confirmed() bool {
	return b.Height != UnconfirmedHeight
}

// OwnedOutput is one output of an incoming transaction that the consumer
// has determined belongs to this container's account.
type OwnedOutput struct {
	OutputIndexInTransaction int
	Amount                   uint64
	Type                     OutputType
	OutputKey                xcrypto.PublicKey
	RequiredSignatures       uint32
	GlobalOutputIndex        uint64
	KeyImage                 xcrypto.KeyImage
}

// TransactionInfo is the per-transaction metadata a container tracks,
// the record the wallet engine's history API reads from.
type TransactionInfo struct {
	Hash           node.Hash
	BlockHeight    uint64
	Timestamp      uint64
	TxIndex        uint32
	TotalAmountIn  uint64
	TotalAmountOut uint64
	Fee            uint64
	UnlockTime     uint64
	Extra          []byte
	IsBase         bool
	PaymentID      *[32]byte
	PublicKey      xcrypto.PublicKey
}

func (ti TransactionInfo) InBlockchain() bool {
	return ti.BlockHeight != UnconfirmedHeight
}

// SpentOutput describes, for a consumed key image, the owned output that
// was spent.
type SpentOutput struct {
	TransactionHash          node.Hash
	Amount                   uint64
	Type                     OutputType
	OutputIndexInTransaction int
	SpendingTransactionHash  node.Hash
}

var (
	// ErrInconsistentState is returned when addTransaction's blockHeight
	// and output global-index sentinels disagree (admission
	// rule 2).
	ErrInconsistentState = errors.New("transfers: blockHeight/globalOutputIndex sentinel mismatch")
	// ErrAlreadyAdded is returned when addTransaction is called twice for
	// the same transaction hash (admission rule 3).
	ErrAlreadyAdded = errors.New("transfers: transaction already present")
	// ErrOutOfOrder is returned when a confirmed addTransaction violates
	// strictly-increasing block ordering (admission rule 1).
	ErrOutOfOrder = errors.New("transfers: block height/index ordering violation")
	// ErrNotFound is returned by lookups keyed on a transaction hash that
	// is not present.
	ErrNotFound = errors.New("transfers: transaction not found")
	// ErrNotUnconfirmed is returned by deleteUnconfirmedTransaction and
	// markTransactionConfirmed when the referenced transaction is not in
	// the unconfirmed (pool) state they require.
	ErrNotUnconfirmed = errors.New("transfers: transaction is not unconfirmed")
)

type outputRecord struct {
	OwnedOutput
	tx      *transactionRecord
	state   State
	visible bool
	// spentBy is the hash of the transaction whose input consumed this
	// output, set only once state is Spent or SpentUnconfirmed.
	spentBy node.Hash
}

type transactionRecord struct {
	hash         node.Hash
	info         TransactionInfo
	outputs      []*outputRecord
	spentOutputs []*outputRecord
}

// Container is a per-account ledger of owned outputs and the
// transactions that created or spent them.
type Container struct {
	mu sync.RWMutex

	spendableAge uint64

	currentHeight    uint64
	currentTimestamp uint64

	transactions map[node.Hash]*transactionRecord
	byKeyImage   map[xcrypto.KeyImage][]*outputRecord

	hasConfirmed         bool
	lastConfirmedHeight  uint64
	lastConfirmedTxIndex uint32
}

// NewContainer creates an empty container requiring spendableAge
// confirmations before a received output becomes spendable.
func NewContainer(spendableAge uint64) *Container {
	return &Container{
		spendableAge: spendableAge,
		transactions: make(map[node.Hash]*transactionRecord),
		byKeyImage:   make(map[xcrypto.KeyImage][]*outputRecord),
	}
}

// higherPriority reports whether a outranks b under the visibility
// priority rule: confirmed over unconfirmed, then lower
// block height, then lower tx index, then lexicographically smaller hash.
func higherPriority(a, b *outputRecord) bool {
	ac, bc := a.tx.info.InBlockchain(), b.tx.info.InBlockchain()
	if ac != bc {
		return ac
	}
	if ac {
		if a.tx.info.BlockHeight != b.tx.info.BlockHeight {
			return a.tx.info.BlockHeight < b.tx.info.BlockHeight
		}
		if a.tx.info.TxIndex != b.tx.info.TxIndex {
			return a.tx.info.TxIndex < b.tx.info.TxIndex
		}
	}
	return bytes.Compare(a.tx.hash[:], b.tx.hash[:]) < 0
}

// resortKeyImage re-sorts the sibling list for a key image by priority
// and flags exactly the front element visible.
func (c *Container) resortKeyImage(ki xcrypto.KeyImage) {
	list := c.byKeyImage[ki]
	if len(list) == 0 {
		delete(c.byKeyImage, ki)
		return
	}
	sort.SliceStable(list, func(i, j int) bool {
		return higherPriority(list[i], list[j])
	})
	for i, rec := range list {
		rec.visible = i == 0
	}
	c.byKeyImage[ki] = list
}

func removeFromSlice(list []*outputRecord, target *outputRecord) []*outputRecord {
	out := list[:0]
	for _, r := range list {
		if r != target {
			out = append(out, r)
		}
	}
	return out
}

// initialState computes the state a freshly admitted owned output
// starts in.
func (c *Container) initialState(info BlockInfo) State {
	if !info.confirmed() {
		return Unconfirmed
	}
	return SoftLocked
}

// AddTransaction admits a transaction observed at the given block (or in
// the pool, if info.Height == UnconfirmedHeight), recording any owned
// outputs and resolving any of the account's own outputs the
// transaction's inputs spend. It reports whether anything was recorded.
func (c *Container) AddTransaction(info BlockInfo, txHash node.Hash, tx *xtransaction.Transaction, owned []OwnedOutput) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validateAdmission(info, txHash, owned); err != nil {
		return false, err
	}

	spent, err := c.resolveSpends(info, txHash, tx)
	if err != nil {
		return false, err
	}

	if len(owned) == 0 && len(spent) == 0 {
		return false, nil
	}

	var paymentID *[32]byte
	if pid, ok := tx.PaymentID(); ok {
		paymentID = &pid
	}

	rec := &transactionRecord{
		hash: txHash,
		info: TransactionInfo{
			Hash:           txHash,
			BlockHeight:    info.Height,
			Timestamp:      info.Timestamp,
			TxIndex:        info.TxIndex,
			TotalAmountIn:  tx.TotalInputAmount(),
			TotalAmountOut: tx.TotalOutputAmount(),
			UnlockTime:     tx.UnlockTime(),
			Extra:          tx.Extra(),
			PublicKey:      tx.PublicKey(),
			PaymentID:      paymentID,
		},
	}
	if tx.TotalInputAmount() >= tx.TotalOutputAmount() {
		rec.info.Fee = tx.TotalInputAmount() - tx.TotalOutputAmount()
	}
	for _, in := range tx.Inputs() {
		if in.Type == xtransaction.InputTypeBase {
			rec.info.IsBase = true
			break
		}
	}

	for _, ow := range owned {
		out := &outputRecord{OwnedOutput: ow, tx: rec, state: c.initialState(info)}
		rec.outputs = append(rec.outputs, out)
		c.byKeyImage[ow.KeyImage] = append(c.byKeyImage[ow.KeyImage], out)
		c.resortKeyImage(ow.KeyImage)
	}
	rec.spentOutputs = spent
	for _, s := range spent {
		s.spentBy = txHash
		if info.confirmed() {
			s.state = Spent
		} else {
			s.state = SpentUnconfirmed
		}
	}

	c.transactions[txHash] = rec
	if info.confirmed() {
		c.hasConfirmed = true
		c.lastConfirmedHeight = info.Height
		c.lastConfirmedTxIndex = info.TxIndex
	}
	return true, nil
}

func (c *Container) validateAdmission(info BlockInfo, txHash node.Hash, owned []OwnedOutput) error {
	if _, exists := c.transactions[txHash]; exists {
		return ErrAlreadyAdded
	}
	for _, ow := range owned {
		if info.confirmed() == (ow.GlobalOutputIndex == UnconfirmedGlobalIndex) {
			return ErrInconsistentState
		}
	}
	if info.confirmed() && c.hasConfirmed {
		if info.Height < c.lastConfirmedHeight {
			return ErrOutOfOrder
		}
		if info.Height == c.lastConfirmedHeight && info.TxIndex <= c.lastConfirmedTxIndex {
			return ErrOutOfOrder
		}
	}
	return nil
}

// resolveSpends matches the transaction's key inputs against this
// container's own visible outputs, returning the ones it spends.
// Amount mismatches are a fatal consistency violation.
func (c *Container) resolveSpends(info BlockInfo, txHash node.Hash, tx *xtransaction.Transaction) ([]*outputRecord, error) {
	var spent []*outputRecord
	for _, in := range tx.Inputs() {
		if in.Type != xtransaction.InputTypeKey {
			continue
		}
		siblings := c.byKeyImage[in.Key.KeyImage]
		if len(siblings) == 0 {
			continue
		}
		visible := siblings[0]
		if visible.state == Spent || visible.state == SpentUnconfirmed {
			// Already recorded as spent by a previous admission; the
			// same key image cannot be independently re-spent here.
			continue
		}
		if visible.Amount != in.Key.Amount {
			return nil, walleterror.Newf(walleterror.InternalWalletError,
				"key image amount mismatch: owned output %d, input %d, tx %x", visible.Amount, in.Key.Amount, txHash)
		}
		spent = append(spent, visible)
	}
	return spent, nil
}

// MarkTransactionConfirmed promotes a previously-pool transaction to
// confirmed status, assigning the canonical global output indexes the
// node reports once the outputs are on chain.
func (c *Container) MarkTransactionConfirmed(info BlockInfo, txHash node.Hash, globalIndexes []uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.transactions[txHash]
	if !ok {
		return ErrNotFound
	}
	if rec.info.InBlockchain() {
		return ErrNotUnconfirmed
	}
	if len(globalIndexes) != len(rec.outputs) {
		return walleterror.Newf(walleterror.InternalWalletError,
			"markTransactionConfirmed: got %d global indexes for %d owned outputs", len(globalIndexes), len(rec.outputs))
	}

	rec.info.BlockHeight = info.Height
	rec.info.Timestamp = info.Timestamp
	rec.info.TxIndex = info.TxIndex

	for i, out := range rec.outputs {
		out.GlobalOutputIndex = globalIndexes[i]
		out.state = SoftLocked
		c.resortKeyImage(out.KeyImage)
	}
	for _, s := range rec.spentOutputs {
		s.state = Spent
	}

	c.hasConfirmed = true
	c.lastConfirmedHeight = info.Height
	c.lastConfirmedTxIndex = info.TxIndex
	return nil
}

// DeleteUnconfirmedTransaction removes a pool transaction that the node
// no longer reports (evicted, replaced, or the wallet's own cancel).
// Confirmed transactions can never be removed through this path.
func (c *Container) DeleteUnconfirmedTransaction(txHash node.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.transactions[txHash]
	if !ok {
		return ErrNotFound
	}
	if rec.info.InBlockchain() {
		return ErrNotUnconfirmed
	}

	for _, out := range rec.outputs {
		c.byKeyImage[out.KeyImage] = removeFromSlice(c.byKeyImage[out.KeyImage], out)
		c.resortKeyImage(out.KeyImage)
	}
	for _, s := range rec.spentOutputs {
		s.state = Unlocked
		s.spentBy = node.Hash{}
	}

	delete(c.transactions, txHash)
	return nil
}

// Detach removes every confirmed transaction at or above height h,
// restoring any outputs they spent and promoting hidden siblings where
// applicable. It returns the hashes removed, for the caller to notify
// subscription observers with.
func (c *Container) Detach(h uint64) []node.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []node.Hash
	var haveRemaining bool
	var maxRemainingHeight uint64
	var maxRemainingTxIndex uint32

	for hash, rec := range c.transactions {
		if !rec.info.InBlockchain() || rec.info.BlockHeight < h {
			if rec.info.InBlockchain() {
				if !haveRemaining || rec.info.BlockHeight > maxRemainingHeight ||
					(rec.info.BlockHeight == maxRemainingHeight && rec.info.TxIndex > maxRemainingTxIndex) {
					haveRemaining = true
					maxRemainingHeight = rec.info.BlockHeight
					maxRemainingTxIndex = rec.info.TxIndex
				}
			}
			continue
		}

		for _, out := range rec.outputs {
			c.byKeyImage[out.KeyImage] = removeFromSlice(c.byKeyImage[out.KeyImage], out)
			c.resortKeyImage(out.KeyImage)
		}
		for _, s := range rec.spentOutputs {
			s.state = Unlocked
			s.spentBy = node.Hash{}
		}
		delete(c.transactions, hash)
		removed = append(removed, hash)
	}

	c.hasConfirmed = haveRemaining
	c.lastConfirmedHeight = maxRemainingHeight
	c.lastConfirmedTxIndex = maxRemainingTxIndex
	return removed
}

// AdvanceHeight recomputes which SoftLocked outputs have reached
// spendable age and passed their unlock time, moving them to Unlocked.
// timestamp stands in for the confirming chain's wall-clock time, needed
// to evaluate unlockTime values expressed as Unix timestamps rather than
// heights (the exact timestamp source is implementation
// defined; see DESIGN.md).
func (c *Container) AdvanceHeight(height, timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentHeight = height
	c.currentTimestamp = timestamp

	for _, rec := range c.transactions {
		for _, out := range rec.outputs {
			if out.state != SoftLocked {
				continue
			}
			if c.isSpendable(rec, height, timestamp) {
				out.state = Unlocked
			}
		}
	}
}

func (c *Container) isSpendable(rec *transactionRecord, height, timestamp uint64) bool {
	if !rec.info.InBlockchain() {
		return false
	}
	requiredAge := c.spendableAge
	if rec.info.IsBase && requiredAge < minedMoneyUnlockWindow {
		requiredAge = minedMoneyUnlockWindow
	}
	if height < rec.info.BlockHeight+requiredAge {
		return false
	}
	ut := rec.info.UnlockTime
	if ut == 0 {
		return true
	}
	if ut < unlockTimeIsTimestamp {
		return height >= ut
	}
	return timestamp >= ut
}

// Balance sums the amounts of visible outputs whose state is included in
// flags.
func (c *Container) Balance(flags BalanceFlags) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total uint64
	for _, rec := range c.transactions {
		for _, out := range rec.outputs {
			if out.visible && flags.includes(out.state) {
				total += out.Amount
			}
		}
	}
	return total
}

// GetOutputs returns every visible output whose state is included in
// flags.
func (c *Container) GetOutputs(flags BalanceFlags) []OwnedOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []OwnedOutput
	for _, rec := range c.transactions {
		for _, out := range rec.outputs {
			if out.visible && flags.includes(out.state) {
				result = append(result, out.OwnedOutput)
			}
		}
	}
	return result
}

// SpendableOutput is an OwnedOutput together with the hash of the
// transaction that created it, the pairing the wallet engine's source
// selection and input signing need (GetOutputs alone loses that link
// once outputs from many transactions are pooled together).
type SpendableOutput struct {
	OwnedOutput
	TxHash      node.Hash
	TxPublicKey xcrypto.PublicKey
}

// GetSpendableOutputs returns every visible output whose state is
// included in flags, paired with its owning transaction's hash and
// public key (the wallet engine needs both to re-derive a one-time
// secret key at spend time).
func (c *Container) GetSpendableOutputs(flags BalanceFlags) []SpendableOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []SpendableOutput
	for _, rec := range c.transactions {
		for _, out := range rec.outputs {
			if out.visible && flags.includes(out.state) {
				result = append(result, SpendableOutput{OwnedOutput: out.OwnedOutput, TxHash: rec.hash, TxPublicKey: rec.info.PublicKey})
			}
		}
	}
	return result
}

// GetTransactionOutputs returns the owned outputs of one transaction
// matching flags.
func (c *Container) GetTransactionOutputs(txHash node.Hash, flags BalanceFlags) ([]OwnedOutput, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.transactions[txHash]
	if !ok {
		return nil, ErrNotFound
	}
	var result []OwnedOutput
	for _, out := range rec.outputs {
		if flags.includes(out.state) {
			result = append(result, out.OwnedOutput)
		}
	}
	return result, nil
}

// GetTransactionInformation returns the stored metadata for txHash.
func (c *Container) GetTransactionInformation(txHash node.Hash) (TransactionInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.transactions[txHash]
	if !ok {
		return TransactionInfo{}, ErrNotFound
	}
	return rec.info, nil
}

// CheckIfSpent reports whether the visible output for keyImage is
// currently spent. If atHeight is given, it instead reports whether the
// spend was already confirmed as of that height.
func (c *Container) CheckIfSpent(keyImage xcrypto.KeyImage, atHeight ...uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	siblings := c.byKeyImage[keyImage]
	if len(siblings) == 0 {
		return false
	}
	visible := siblings[0]
	if len(atHeight) == 0 {
		return visible.state == Spent || visible.state == SpentUnconfirmed
	}
	if visible.state != Spent {
		return false
	}
	spender, ok := c.transactions[visible.spentBy]
	if !ok {
		return false
	}
	return spender.info.InBlockchain() && spender.info.BlockHeight <= atHeight[0]
}

// GetUnconfirmedTransactions returns the metadata of every transaction
// still only in the pool.
func (c *Container) GetUnconfirmedTransactions() []TransactionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []TransactionInfo
	for _, rec := range c.transactions {
		if !rec.info.InBlockchain() {
			result = append(result, rec.info)
		}
	}
	return result
}

// GetSpentOutputs returns, for every key image this container has
// recorded as spent, which owned output was consumed and by which
// transaction.
func (c *Container) GetSpentOutputs() []SpentOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []SpentOutput
	for _, rec := range c.transactions {
		for _, out := range rec.outputs {
			if out.state == Spent || out.state == SpentUnconfirmed {
				result = append(result, SpentOutput{
					TransactionHash:          rec.hash,
					Amount:                   out.Amount,
					Type:                     out.Type,
					OutputIndexInTransaction: out.OutputIndexInTransaction,
					SpendingTransactionHash:  out.spentBy,
				})
			}
		}
	}
	return result
}
