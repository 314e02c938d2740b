package walletengine

import (
	"github.com/google/uuid"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

// TxState is the lifecycle state of a wallet-engine transaction
// (a two-phase submit).
type TxState int

const (
	TxCreated TxState = iota
	TxSucceeded
	TxCancelled
)

func (s TxState) String() string {
	switch s {
	case TxCreated:
		return "Created"
	case TxSucceeded:
		return "Succeeded"
	case TxCancelled:
		return "Cancelled"
	default:
		return "???"
	}
}

// Transfer is one destination of a transaction from the wallet's own
// point of view: an ordinary payment, the change returned to the
// sender, or a donation.
type Transfer struct {
	Address Address
	Amount  uint64
	Type    xtransaction.TransferType
}

// HistoryEntry is one committed transaction's record in the wallet's
// history, indexed by its position in Engine.history.
type HistoryEntry struct {
	Hash        node.Hash
	BlockHeight uint64
	Timestamp   uint64
	Fee         uint64
	UnlockTime  uint64
	Extra       []byte
	Transfers   []Transfer
	State       TxState
	Fusion      bool
}

// UnconfirmedBlockHeight marks a history entry still awaiting
// confirmation (mirrors transfers.UnconfirmedHeight at the wallet
// engine's own boundary).
const UnconfirmedBlockHeight = ^uint64(0)

// InBlockchain reports whether this entry has been confirmed.
func (h HistoryEntry) InBlockchain() bool {
	return h.BlockHeight != UnconfirmedBlockHeight
}

// pendingTransaction is a makeTransaction result not yet committed or
// rolled back: a built, signed xtransaction.Transaction plus the
// bookkeeping needed to relay it, cancel it, or record it in history.
type pendingTransaction struct {
	id     uuid.UUID
	tx     *xtransaction.Transaction
	txHash node.Hash
	state  TxState

	lockedOutputs []lockKey
	lockedAmounts map[lockKey]uint64
	transfers     []Transfer
	fee           uint64
	fusion        bool

	// historyIndex is the slot in Engine.history this transaction
	// occupies once committed, -1 until then. The pendingTransaction
	// record itself is kept (not deleted) past commit so
	// GetPendingBalance can keep treating its locked outputs as
	// locked-for-pending until a future block or pool update confirms
	// the spend and the container's own state reflects it.
	historyIndex int
}

func (p *pendingTransaction) lockedAmount(key lockKey) uint64 {
	return p.lockedAmounts[key]
}
