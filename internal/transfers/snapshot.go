package transfers

import (
	"sort"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
)

// outputRef identifies one owned output by the transaction that created
// it and its position within that transaction, the stable identity a
// snapshot uses instead of a live pointer.
type outputRef struct {
	TxHash                   node.Hash
	OutputIndexInTransaction int
}

// outputRecordSnapshot is the plain-data shape of an outputRecord.
type outputRecordSnapshot struct {
	OwnedOutput
	State   State
	Visible bool
	SpentBy node.Hash
}

// transactionRecordSnapshot is the plain-data shape of a
// transactionRecord: its own outputs plus references to whichever
// other transactions' outputs its inputs spent.
type transactionRecordSnapshot struct {
	Hash      node.Hash
	Info      TransactionInfo
	Outputs   []outputRecordSnapshot
	SpentRefs []outputRef
}

// Snapshot is a container's entire durable state: every transaction
// record plus the height/timestamp cursor, in a shape msgpack can
// round-trip without touching any unexported field directly.
type Snapshot struct {
	SpendableAge         uint64
	CurrentHeight        uint64
	CurrentTimestamp     uint64
	HasConfirmed         bool
	LastConfirmedHeight  uint64
	LastConfirmedTxIndex uint32
	Transactions         []transactionRecordSnapshot
}

// Snapshot captures the container's current state for persistence.
// Transactions are reported in hash order so two snapshots of the same
// logical state compare equal regardless of map iteration order.
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		SpendableAge:         c.spendableAge,
		CurrentHeight:        c.currentHeight,
		CurrentTimestamp:     c.currentTimestamp,
		HasConfirmed:         c.hasConfirmed,
		LastConfirmedHeight:  c.lastConfirmedHeight,
		LastConfirmedTxIndex: c.lastConfirmedTxIndex,
	}
	for _, rec := range c.transactions {
		trs := transactionRecordSnapshot{Hash: rec.hash, Info: rec.info}
		for _, out := range rec.outputs {
			trs.Outputs = append(trs.Outputs, outputRecordSnapshot{
				OwnedOutput: out.OwnedOutput,
				State:       out.state,
				Visible:     out.visible,
				SpentBy:     out.spentBy,
			})
		}
		for _, spent := range rec.spentOutputs {
			trs.SpentRefs = append(trs.SpentRefs, outputRef{
				TxHash:                   spent.tx.hash,
				OutputIndexInTransaction: spent.OutputIndexInTransaction,
			})
		}
		s.Transactions = append(s.Transactions, trs)
	}
	sort.Slice(s.Transactions, func(i, j int) bool {
		return string(s.Transactions[i].Hash[:]) < string(s.Transactions[j].Hash[:])
	})
	return s
}

// LoadSnapshot rebuilds a container from a previously captured Snapshot.
func LoadSnapshot(s Snapshot) *Container {
	c := &Container{
		spendableAge:         s.SpendableAge,
		currentHeight:        s.CurrentHeight,
		currentTimestamp:     s.CurrentTimestamp,
		hasConfirmed:         s.HasConfirmed,
		lastConfirmedHeight:  s.LastConfirmedHeight,
		lastConfirmedTxIndex: s.LastConfirmedTxIndex,
		transactions:         make(map[node.Hash]*transactionRecord, len(s.Transactions)),
		byKeyImage:           make(map[xcrypto.KeyImage][]*outputRecord),
	}

	byIndex := make(map[outputRef]*outputRecord)
	for _, trs := range s.Transactions {
		rec := &transactionRecord{hash: trs.Hash, info: trs.Info}
		for _, outs := range trs.Outputs {
			out := &outputRecord{
				OwnedOutput: outs.OwnedOutput,
				tx:          rec,
				state:       outs.State,
				visible:     outs.Visible,
				spentBy:     outs.SpentBy,
			}
			rec.outputs = append(rec.outputs, out)
			byIndex[outputRef{TxHash: trs.Hash, OutputIndexInTransaction: out.OutputIndexInTransaction}] = out
		}
		c.transactions[trs.Hash] = rec
	}
	for _, trs := range s.Transactions {
		rec := c.transactions[trs.Hash]
		for _, ref := range trs.SpentRefs {
			if out, ok := byIndex[ref]; ok {
				rec.spentOutputs = append(rec.spentOutputs, out)
			}
		}
	}
	for _, out := range byIndex {
		c.byKeyImage[out.KeyImage] = append(c.byKeyImage[out.KeyImage], out)
	}
	for ki := range c.byKeyImage {
		c.resortKeyImage(ki)
	}
	return c
}
