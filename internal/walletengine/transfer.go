package walletengine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/transfers"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

// maxDestinationAmount mirrors the i64 bound placed on a
// single destination amount.
const maxDestinationAmount = uint64(1<<63 - 1)

// Destination is one payment a transfer sends to.
type Destination struct {
	Address Address
	Amount  uint64
}

// DonationParams carves a donation out of the change a transfer would
// otherwise return, whenever that change is at least Threshold
// (scenario S6).
type DonationParams struct {
	Address   Address
	Threshold uint64
}

// TransferParams assembles a single spend (makeTransaction
// parameters).
type TransferParams struct {
	SourceAddresses   []Address
	Destinations      []Destination
	Fee               uint64
	MixIn             uint64
	Extra             []byte
	UnlockTimestamp   uint64
	ChangeDestination *Address
	Donation          *DonationParams
}

// resolvedSpend is the plan validateParams hands to makeTransaction:
// which accounts may fund the spend, and which account any change goes
// to.
type resolvedSpend struct {
	sources []*account
	change  *account
}

func (e *Engine) validateParams(params TransferParams) (resolvedSpend, error) {
	if len(params.Destinations) == 0 {
		return resolvedSpend{}, walleterror.New(walleterror.ZeroDestination, nil)
	}
	var destSum uint64
	for _, d := range params.Destinations {
		if d.Amount == 0 || d.Amount > maxDestinationAmount {
			return resolvedSpend{}, walleterror.Newf(walleterror.WrongAmount, "destination amount %d out of range", d.Amount)
		}
		next := destSum + d.Amount
		if next < destSum || next > maxDestinationAmount {
			return resolvedSpend{}, walleterror.Newf(walleterror.WrongAmount, "destination amounts overflow")
		}
		destSum = next
		if d.Address == (Address{}) {
			return resolvedSpend{}, walleterror.New(walleterror.BadAddress, fmt.Errorf("destination address is empty"))
		}
	}
	if params.Fee < e.policy.MinimumFee {
		return resolvedSpend{}, walleterror.Newf(walleterror.FeeTooSmall, "fee %d below minimum %d", params.Fee, e.policy.MinimumFee)
	}
	if params.MixIn > e.policy.MaxSupportedMixin {
		return resolvedSpend{}, walleterror.Newf(walleterror.MixinCountTooBig, "mixIn %d exceeds maximum %d", params.MixIn, e.policy.MaxSupportedMixin)
	}
	if params.Donation != nil {
		if params.Donation.Address == (Address{}) {
			return resolvedSpend{}, walleterror.New(walleterror.BadAddress, fmt.Errorf("donation address is empty"))
		}
		if params.Donation.Threshold < 1 {
			return resolvedSpend{}, walleterror.Newf(walleterror.WrongAmount, "donation threshold must be at least 1")
		}
	}

	sources, err := e.resolveSources(params.SourceAddresses)
	if err != nil {
		return resolvedSpend{}, err
	}

	change, err := e.resolveChangeAccount(params.ChangeDestination, params.SourceAddresses, sources)
	if err != nil {
		return resolvedSpend{}, err
	}

	return resolvedSpend{sources: sources, change: change}, nil
}

// resolveSources maps a caller-supplied address list to accounts,
// defaulting to every account the engine holds when addrs is empty.
func (e *Engine) resolveSources(addrs []Address) ([]*account, error) {
	var sources []*account
	if len(addrs) > 0 {
		for _, addr := range addrs {
			acc, ok := e.accounts[addr.SpendPublicKey]
			if !ok {
				return nil, walleterror.New(walleterror.AddressNotFound, fmt.Errorf("source address %s not found", addr.String()))
			}
			sources = append(sources, acc)
		}
	} else {
		for _, acc := range e.accounts {
			sources = append(sources, acc)
		}
	}
	return sources, nil
}

// resolveChangeAccount picks the account any leftover change or fusion
// output goes to: an explicit destination wins; otherwise it must be
// unambiguous from sourceAddrs/sources alone.
func (e *Engine) resolveChangeAccount(destination *Address, sourceAddrs []Address, sources []*account) (*account, error) {
	switch {
	case destination != nil:
		acc, ok := e.accounts[destination.SpendPublicKey]
		if !ok {
			return nil, walleterror.New(walleterror.AddressNotFound, fmt.Errorf("destination address not found"))
		}
		return acc, nil
	case len(sourceAddrs) == 0:
		if len(e.accounts) > 1 {
			return nil, walleterror.New(walleterror.DestinationAddressRequired, fmt.Errorf("a destination is required when sourceAddresses is empty and the wallet holds more than one address"))
		}
		for _, acc := range e.accounts {
			return acc, nil
		}
		return nil, nil
	case len(sources) == 1:
		return sources[0], nil
	default:
		return nil, walleterror.New(walleterror.DestinationAddressRequired, fmt.Errorf("a destination is required when more than one sourceAddress is given"))
	}
}

// candidateOutput pairs a spendable output with the account that owns
// it, the unit source selection works over.
type candidateOutput struct {
	acc *account
	out transfers.SpendableOutput
}

func (c candidateOutput) lockKey() lockKey {
	return lockKey{SpendPublicKey: c.acc.address.SpendPublicKey, TxHash: c.out.TxHash, OutputIndex: c.out.OutputIndexInTransaction}
}

// selectSources greedily consumes the largest unlocked, unspent outputs
// first until needed is met. If the leftover change the selection would
// produce is nonzero but under the dust threshold, one more output is
// pulled in rather than returning dust as change.
func (e *Engine) selectSources(sources []*account, needed uint64) ([]candidateOutput, uint64, error) {
	var candidates []candidateOutput
	for _, acc := range sources {
		for _, out := range acc.container.GetSpendableOutputs(transfers.IncludeUnlocked) {
			candidates = append(candidates, candidateOutput{acc: acc, out: out})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].out.Amount > candidates[j].out.Amount })

	var free []candidateOutput
	for _, c := range candidates {
		if _, locked := e.lockedOutputs[c.lockKey()]; locked {
			continue
		}
		free = append(free, c)
	}

	var selected []candidateOutput
	var sum uint64
	for _, c := range free {
		if sum >= needed {
			break
		}
		selected = append(selected, c)
		sum += c.out.Amount
	}
	if sum < needed {
		return nil, 0, walleterror.Newf(walleterror.WrongAmount, "insufficient funds: have %d, need %d", sum, needed)
	}
	if remainder := sum - needed; remainder > 0 && remainder < e.policy.DefaultDustThreshold && len(selected) < len(free) {
		extra := free[len(selected)]
		selected = append(selected, extra)
		sum += extra.out.Amount
	}
	return selected, sum, nil
}

// decomposeAmount splits amount into CryptoNote's canonical "digit times
// a power of ten" chunks, so that no two change outputs a transaction
// creates share an order of magnitude: anything that would make a chunk
// with value at most dustThreshold is folded into a single dust chunk
// instead (ported from the decompose_amount_into_digits convention
// TestWallet.cpp and the fusion "round" refund logic both rely on).
func decomposeAmount(amount, dustThreshold uint64) []uint64 {
	if amount == 0 {
		return nil
	}
	var chunks []uint64
	var dust uint64
	dustHandled := false
	order := uint64(1)
	for amount != 0 {
		digit := amount % 10
		chunk := digit * order
		amount /= 10
		order *= 10
		if dust+chunk <= dustThreshold {
			dust += chunk
		} else {
			if !dustHandled && dust != 0 {
				chunks = append(chunks, dust)
				dustHandled = true
			}
			if chunk != 0 {
				chunks = append(chunks, chunk)
			}
		}
	}
	if !dustHandled && dust != 0 {
		chunks = append(chunks, dust)
	}
	return chunks
}

// plannedOutput is one output makeTransaction will add to the
// transaction being built, before ring construction and signing.
type plannedOutput struct {
	address Address
	amount  uint64
	kind    xtransaction.TransferType
}

// planOutputs lays out a transaction's destinations, donation and
// decomposed change, in that order.
func (e *Engine) planOutputs(params TransferParams, change *account, sourcedSum, destSum uint64) []plannedOutput {
	var plan []plannedOutput
	for _, d := range params.Destinations {
		plan = append(plan, plannedOutput{address: d.Address, amount: d.Amount, kind: xtransaction.TransferUsual})
	}

	changeAmount := sourcedSum - destSum - params.Fee
	if params.Donation != nil && changeAmount >= params.Donation.Threshold {
		donationAmount := changeAmount - changeAmount%params.Donation.Threshold
		plan = append(plan, plannedOutput{address: params.Donation.Address, amount: donationAmount, kind: xtransaction.TransferDonation})
		changeAmount -= donationAmount
	}
	for _, chunk := range decomposeAmount(changeAmount, e.policy.DefaultDustThreshold) {
		addr := Address{}
		if change != nil {
			addr = change.address
		}
		plan = append(plan, plannedOutput{address: addr, amount: chunk, kind: xtransaction.TransferChange})
	}
	return plan
}

// makeTransaction builds and signs a transaction per params without
// relaying it; the returned id identifies it in the Created state until
// CommitTransaction or RollbackUncommittedTransaction resolves it.
func (e *Engine) makeTransaction(ctx context.Context, params TransferParams) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resolved, err := e.validateParams(params)
	if err != nil {
		return uuid.UUID{}, err
	}

	var destSum uint64
	for _, d := range params.Destinations {
		destSum += d.Amount
	}
	needed := destSum + params.Fee

	selected, sourcedSum, err := e.selectSources(resolved.sources, needed)
	if err != nil {
		return uuid.UUID{}, err
	}

	plan := e.planOutputs(params, resolved.change, sourcedSum, destSum)

	amounts := make([]uint64, len(selected))
	for i, c := range selected {
		amounts[i] = c.out.Amount
	}
	outsByAmount := make(map[uint64][]node.RandomOutput)
	if params.MixIn > 0 {
		decoys, err := e.nd.GetRandomOutsByAmounts(ctx, amounts, params.MixIn)
		if err != nil {
			return uuid.UUID{}, walleterror.New(walleterror.MixinCountTooBig, err)
		}
		for _, d := range decoys {
			outsByAmount[d.Amount] = d.Outs
		}
	}

	tx := xtransaction.New()

	type inputSecret struct {
		index int
		acc   *account
		out   candidateOutput
	}
	var toSign []inputSecret
	lockedKeys := make([]lockKey, 0, len(selected))
	lockedAmounts := make(map[lockKey]uint64, len(selected))

	for _, c := range selected {
		ring := []uint64{c.out.GlobalOutputIndex}
		for _, decoy := range outsByAmount[c.out.Amount] {
			if decoy.GlobalIndex == c.out.GlobalOutputIndex {
				continue
			}
			ring = append(ring, decoy.GlobalIndex)
			if uint64(len(ring)) > params.MixIn {
				break
			}
		}
		sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

		idx, err := tx.AddInput(xtransaction.Input{
			Type: xtransaction.InputTypeKey,
			Key: &xtransaction.KeyInput{
				Amount:        c.out.Amount,
				OutputIndexes: ring,
				KeyImage:      c.out.KeyImage,
			},
		})
		if err != nil {
			return uuid.UUID{}, walleterror.New(walleterror.InternalWalletError, err)
		}
		toSign = append(toSign, inputSecret{index: idx, acc: c.acc, out: c})

		key := c.lockKey()
		lockedKeys = append(lockedKeys, key)
		lockedAmounts[key] = c.out.Amount
	}

	var txTransfers []Transfer
	for _, p := range plan {
		onetime, err := e.onetimeOutputKey(tx, p.address)
		if err != nil {
			return uuid.UUID{}, err
		}
		if _, err := tx.AddKeyOutput(p.amount, onetime); err != nil {
			return uuid.UUID{}, walleterror.New(walleterror.InternalWalletError, err)
		}
		txTransfers = append(txTransfers, Transfer{Address: p.address, Amount: p.amount, Type: p.kind})
	}

	if params.UnlockTimestamp != 0 {
		if err := tx.SetUnlockTime(params.UnlockTimestamp); err != nil {
			return uuid.UUID{}, walleterror.New(walleterror.InternalWalletError, err)
		}
	}
	if len(params.Extra) > 0 {
		if err := tx.AppendExtra(params.Extra); err != nil {
			return uuid.UUID{}, walleterror.New(walleterror.InternalWalletError, err)
		}
	}

	prefixHash, err := transactionPrefixHash(tx)
	if err != nil {
		return uuid.UUID{}, walleterror.New(walleterror.InternalWalletError, err)
	}
	for _, in := range toSign {
		onetimeSecret, err := e.onetimeSecretKey(tx, in.acc, in.out.out)
		if err != nil {
			return uuid.UUID{}, err
		}
		if err := tx.SignInputKey(in.index, onetimeSecret, prefixHash); err != nil {
			return uuid.UUID{}, walleterror.New(walleterror.InternalWalletError, err)
		}
	}

	if err := e.checkSize(tx); err != nil {
		return uuid.UUID{}, err
	}
	tx.Seal()

	id := uuid.New()
	txHash := hashSealedTransaction(tx)
	e.pending[id] = &pendingTransaction{
		id:            id,
		tx:            tx,
		txHash:        txHash,
		state:         TxCreated,
		lockedOutputs: lockedKeys,
		lockedAmounts: lockedAmounts,
		transfers:     txTransfers,
		fee:           params.Fee,
		historyIndex:  -1,
	}
	for _, key := range lockedKeys {
		e.lockedOutputs[key] = id
	}

	e.emitTransactionEvent(Event{Kind: EventTransactionCreated, TransactionIndex: -1})
	return id, nil
}

// onetimeOutputKey derives the one-time public key a new output pays to,
// using the transaction's own ephemeral secret key and the recipient's
// public keypair.
func (e *Engine) onetimeOutputKey(tx *xtransaction.Transaction, to Address) (xcrypto.PublicKey, error) {
	derivation := xcrypto.KeyDerivation(to.ViewPublicKey, tx.SecretKey())
	idx := uint64(len(tx.Outputs()))
	return xcrypto.DerivePublicKey(derivation, idx, to.SpendPublicKey), nil
}

// onetimeSecretKey re-derives the secret key for a spendable output this
// wallet previously received, the key SignInputKey needs to prove
// ownership.
func (e *Engine) onetimeSecretKey(tx *xtransaction.Transaction, acc *account, out transfers.SpendableOutput) (xcrypto.SecretKey, error) {
	if acc.tracking() {
		return xcrypto.SecretKey{}, walleterror.New(walleterror.TxTransferImpossible, fmt.Errorf("address %s is tracking-only and cannot spend", acc.address.String()))
	}
	derivation := xcrypto.KeyDerivation(out.TxPublicKey, e.viewSecretKey)
	return xcrypto.DeriveSecretKey(derivation, uint64(out.OutputIndexInTransaction), acc.spendSecretKey), nil
}

// checkSize rejects a transaction too large to fit a block's granted
// free reward zone once the miner's own reserve is subtracted
// (a size-check edge case).
func (e *Engine) checkSize(tx *xtransaction.Transaction) error {
	data, err := tx.Serialize()
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	limit := e.policy.BlockGrantedFullRewardZone
	if e.policy.MinerTxReserve < limit {
		limit -= e.policy.MinerTxReserve
	} else {
		limit = 0
	}
	if uint64(len(data)) > limit {
		return walleterror.Newf(walleterror.TransactionSizeTooBig, "transaction size %d exceeds limit %d", len(data), limit)
	}
	return nil
}

// transactionPrefixHash hashes the not-yet-signed transaction, standing
// in for CryptoNote's transaction-prefix hash: every key input is signed
// against this value.
func transactionPrefixHash(tx *xtransaction.Transaction) ([]byte, error) {
	data, err := tx.Serialize()
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(data)
	return h[:], nil
}

// hashSealedTransaction derives the hash a relayed transaction is known
// by over the node boundary, from its final signed bytes.
func hashSealedTransaction(tx *xtransaction.Transaction) node.Hash {
	data, _ := tx.Serialize()
	return node.Hash(sha256.Sum256(data))
}

// Transfer builds and immediately commits a transaction: makeTransaction
// followed by CommitTransaction, for callers with no need for the
// two-phase create/commit split.
func (e *Engine) Transfer(ctx context.Context, params TransferParams) (int, error) {
	id, err := e.makeTransaction(ctx, params)
	if err != nil {
		return 0, err
	}
	return e.CommitTransaction(ctx, id)
}

// CommitTransaction relays a Created transaction to the node and records
// it in history, transitioning it to Succeeded. The transaction index
// into history is returned.
func (e *Engine) CommitTransaction(ctx context.Context, id uuid.UUID) (int, error) {
	e.mu.Lock()
	p, ok := e.pending[id]
	if !ok {
		e.mu.Unlock()
		return 0, walleterror.New(walleterror.TxTransferImpossible, fmt.Errorf("no such pending transaction"))
	}
	if p.state != TxCreated {
		e.mu.Unlock()
		return 0, walleterror.Newf(walleterror.TxTransferImpossible, "transaction %s is %s, not Created", id, p.state)
	}
	tx := p.tx
	e.mu.Unlock()

	if err := e.nd.RelayTransaction(ctx, tx); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok = e.pending[id]
	if !ok || p.state != TxCreated {
		return 0, walleterror.Newf(walleterror.TxTransferImpossible, "transaction %s changed state during relay", id)
	}
	p.state = TxSucceeded
	entry := HistoryEntry{
		Hash:        p.txHash,
		BlockHeight: UnconfirmedBlockHeight,
		Fee:         p.fee,
		UnlockTime:  tx.UnlockTime(),
		Extra:       tx.Extra(),
		Transfers:   p.transfers,
		State:       TxSucceeded,
		Fusion:      p.fusion,
	}
	e.history = append(e.history, entry)
	index := len(e.history) - 1
	p.historyIndex = index
	e.emitTransactionEvent(Event{Kind: EventTransactionUpdated, TransactionIndex: index})
	return index, nil
}

// RollbackUncommittedTransaction cancels a still-Created transaction,
// releasing the outputs it had locked. It is illegal once the
// transaction has been committed.
func (e *Engine) RollbackUncommittedTransaction(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[id]
	if !ok {
		return walleterror.New(walleterror.TxCancelImpossible, fmt.Errorf("no such pending transaction"))
	}
	if p.state != TxCreated {
		return walleterror.Newf(walleterror.TxCancelImpossible, "transaction %s is %s, not Created", id, p.state)
	}
	p.state = TxCancelled
	for _, key := range p.lockedOutputs {
		delete(e.lockedOutputs, key)
	}
	delete(e.pending, id)
	e.emitTransactionEvent(Event{Kind: EventTransactionUpdated, TransactionIndex: -1})
	return nil
}
