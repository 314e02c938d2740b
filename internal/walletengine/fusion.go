package walletengine

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/transfers"
	"github.com/amjuarez/bytecoin-sub000/internal/walleterror"
	"github.com/amjuarez/bytecoin-sub000/internal/xtransaction"
)

// FusionEstimate reports how many fusion-ready inputs a threshold would
// gather and how many outputs consolidating them would produce, without
// building a transaction.
type FusionEstimate struct {
	FusionReadyCount int
	TotalOutputCount int
}

// isFusionReady mirrors the node-side eligibility test: an owned,
// unlocked, currently-unlocked-for-pending output whose amount sits in
// [defaultDustThreshold, threshold).
func (e *Engine) isFusionReady(c candidateOutput, threshold uint64) bool {
	if _, locked := e.lockedOutputs[c.lockKey()]; locked {
		return false
	}
	return c.out.Amount >= e.policy.DefaultDustThreshold && c.out.Amount < threshold
}

func (e *Engine) fusionReadyCandidates(sources []*account, threshold uint64) []candidateOutput {
	var candidates []candidateOutput
	for _, acc := range sources {
		for _, out := range acc.container.GetSpendableOutputs(transfers.IncludeUnlocked) {
			c := candidateOutput{acc: acc, out: out}
			if e.isFusionReady(c, threshold) {
				candidates = append(candidates, c)
			}
		}
	}
	// Smallest first: fusion exists to consolidate dust, so the
	// smallest outputs are consumed first.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].out.Amount < candidates[j].out.Amount })
	return candidates
}

// Estimate reports fusion readiness for threshold across sourceAddresses
// (every account when empty), without constructing a transaction.
func (e *Engine) Estimate(threshold uint64, sourceAddresses []Address) (FusionEstimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sources, err := e.resolveSources(sourceAddresses)
	if err != nil {
		return FusionEstimate{}, err
	}
	candidates := e.fusionReadyCandidates(sources, threshold)
	if len(candidates) == 0 {
		return FusionEstimate{}, nil
	}
	var sum uint64
	for _, c := range candidates {
		sum += c.out.Amount
	}
	outputs := decomposeAmount(sum, e.policy.DefaultDustThreshold)
	return FusionEstimate{FusionReadyCount: len(candidates), TotalOutputCount: len(outputs)}, nil
}

// fusionShapeValid checks the preconditions required of a
// fusion transaction, short of the size bound (checked separately once a
// transaction has actually been assembled and signed).
func fusionShapeValid(inputCount, outputCount int, p Policy) bool {
	if inputCount < p.FusionTxMinInputCount {
		return false
	}
	return inputCount >= outputCount*p.FusionTxMinInOutCountRatio
}

// CreateFusionTransaction consolidates many small owned outputs into
// fewer larger ones, relayed at zero fee. It returns uuid.Nil with no
// error (INVALID_TRANSACTION_ID) when fewer than FusionTxMinInputCount
// fusion-ready inputs are available, rather than failing outright.
func (e *Engine) CreateFusionTransaction(ctx context.Context, threshold, mixIn uint64, sourceAddresses []Address, destination *Address) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if mixIn > e.policy.MaxSupportedMixin {
		return uuid.Nil, walleterror.Newf(walleterror.MixinCountTooBig, "mixIn %d exceeds maximum %d", mixIn, e.policy.MaxSupportedMixin)
	}

	sources, err := e.resolveSources(sourceAddresses)
	if err != nil {
		return uuid.Nil, err
	}
	dest, err := e.resolveChangeAccount(destination, sourceAddresses, sources)
	if err != nil {
		return uuid.Nil, err
	}

	selected := e.fusionReadyCandidates(sources, threshold)
	if len(selected) < e.policy.FusionTxMinInputCount {
		return uuid.Nil, nil
	}

	// Greedily consume the smallest candidates first (selected is
	// already sorted ascending), trimming the largest back off the
	// working set whenever the resulting shape fails the in/out
	// count-ratio rule.
	sum := func(cs []candidateOutput) uint64 {
		var s uint64
		for _, c := range cs {
			s += c.out.Amount
		}
		return s
	}
	outputs := decomposeAmount(sum(selected), e.policy.DefaultDustThreshold)
	for !fusionShapeValid(len(selected), len(outputs), e.policy) {
		if len(selected) <= e.policy.FusionTxMinInputCount {
			return uuid.Nil, nil
		}
		selected = selected[:len(selected)-1]
		outputs = decomposeAmount(sum(selected), e.policy.DefaultDustThreshold)
	}

	tx, err := e.buildFusionTransaction(ctx, selected, outputs, mixIn, dest)
	if err != nil {
		return uuid.Nil, err
	}

	// Shrink further if the signed transaction overruns the fusion
	// size bound, re-deriving outputs and re-signing each time.
	for {
		if err := e.checkFusionSize(tx); err == nil {
			break
		}
		if len(selected) <= e.policy.FusionTxMinInputCount {
			return uuid.Nil, nil
		}
		selected = selected[:len(selected)-1]
		outputs = decomposeAmount(sum(selected), e.policy.DefaultDustThreshold)
		if !fusionShapeValid(len(selected), len(outputs), e.policy) {
			return uuid.Nil, nil
		}
		tx, err = e.buildFusionTransaction(ctx, selected, outputs, mixIn, dest)
		if err != nil {
			return uuid.Nil, err
		}
	}

	id := uuid.New()
	txHash := hashSealedTransaction(tx)
	lockedKeys := make([]lockKey, 0, len(selected))
	lockedAmounts := make(map[lockKey]uint64, len(selected))
	var txTransfers []Transfer
	for _, c := range selected {
		key := c.lockKey()
		lockedKeys = append(lockedKeys, key)
		lockedAmounts[key] = c.out.Amount
	}
	for _, amount := range outputs {
		txTransfers = append(txTransfers, Transfer{Address: dest.address, Amount: amount, Type: xtransaction.TransferFusion})
	}

	e.pending[id] = &pendingTransaction{
		id:            id,
		tx:            tx,
		txHash:        txHash,
		state:         TxCreated,
		lockedOutputs: lockedKeys,
		lockedAmounts: lockedAmounts,
		transfers:     txTransfers,
		fee:           0,
		fusion:        true,
		historyIndex:  -1,
	}
	for _, key := range lockedKeys {
		e.lockedOutputs[key] = id
	}

	e.emitTransactionEvent(Event{Kind: EventTransactionCreated, TransactionIndex: -1})
	return id, nil
}

// buildFusionTransaction assembles, rings, and signs a zero-fee
// consolidation of selected into outputs, all addressed to dest. It does
// not check the final size: callers retry with a smaller input set on a
// TransactionSizeTooBig result from checkFusionSize.
func (e *Engine) buildFusionTransaction(ctx context.Context, selected []candidateOutput, outputs []uint64, mixIn uint64, dest *account) (*xtransaction.Transaction, error) {
	amounts := make([]uint64, len(selected))
	for i, c := range selected {
		amounts[i] = c.out.Amount
	}
	outsByAmount := make(map[uint64][]node.RandomOutput)
	if mixIn > 0 {
		decoys, err := e.nd.GetRandomOutsByAmounts(ctx, amounts, mixIn)
		if err != nil {
			return nil, walleterror.New(walleterror.MixinCountTooBig, err)
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
	for _, c := range selected {
		ring := []uint64{c.out.GlobalOutputIndex}
		for _, decoy := range outsByAmount[c.out.Amount] {
			if decoy.GlobalIndex == c.out.GlobalOutputIndex {
				continue
			}
			ring = append(ring, decoy.GlobalIndex)
			if uint64(len(ring)) > mixIn {
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
			return nil, walleterror.New(walleterror.InternalWalletError, err)
		}
		toSign = append(toSign, inputSecret{index: idx, acc: c.acc, out: c})
	}

	for _, amount := range outputs {
		onetime, err := e.onetimeOutputKey(tx, dest.address)
		if err != nil {
			return nil, err
		}
		if _, err := tx.AddKeyOutput(amount, onetime); err != nil {
			return nil, walleterror.New(walleterror.InternalWalletError, err)
		}
	}

	prefixHash, err := transactionPrefixHash(tx)
	if err != nil {
		return nil, walleterror.New(walleterror.InternalWalletError, err)
	}
	for _, in := range toSign {
		onetimeSecret, err := e.onetimeSecretKey(tx, in.acc, in.out.out)
		if err != nil {
			return nil, err
		}
		if err := tx.SignInputKey(in.index, onetimeSecret, prefixHash); err != nil {
			return nil, walleterror.New(walleterror.InternalWalletError, err)
		}
	}
	tx.Seal()
	return tx, nil
}

// checkFusionSize rejects a fusion transaction larger than
// Policy.FusionTxMaxSize, the shape bound fusion
// transactions instead of the ordinary granted-reward-zone limit.
func (e *Engine) checkFusionSize(tx *xtransaction.Transaction) error {
	data, err := tx.Serialize()
	if err != nil {
		return walleterror.New(walleterror.InternalWalletError, err)
	}
	if uint64(len(data)) > e.policy.FusionTxMaxSize {
		return walleterror.Newf(walleterror.TransactionSizeTooBig, "fusion transaction size %d exceeds limit %d", len(data), e.policy.FusionTxMaxSize)
	}
	return nil
}

// isFusion reports whether tx satisfies the node-side fusion predicate:
// zero fee, enough inputs relative to outputs, and outputs that are
// distinct powers of ten times a digit (one dust exception allowed),
// within the fusion size bound.
func isFusion(tx *xtransaction.Transaction, p Policy) bool {
	data, err := tx.Serialize()
	if err != nil || uint64(len(data)) > p.FusionTxMaxSize {
		return false
	}
	if tx.TotalInputAmount() != tx.TotalOutputAmount() {
		return false
	}
	if len(tx.Inputs()) < p.FusionTxMinInputCount {
		return false
	}
	amounts := make([]uint64, 0, len(tx.Outputs()))
	for _, out := range tx.Outputs() {
		switch out.Type {
		case xtransaction.OutputTypeKey:
			amounts = append(amounts, out.Key.Amount)
		case xtransaction.OutputTypeMultisig:
			amounts = append(amounts, out.Multisig.Amount)
		}
	}
	if len(tx.Inputs()) < len(amounts)*p.FusionTxMinInOutCountRatio {
		return false
	}
	seenOrders := make(map[uint64]bool)
	dustSeen := false
	for _, amount := range amounts {
		order, digit := orderOf(amount)
		if digit == 0 {
			continue
		}
		if digit > 9 {
			return false
		}
		if seenOrders[order] {
			if dustSeen {
				return false
			}
			dustSeen = true
			continue
		}
		seenOrders[order] = true
	}
	return true
}

// orderOf strips amount's trailing zeros, returning the power of ten
// removed and what remains, e.g. 2000 -> (1000, 2) and 2500 -> (100, 25).
func orderOf(amount uint64) (order, digit uint64) {
	if amount == 0 {
		return 0, 0
	}
	order = 1
	for amount%10 == 0 {
		amount /= 10
		order *= 10
	}
	return order, amount
}
