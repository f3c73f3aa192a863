package core

import (
	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/settlement"
	"CoverLedger/internal/state"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the deterministic inputs the core is built from.
type Config struct {
	StartSequence int64
	LRUCapacity   int
	Assets        settlement.Assets
	Clock         state.EpochClock
}

// DeterministicCore is the single-threaded command processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	book              *ledger.Book
	tracker           *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	coordinator       *settlement.EpochCoordinator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	publishChan    chan<- CoreOutput
}

// CoreOutput is everything one applied command produced.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batches    []*ledger.Batch
	StateDelta []byte
	Balances   map[ledger.AccountKey]int64 // post-apply balances of touched accounts
	Result     any                         // settlement result, nil for plain transfers
	Lapses     []settlement.Lapse
	EmittedAt  time.Time // wall clock, metrics only
}

// Journals returns every journal across the output's batches.
func (o CoreOutput) Journals() []ledger.Journal {
	var out []ledger.Journal
	for _, b := range o.Batches {
		out = append(out, b.Journals...)
	}
	return out
}

// NewDeterministicCore builds the core. publishChan may be nil.
func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan, publishChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *DeterministicCore {
	tracker := ledger.NewBalanceTracker()
	book := ledger.NewBook(tracker)

	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}
	if cfg.StartSequence <= 0 {
		cfg.StartSequence = 1
	}

	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		book:              book,
		tracker:           tracker,
		validator:         book.Validator(),
		coordinator:       settlement.NewEpochCoordinator(book, cfg.Assets, cfg.Clock, logger.With().Str("component", "coordinator").Logger()),
		idempotency:       NewIdempotencyChecker(cfg.LRUCapacity, dbChecker, metrics, logger),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
		publishChan:       publishChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	_, err := c.apply(evt, false)
	return err
}

// Process is ProcessEvent returning the applied output. A nil output with a
// nil error means the command was a duplicate.
func (c *DeterministicCore) Process(evt event.Event) (*CoreOutput, error) {
	return c.apply(evt, false)
}

// ReplayEvent re-applies a command read back from the event log on top of a
// restored snapshot. Dedup only consults the LRU and nothing is emitted; the
// returned envelope lets the caller compare sequence and hash with the log.
// A nil envelope with a nil error means the command was a duplicate.
func (c *DeterministicCore) ReplayEvent(evt event.Event) (*event.EventEnvelope, error) {
	out, err := c.apply(evt, true)
	if out == nil {
		return nil, err
	}
	return out.Envelope, nil
}

func (c *DeterministicCore) apply(evt event.Event, replay bool) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	if idempotencyKey == "" {
		c.reject(eventType, "missing_key")
		return nil, fmt.Errorf("%s: missing command id", eventType)
	}

	// Step 1: idempotency (two-tier; LRU only on replay)
	var isDuplicate bool
	if replay {
		isDuplicate = c.idempotency.SeenRecently(eventType, idempotencyKey)
	} else {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: source sequence
	partition := c.getPartition(evt)
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
		c.reject(eventType, "sequence")
		if c.metrics != nil {
			switch {
			case errors.Is(err, ErrSequenceGap):
				c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
			case errors.Is(err, ErrOutOfOrder):
				c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
			}
		}
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.reject(eventType, "duplicate")
		return nil, nil
	}

	// Step 3: dispatch. Book postings are applied immediately; a failed
	// command rolls every one of them back.
	ts := evt.TimestampMicros()
	mark := c.book.Begin(idempotencyKey, ts)
	result, err := c.dispatchEvent(evt, ts)
	if err != nil {
		c.book.Rollback(mark)
		c.coordinator.Buyers().DrainLapses()
		c.reject(eventType, "dispatch")
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}
	batches := c.book.Drain()
	lapses := c.coordinator.Buyers().DrainLapses()

	// Step 4: stamp and re-validate
	for _, batch := range batches {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		batch.Stamp(c.sequence)
	}

	// Step 5: state digest and hash chain
	hashStart := time.Now()
	stateDigest, balances := c.computeStateDigest(batches)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, idempotencyKey, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode %s payload: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		CategoryID:     evt.CategoryID(),
		Timestamp:      time.UnixMicro(ts),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	// Step 6: post-checks
	if err := c.postCheckInvariants(evt, batches); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batches:    batches,
		StateDelta: stateDigest,
		Balances:   balances,
		Result:     result,
		Lapses:     lapses,
		EmittedAt:  time.Now(),
	}

	// Step 7: emit. Persist blocks (backpressure); projection and publish
	// drop when full and are rebuilt from the event log.
	if !replay {
		c.emit(output)
	}

	// Step 8: mark processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	c.sequence++

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		for _, j := range output.Journals() {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		c.recordSettlementMetrics(result, len(lapses))
		if replay {
			c.metrics.ReplayEventsTotal.Inc()
		}
	}

	return &output, nil
}

func (c *DeterministicCore) emit(output CoreOutput) {
	if len(c.persistChan) == cap(c.persistChan) && c.metrics != nil {
		c.metrics.PersistBackpressure.Inc()
	}
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	if c.publishChan != nil {
		select {
		case c.publishChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if cat := evt.CategoryID(); cat != nil {
		return fmt.Sprintf("category:%d", *cat)
	}
	return "global"
}

// computeStateDigest creates canonical bytes over every touched account,
// ordered by account path, and returns their post-apply balances.
func (c *DeterministicCore) computeStateDigest(batches []*ledger.Batch) ([]byte, map[ledger.AccountKey]int64) {
	affected := make(map[ledger.AccountKey]int64)
	for _, batch := range batches {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = 0
			affected[j.CreditAccount] = 0
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		balance := c.tracker.GetBalance(key)
		affected[key] = balance

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, balance)
	}
	return digest, affected
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after the command applied
func (c *DeterministicCore) postCheckInvariants(evt event.Event, batches []*ledger.Batch) error {
	for _, batch := range batches {
		if err := c.validator.ValidateTouchedNonNegative(batch); err != nil {
			return fmt.Errorf("post-check non-negative: %w", err)
		}
	}

	switch evt.(type) {
	case *event.BeforeUpdate, *event.EpochSettle:
		if snap := c.coordinator.Epochs().Snapshot(); snap != nil {
			for _, id := range snap.CategoryIDs() {
				if err := snap.Categories[id].Validate(); err != nil {
					return fmt.Errorf("post-check clamping: %w", err)
				}
			}
		}
	}

	// Periodic zero-sum check over every asset
	if c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check zero-sum at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

func (c *DeterministicCore) recordSettlementMetrics(result any, lapses int) {
	m := c.metrics
	m.BuyerLapses.Add(float64(lapses))
	m.GuarantorPoolBalance.Set(float64(c.coordinator.Guarantor().PoolBalance()))
	m.BonusReserveBalance.Set(float64(c.coordinator.Bonus().Reserve()))

	switch r := result.(type) {
	case *settlement.EpochReport:
		m.EpochSettled.Inc()
		m.EpochCurrent.Set(float64(r.Epoch))
		if r.SnapshotCreated {
			m.EpochSnapshots.Inc()
		}
		m.PremiumCharged.Add(float64(r.PremiumCharged))
		m.PremiumRefundHeld.Add(float64(r.PremiumHeld))
		m.PremiumReleased.Add(float64(r.PremiumReleased))
		m.PremiumDistributed.WithLabelValues("seller").Add(float64(r.SellerDistributed))
		m.PremiumDistributed.WithLabelValues("guarantor").Add(float64(r.GuarantorDistributed))
		m.BonusShortfall.Add(float64(r.BonusShortfall))
		for _, b := range r.Bonuses {
			m.BonusAccrued.WithLabelValues(b.Party).Add(float64(b.Total()))
		}
		for _, f := range r.Failures {
			m.SettlementFailures.WithLabelValues(f.Kind).Inc()
		}
	case *SnapshotResult:
		m.EpochCurrent.Set(float64(r.Snapshot.Epoch))
		if r.Created {
			m.EpochSnapshots.Inc()
		}
	case *settlement.BuyerUpdateResult:
		m.PremiumReleased.Add(float64(r.Released))
		for _, l := range r.Lines {
			m.PremiumCharged.Add(float64(l.Charged))
			m.PremiumRefundHeld.Add(float64(l.Refundable))
		}
	case *settlement.PremiumDistribution:
		if len(r.Paid) > 0 {
			m.PremiumDistributed.WithLabelValues("seller").Add(float64(r.Pool - r.Carried))
		} else if !r.Skipped {
			m.PremiumDistributed.WithLabelValues("guarantor").Add(float64(r.Pool))
		}
	case *settlement.BonusResult:
		m.BonusAccrued.WithLabelValues(r.Party).Add(float64(r.Total()))
		m.BonusShortfall.Add(float64(r.Shortfall))
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Settlement      *settlement.State
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Events after snap.Sequence are replayed on top.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.tracker.SetBalance(key, balance)
	}
	if err := c.coordinator.RestoreState(snap.Settlement); err != nil {
		return fmt.Errorf("restore settlement state: %w", err)
	}
	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Coordinator exposes the settlement components. Only safe to use from the
// goroutine that calls ProcessEvent.
func (c *DeterministicCore) Coordinator() *settlement.EpochCoordinator {
	return c.coordinator
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.tracker.Snapshot(),
		Settlement:      c.coordinator.ExportState(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
