package monitor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hedgeflow/internal/archive"
	"hedgeflow/internal/model"
	"hedgeflow/internal/store"
)

// weiExponent converts raw on-chain integer amounts into unit representation.
const weiExponent = -18

// Source is the chain capability the monitor consumes.
type Source interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterDeposits(ctx context.Context, fromBlock, toBlock uint64) ([]model.DepositLog, error)
	SubscribeDeposits(ctx context.Context, sink chan<- model.DepositLog) (ethereum.Subscription, error)
}

// Config holds runtime settings for the deposit monitor.
type Config struct {
	ReconcileInterval time.Duration
	StartLookback     uint64
	BatchSize         uint64
	DepositTTL        time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Monitor turns the chain's deposit event stream into durable, deduplicated
// DepositEvents and queued HedgeRequests. A live subscription provides low
// latency; the periodic reconciliation over [lastProcessedBlock+1, head] is
// the source of truth.
type Monitor struct {
	cfg     Config
	source  Source
	store   store.Store
	archive archive.Archive
	logger  *zap.Logger

	mu        sync.Mutex
	lastBlock uint64
}

// New builds a Monitor with its dependencies. The archive sink may be nil.
func New(cfg Config, source Source, st store.Store, arc archive.Archive, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	if cfg.StartLookback == 0 {
		cfg.StartLookback = 100
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.DepositTTL <= 0 {
		cfg.DepositTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	return &Monitor{
		cfg:     cfg,
		source:  source,
		store:   st,
		archive: arc,
		logger:  logger,
	}
}

// Run starts the live subscription and the reconciliation loop and blocks
// until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.seedLastBlock(ctx); err != nil {
		return err
	}

	sink := make(chan model.DepositLog, 64)
	sub, err := m.source.SubscribeDeposits(ctx, sink)
	if err != nil {
		m.logger.Warn("live subscription unavailable, reconciliation only", zap.Error(err))
		sub = nil
	}
	subErr := func() <-chan error {
		if sub == nil {
			return nil
		}
		return sub.Err()
	}

	// Catch up immediately instead of waiting a full interval.
	if err := m.reconcile(ctx); err != nil {
		m.logger.Warn("initial reconciliation failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if sub != nil {
				sub.Unsubscribe()
			}
			return nil
		case deposit := <-sink:
			m.handleDeposit(ctx, deposit)
		case err := <-subErr():
			if err != nil {
				m.logger.Warn("subscription dropped, reconciliation only", zap.Error(err))
			}
			sub = nil
		case <-ticker.C:
			if err := m.reconcile(ctx); err != nil {
				m.logger.Warn("reconciliation failed", zap.Error(err))
			}
		}
	}
}

// seedLastBlock loads the persisted checkpoint, or seeds a bounded backfill
// window below the current head on first start.
func (m *Monitor) seedLastBlock(ctx context.Context) error {
	val, ok, err := m.store.Get(ctx, store.LastBlockKey)
	if err != nil {
		return fmt.Errorf("load last block: %w", err)
	}
	if ok {
		last, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("parse last block %q: %w", val, err)
		}
		m.setLastBlock(last)
		m.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last))
		return nil
	}

	head, err := m.source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get head block: %w", err)
	}
	seed := uint64(0)
	if head > m.cfg.StartLookback {
		seed = head - m.cfg.StartLookback
	}
	m.setLastBlock(seed)
	if err := m.persistLastBlock(ctx, seed); err != nil {
		return err
	}
	m.logger.Info("seeded checkpoint", zap.Uint64("head", head), zap.Uint64("last_processed", seed))
	return nil
}

// reconcile re-queries the chain over [lastProcessedBlock+1, head] and replays
// everything through the common handler. Events already handled by the live
// subscription are tolerated by the idempotent upsert downstream.
func (m *Monitor) reconcile(ctx context.Context) error {
	head, err := m.source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get head block: %w", err)
	}

	from := m.getLastBlock() + 1
	if from > head {
		return nil
	}

	ranges, err := SplitRange(from, head, m.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deposits, err := m.filterWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return fmt.Errorf("filter deposits [%d, %d]: %w", blockRange.From, blockRange.To, err)
		}

		for _, deposit := range deposits {
			m.handleDeposit(ctx, deposit)
		}

		// Advance past the scanned range so an event-free chain does not
		// grow the rescan window without bound.
		m.advanceLastBlock(ctx, blockRange.To)

		if len(deposits) > 0 {
			m.logger.Info("reconciled range",
				zap.Uint64("from", blockRange.From),
				zap.Uint64("to", blockRange.To),
				zap.Int("deposits", len(deposits)),
			)
		}
	}

	return nil
}

// handleDeposit is the common handler for live and reconciled events. It must
// be safe under re-delivery and reordering; failures are logged and do not
// abort the surrounding loop.
func (m *Monitor) handleDeposit(ctx context.Context, deposit model.DepositLog) {
	event := model.DepositEvent{
		TxHash:       deposit.TxHash,
		Depositor:    deposit.Depositor,
		Amount:       decimal.NewFromBigInt(deposit.AmountWei, weiExponent),
		MintedAmount: decimal.NewFromBigInt(deposit.MintedWei, weiExponent),
		BlockNumber:  deposit.BlockNumber,
		DetectedAt:   time.Now().UTC(),
	}

	encoded, err := model.EncodeDeposit(event)
	if err != nil {
		m.logger.Error("encode deposit", zap.String("tx_hash", event.TxHash), zap.Error(err))
		return
	}

	if err := m.store.SetWithTTL(ctx, store.DepositKey(event.TxHash), encoded, m.cfg.DepositTTL); err != nil {
		m.logger.Error("persist deposit", zap.String("tx_hash", event.TxHash), zap.Error(err))
		return
	}
	if err := m.store.SortedSetAdd(ctx, store.DepositIndexKey, float64(event.DetectedAt.UnixMilli()), event.TxHash); err != nil {
		m.logger.Error("index deposit", zap.String("tx_hash", event.TxHash), zap.Error(err))
		return
	}

	request := model.HedgeRequest{
		DepositTxHash: event.TxHash,
		Notional:      event.Amount,
		TokenAmount:   event.MintedAmount,
		Depositor:     event.Depositor,
	}
	payload, err := model.EncodeHedgeRequest(request)
	if err != nil {
		m.logger.Error("encode hedge request", zap.String("tx_hash", event.TxHash), zap.Error(err))
		return
	}
	if err := m.store.Push(ctx, store.HedgeQueueKey, payload); err != nil {
		m.logger.Error("enqueue hedge request", zap.String("tx_hash", event.TxHash), zap.Error(err))
		return
	}

	m.advanceLastBlock(ctx, event.BlockNumber)

	if m.archive != nil {
		if err := m.archive.SaveDeposit(ctx, event); err != nil {
			m.logger.Warn("archive deposit", zap.String("tx_hash", event.TxHash), zap.Error(err))
		}
	}

	m.logger.Info("deposit observed",
		zap.String("tx_hash", event.TxHash),
		zap.String("depositor", event.Depositor),
		zap.String("amount", event.Amount.String()),
		zap.Uint64("block", event.BlockNumber),
	)
}

// RecentDeposits returns up to limit deposits, newest first. Index entries
// whose record has passed its retention window are skipped.
func (m *Monitor) RecentDeposits(ctx context.Context, limit int64) ([]model.DepositEvent, error) {
	hashes, err := m.store.SortedSetRangeDesc(ctx, store.DepositIndexKey, limit)
	if err != nil {
		return nil, fmt.Errorf("deposit index: %w", err)
	}

	deposits := make([]model.DepositEvent, 0, len(hashes))
	for _, txHash := range hashes {
		event, ok, err := m.DepositByHash(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		deposits = append(deposits, event)
	}
	return deposits, nil
}

// DepositByHash looks up a single deposit, with ok=false when unknown.
func (m *Monitor) DepositByHash(ctx context.Context, txHash string) (model.DepositEvent, bool, error) {
	val, ok, err := m.store.Get(ctx, store.DepositKey(txHash))
	if err != nil {
		return model.DepositEvent{}, false, fmt.Errorf("get deposit %s: %w", txHash, err)
	}
	if !ok {
		return model.DepositEvent{}, false, nil
	}
	event, err := model.DecodeDeposit(val)
	if err != nil {
		return model.DepositEvent{}, false, fmt.Errorf("decode deposit %s: %w", txHash, err)
	}
	return event, true, nil
}

// filterWithRetry retries transient RPC failures with a doubling backoff.
func (m *Monitor) filterWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]model.DepositLog, error) {
	delay := m.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		deposits, err := m.source.FilterDeposits(ctx, fromBlock, toBlock)
		if err == nil {
			return deposits, nil
		}
		if attempt >= m.cfg.MaxRetries {
			return nil, err
		}
		m.logger.Warn("filter deposits failed",
			zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock),
			zap.Int("attempt", attempt+1))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func (m *Monitor) getLastBlock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBlock
}

func (m *Monitor) setLastBlock(block uint64) {
	m.mu.Lock()
	m.lastBlock = block
	m.mu.Unlock()
}

// advanceLastBlock moves the checkpoint forward monotonically and persists it.
func (m *Monitor) advanceLastBlock(ctx context.Context, block uint64) {
	m.mu.Lock()
	if block <= m.lastBlock {
		m.mu.Unlock()
		return
	}
	m.lastBlock = block
	m.mu.Unlock()

	if err := m.persistLastBlock(ctx, block); err != nil {
		m.logger.Error("persist last block", zap.Uint64("block", block), zap.Error(err))
	}
}

func (m *Monitor) persistLastBlock(ctx context.Context, block uint64) error {
	if err := m.store.Set(ctx, store.LastBlockKey, strconv.FormatUint(block, 10)); err != nil {
		return fmt.Errorf("persist last block: %w", err)
	}
	return nil
}

// LastProcessedBlock returns the current checkpoint.
func (m *Monitor) LastProcessedBlock() uint64 {
	return m.getLastBlock()
}
