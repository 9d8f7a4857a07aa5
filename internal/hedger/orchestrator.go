package hedger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hedgeflow/internal/archive"
	"hedgeflow/internal/model"
	"hedgeflow/internal/store"
	"hedgeflow/internal/venue"
)

// ErrNoPositions is returned by CloseOut when no hedge exists for the hash.
var ErrNoPositions = errors.New("no hedge positions for transaction")

// Target binds one venue adapter to the instrument it hedges on and the
// sizing rules for that instrument. A positive ContractSize marks a
// contract-denominated instrument: the notional is converted into a contract
// count at the venue-quoted price before ordering.
type Target struct {
	Adapter      venue.Adapter
	Instrument   string
	ContractSize decimal.Decimal
	MinIncrement decimal.Decimal
	MinOrderSize decimal.Decimal
}

// Config holds runtime settings for the orchestrator.
type Config struct {
	PopTimeout   time.Duration
	ErrorBackoff time.Duration
	ClaimTTL     time.Duration
	PositionTTL  time.Duration
}

// Orchestrator consumes hedge requests from the durable queue and executes
// each as a concurrent short fan-out across all configured venues, recording
// one position per venue per attempt.
type Orchestrator struct {
	cfg     Config
	targets []Target
	store   store.Store
	archive archive.Archive
	logger  *zap.Logger
}

// New builds an Orchestrator with its dependencies. The archive sink may be nil.
func New(cfg Config, targets []Target, st store.Store, arc archive.Archive, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	if cfg.PositionTTL <= 0 {
		cfg.PositionTTL = 30 * 24 * time.Hour
	}
	return &Orchestrator{
		cfg:     cfg,
		targets: targets,
		store:   st,
		archive: arc,
		logger:  logger,
	}
}

// Run drains the hedge queue until ctx is cancelled. Processing errors are
// logged and backed off; the loop never exits on them.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, ok, err := o.store.BlockingPop(ctx, store.HedgeQueueKey, o.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Warn("queue pop failed", zap.Error(err))
			o.pause(ctx)
			continue
		}
		if !ok {
			continue
		}

		request, err := model.DecodeHedgeRequest(payload)
		if err != nil {
			o.logger.Error("malformed queue payload dropped", zap.Error(err))
			continue
		}

		if err := o.Execute(ctx, request); err != nil {
			o.logger.Error("hedge execution failed",
				zap.String("tx_hash", request.DepositTxHash), zap.Error(err))
			o.pause(ctx)
		}
	}
}

func (o *Orchestrator) pause(ctx context.Context) {
	timer := time.NewTimer(o.cfg.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Execute runs one hedge request: claim the deposit, fan out to every venue,
// record one position per venue, write the execution log. Duplicate requests
// for an already-executed deposit are no-ops.
func (o *Orchestrator) Execute(ctx context.Context, request model.HedgeRequest) error {
	txHash := request.DepositTxHash
	if txHash == "" {
		return fmt.Errorf("hedge request missing tx hash")
	}

	existing, err := o.Positions(ctx, txHash)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		o.logger.Info("hedge already executed, skipping", zap.String("tx_hash", txHash))
		return nil
	}

	// Atomic claim closes the observe-then-act window between concurrent
	// consumers. Released only when nothing was opened anywhere.
	claimed, err := o.store.SetNX(ctx, store.ClaimKey(txHash), "1", o.cfg.ClaimTTL)
	if err != nil {
		return fmt.Errorf("claim deposit %s: %w", txHash, err)
	}
	if !claimed {
		o.logger.Info("deposit claimed elsewhere, skipping", zap.String("tx_hash", txHash))
		return nil
	}

	positions := o.fanOut(ctx, request)

	successCount := 0
	for _, position := range positions {
		if position.State != model.PositionFailed {
			successCount++
		}
	}

	for _, position := range positions {
		if err := o.savePosition(ctx, position); err != nil {
			o.logger.Error("persist position",
				zap.String("tx_hash", txHash), zap.String("venue", position.Venue), zap.Error(err))
		}
	}

	executionLog := model.ExecutionLog{
		Request:      request,
		Positions:    positions,
		SuccessCount: successCount,
		TotalVenues:  len(positions),
		ExecutedAt:   time.Now().UTC(),
	}
	encoded, err := model.EncodeExecutionLog(executionLog)
	if err != nil {
		return fmt.Errorf("encode execution log: %w", err)
	}
	if err := o.store.Set(ctx, store.ExecutionKey(txHash), encoded); err != nil {
		return fmt.Errorf("persist execution log: %w", err)
	}

	if successCount == 0 {
		if err := o.store.Delete(ctx, store.ClaimKey(txHash)); err != nil {
			o.logger.Warn("release claim", zap.String("tx_hash", txHash), zap.Error(err))
		}
	}

	if o.archive != nil {
		if err := o.archive.SaveExecution(ctx, executionLog); err != nil {
			o.logger.Warn("archive execution log", zap.String("tx_hash", txHash), zap.Error(err))
		}
	}

	o.classify(executionLog)
	return nil
}

// fanOut invokes every venue concurrently and waits for all outcomes. One
// venue's failure never cancels or blocks the others.
func (o *Orchestrator) fanOut(ctx context.Context, request model.HedgeRequest) []model.HedgePosition {
	positions := make([]model.HedgePosition, len(o.targets))
	var wg sync.WaitGroup
	for i, target := range o.targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			positions[i] = o.executeTarget(ctx, request, target)
		}(i, target)
	}
	wg.Wait()
	return positions
}

// executeTarget translates the notional into the target instrument's units and
// opens the short. Every outcome, including failure, yields one position record.
func (o *Orchestrator) executeTarget(ctx context.Context, request model.HedgeRequest, target Target) model.HedgePosition {
	now := time.Now().UTC()
	position := model.HedgePosition{
		DepositTxHash: request.DepositTxHash,
		Venue:         target.Adapter.Name(),
		Instrument:    target.Instrument,
		Side:          "short",
		Size:          request.Notional,
		FillPrice:     decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	size, err := o.orderSize(ctx, request.Notional, target)
	if err != nil {
		position.State = model.PositionFailed
		position.Reason = err.Error()
		return position
	}
	position.Size = size

	opened, err := target.Adapter.OpenShort(ctx, target.Instrument, size)
	if err != nil {
		position.State = model.PositionFailed
		position.Reason = err.Error()
		return position
	}

	if opened.FilledSize.IsPositive() {
		position.Size = opened.FilledSize
	}
	position.FillPrice = opened.FillPrice
	if opened.Filled {
		position.State = model.PositionOpen
	} else {
		position.State = model.PositionPending
	}
	return position
}

// orderSize converts the hedge notional into the instrument's order size and
// applies the venue's rounding rules.
func (o *Orchestrator) orderSize(ctx context.Context, notional decimal.Decimal, target Target) (decimal.Decimal, error) {
	raw := notional
	if target.ContractSize.IsPositive() {
		price, err := target.Adapter.CurrentPrice(ctx, target.Instrument)
		if err != nil {
			return decimal.Zero, fmt.Errorf("quote %s: %w", target.Instrument, err)
		}
		raw = notional.Mul(price).Div(target.ContractSize)
	}
	return venue.RoundSize(raw, target.MinIncrement, target.MinOrderSize), nil
}

// classify logs the terminal outcome of one execution.
func (o *Orchestrator) classify(executionLog model.ExecutionLog) {
	txHash := executionLog.Request.DepositTxHash
	fields := []zap.Field{
		zap.String("tx_hash", txHash),
		zap.Int("succeeded", executionLog.SuccessCount),
		zap.Int("attempted", executionLog.TotalVenues),
	}
	switch {
	case executionLog.SuccessCount == 0:
		o.logger.Error("deposit fully unhedged", fields...)
	case executionLog.SuccessCount < executionLog.TotalVenues:
		o.logger.Warn("deposit partially hedged", fields...)
	default:
		o.logger.Info("deposit fully hedged", fields...)
	}
}

// CloseOut buys back every recorded position for the hash. A single venue's
// close failure does not stop the others; returns true only if every position
// is closed afterwards.
func (o *Orchestrator) CloseOut(ctx context.Context, txHash string) (bool, error) {
	positions, err := o.Positions(ctx, txHash)
	if err != nil {
		return false, err
	}
	if len(positions) == 0 {
		return false, ErrNoPositions
	}

	allClosed := true
	for _, position := range positions {
		switch position.State {
		case model.PositionFailed, model.PositionClosed:
			// Nothing open at the venue.
			continue
		}

		adapter := o.adapterFor(position.Venue)
		if adapter == nil {
			allClosed = false
			o.logger.Error("no adapter for venue",
				zap.String("tx_hash", txHash), zap.String("venue", position.Venue))
			continue
		}

		closed, err := adapter.Close(ctx, position.Instrument, position.Size)
		if err != nil || !closed {
			allClosed = false
			o.logger.Error("close failed",
				zap.String("tx_hash", txHash), zap.String("venue", position.Venue), zap.Error(err))
			continue
		}

		position.State = model.PositionClosed
		position.UpdatedAt = time.Now().UTC()
		if err := o.savePosition(ctx, position); err != nil {
			o.logger.Error("persist closed position",
				zap.String("tx_hash", txHash), zap.String("venue", position.Venue), zap.Error(err))
		}
		o.logger.Info("position closed",
			zap.String("tx_hash", txHash), zap.String("venue", position.Venue),
			zap.String("size", position.Size.String()))
	}

	return allClosed, nil
}

// Positions returns all recorded positions for the hash, one per venue.
func (o *Orchestrator) Positions(ctx context.Context, txHash string) ([]model.HedgePosition, error) {
	venues, err := o.store.SetMembers(ctx, store.PositionSetKey(txHash))
	if err != nil {
		return nil, fmt.Errorf("position set %s: %w", txHash, err)
	}

	positions := make([]model.HedgePosition, 0, len(venues))
	for _, venueName := range venues {
		val, ok, err := o.store.Get(ctx, store.PositionKey(txHash, venueName))
		if err != nil {
			return nil, fmt.Errorf("get position %s/%s: %w", txHash, venueName, err)
		}
		if !ok {
			// Retention expired the record but not the index entry.
			continue
		}
		position, err := model.DecodePosition(val)
		if err != nil {
			return nil, fmt.Errorf("decode position %s/%s: %w", txHash, venueName, err)
		}
		positions = append(positions, position)
	}
	return positions, nil
}

// Execution returns the execution log for the hash, with ok=false when absent.
func (o *Orchestrator) Execution(ctx context.Context, txHash string) (model.ExecutionLog, bool, error) {
	val, ok, err := o.store.Get(ctx, store.ExecutionKey(txHash))
	if err != nil {
		return model.ExecutionLog{}, false, fmt.Errorf("get execution log %s: %w", txHash, err)
	}
	if !ok {
		return model.ExecutionLog{}, false, nil
	}
	executionLog, err := model.DecodeExecutionLog(val)
	if err != nil {
		return model.ExecutionLog{}, false, fmt.Errorf("decode execution log %s: %w", txHash, err)
	}
	return executionLog, true, nil
}

func (o *Orchestrator) savePosition(ctx context.Context, position model.HedgePosition) error {
	encoded, err := model.EncodePosition(position)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	key := store.PositionKey(position.DepositTxHash, position.Venue)
	if err := o.store.SetWithTTL(ctx, key, encoded, o.cfg.PositionTTL); err != nil {
		return err
	}
	return o.store.SetAdd(ctx, store.PositionSetKey(position.DepositTxHash), position.Venue)
}

func (o *Orchestrator) adapterFor(venueName string) venue.Adapter {
	for _, target := range o.targets {
		if target.Adapter.Name() == venueName {
			return target.Adapter
		}
	}
	return nil
}
