package monitor

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"

	"hedgeflow/internal/model"
	"hedgeflow/internal/store"
)

type fakeSource struct {
	head        uint64
	deposits    []model.DepositLog
	filterCalls []BlockRange
	filterErrs  int
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) FilterDeposits(_ context.Context, fromBlock, toBlock uint64) ([]model.DepositLog, error) {
	f.filterCalls = append(f.filterCalls, BlockRange{From: fromBlock, To: toBlock})
	if f.filterErrs > 0 {
		f.filterErrs--
		return nil, fmt.Errorf("transient rpc failure")
	}
	var out []model.DepositLog
	for _, deposit := range f.deposits {
		if deposit.BlockNumber >= fromBlock && deposit.BlockNumber <= toBlock {
			out = append(out, deposit)
		}
	}
	return out, nil
}

func (f *fakeSource) SubscribeDeposits(context.Context, chan<- model.DepositLog) (ethereum.Subscription, error) {
	return nil, fmt.Errorf("subscriptions unsupported")
}

func wei(eth int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(eth), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func depositLog(txHash string, block uint64) model.DepositLog {
	return model.DepositLog{
		TxHash:      txHash,
		Depositor:   "0x2222222222222222222222222222222222222222",
		AmountWei:   wei(2),
		MintedWei:   wei(4),
		BlockNumber: block,
	}
}

func newTestMonitor(source Source, st store.Store) *Monitor {
	return New(Config{
		BatchSize:    1000,
		RetryBackoff: time.Millisecond,
		MaxRetries:   3,
	}, source, st, nil, nil)
}

func drainQueue(t *testing.T, st store.Store) []model.HedgeRequest {
	t.Helper()
	ctx := context.Background()
	var requests []model.HedgeRequest
	for {
		payload, ok, err := st.BlockingPop(ctx, store.HedgeQueueKey, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			return requests
		}
		request, err := model.DecodeHedgeRequest(payload)
		if err != nil {
			t.Fatalf("decode request: %v", err)
		}
		requests = append(requests, request)
	}
}

func TestHandleDepositIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := newTestMonitor(&fakeSource{}, st)

	deposit := depositLog("0xaaa1", 120)
	m.handleDeposit(ctx, deposit)
	m.handleDeposit(ctx, deposit)
	m.handleDeposit(ctx, deposit)

	recent, err := m.RecentDeposits(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 deposit, got %d", len(recent))
	}
	if recent[0].TxHash != "0xaaa1" {
		t.Fatalf("tx hash mismatch: %s", recent[0].TxHash)
	}
	if recent[0].Amount.String() != "2" {
		t.Fatalf("amount mismatch: %s", recent[0].Amount)
	}

	// Duplicate queue entries are acceptable; the orchestrator dedupes.
	requests := drainQueue(t, st)
	if len(requests) != 3 {
		t.Fatalf("expected 3 queued requests, got %d", len(requests))
	}
	if m.LastProcessedBlock() != 120 {
		t.Fatalf("last block mismatch: %d", m.LastProcessedBlock())
	}
}

func TestReconcileGapRecovery(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.Set(ctx, store.LastBlockKey, "100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source := &fakeSource{
		head: 150,
		deposits: []model.DepositLog{
			depositLog("0xaaa1", 110),
			depositLog("0xaaa2", 125),
			depositLog("0xaaa3", 150),
		},
	}
	m := newTestMonitor(source, st)

	if err := m.seedLastBlock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.LastProcessedBlock() != 100 {
		t.Fatalf("resume mismatch: %d", m.LastProcessedBlock())
	}

	if err := m.reconcile(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(source.filterCalls) != 1 {
		t.Fatalf("expected 1 filter call, got %d", len(source.filterCalls))
	}
	if source.filterCalls[0].From != 101 || source.filterCalls[0].To != 150 {
		t.Fatalf("filter range mismatch: %+v", source.filterCalls[0])
	}

	recent, err := m.RecentDeposits(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 deposits, got %d", len(recent))
	}
	if requests := drainQueue(t, st); len(requests) != 3 {
		t.Fatalf("expected 3 queued requests, got %d", len(requests))
	}
	if m.LastProcessedBlock() != 150 {
		t.Fatalf("last block mismatch: %d", m.LastProcessedBlock())
	}

	// Second cycle at the same head has nothing left to scan.
	if err := m.reconcile(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(source.filterCalls) != 1 {
		t.Fatalf("expected no further filter calls, got %d", len(source.filterCalls))
	}
}

func TestReconcileRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.Set(ctx, store.LastBlockKey, "100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source := &fakeSource{
		head:       110,
		deposits:   []model.DepositLog{depositLog("0xaaa1", 105)},
		filterErrs: 2,
	}
	m := newTestMonitor(source, st)

	if err := m.seedLastBlock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.reconcile(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recent, err := m.RecentDeposits(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 deposit, got %d", len(recent))
	}
}

func TestSeedLastBlockBoundedLookback(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := New(Config{StartLookback: 100}, &fakeSource{head: 500}, st, nil, nil)

	if err := m.seedLastBlock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.LastProcessedBlock() != 400 {
		t.Fatalf("seed mismatch: %d", m.LastProcessedBlock())
	}

	val, ok, err := st.Get(ctx, store.LastBlockKey)
	if err != nil || !ok {
		t.Fatalf("checkpoint not persisted: ok=%t err=%v", ok, err)
	}
	if val != "400" {
		t.Fatalf("checkpoint mismatch: %s", val)
	}
}

func TestDepositByHashUnknown(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(&fakeSource{}, store.NewMemory())

	_, ok, err := m.DepositByHash(ctx, "0xmissing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for unknown hash")
	}
}
