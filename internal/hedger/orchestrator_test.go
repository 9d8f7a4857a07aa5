package hedger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedgeflow/internal/model"
	"hedgeflow/internal/store"
	"hedgeflow/internal/venue"
)

type fakeAdapter struct {
	mu         sync.Mutex
	name       string
	price      decimal.Decimal
	filled     bool
	openErr    error
	closeOK    bool
	closeErr   error
	openCalls  int
	closeCalls int
	openSizes  []decimal.Decimal
	closeSizes []decimal.Decimal
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) OpenShort(_ context.Context, instrument string, size decimal.Decimal) (venue.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	f.openSizes = append(f.openSizes, size)
	if f.openErr != nil {
		return venue.Position{}, f.openErr
	}
	return venue.Position{
		ID:         f.name + "-1",
		Instrument: instrument,
		FilledSize: size,
		FillPrice:  f.price,
		Filled:     f.filled,
	}, nil
}

func (f *fakeAdapter) Close(_ context.Context, _ string, size decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closeSizes = append(f.closeSizes, size)
	if f.closeErr != nil {
		return false, f.closeErr
	}
	return f.closeOK, nil
}

func (f *fakeAdapter) CurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}

func assetTarget(adapter venue.Adapter) Target {
	return Target{
		Adapter:      adapter,
		Instrument:   "ETHUSD",
		MinIncrement: decimal.RequireFromString("0.001"),
		MinOrderSize: decimal.RequireFromString("0.01"),
	}
}

func newTestOrchestrator(st store.Store, targets []Target) *Orchestrator {
	return New(Config{
		PopTimeout:   20 * time.Millisecond,
		ErrorBackoff: time.Millisecond,
	}, targets, st, nil, nil)
}

func testRequest() model.HedgeRequest {
	return model.HedgeRequest{
		DepositTxHash: "0xdeadbeef",
		Notional:      decimal.RequireFromString("1.5"),
		TokenAmount:   decimal.RequireFromString("3"),
		Depositor:     "0x2222222222222222222222222222222222222222",
	}
}

func TestExecutePartialFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	good1 := &fakeAdapter{name: "alpha", price: decimal.NewFromInt(2000), filled: true}
	good2 := &fakeAdapter{name: "beta", price: decimal.NewFromInt(2000), filled: false}
	bad1 := &fakeAdapter{name: "gamma", openErr: &venue.Error{Venue: "gamma", Reason: "insufficient margin"}}
	bad2 := &fakeAdapter{name: "delta", openErr: &venue.Error{Venue: "delta", Reason: "order rejected"}}

	o := newTestOrchestrator(st, []Target{
		assetTarget(good1), assetTarget(good2), assetTarget(bad1), assetTarget(bad2),
	})

	if err := o.Execute(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	positions, err := o.Positions(ctx, "0xdeadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 4 {
		t.Fatalf("expected 4 positions, got %d", len(positions))
	}

	counts := map[model.PositionState]int{}
	for _, position := range positions {
		counts[position.State]++
		if position.State == model.PositionFailed {
			if !position.FillPrice.IsZero() {
				t.Fatalf("failed position has fill price %s", position.FillPrice)
			}
			if position.Reason == "" {
				t.Fatalf("failed position missing reason")
			}
		}
	}
	if counts[model.PositionOpen] != 1 || counts[model.PositionPending] != 1 || counts[model.PositionFailed] != 2 {
		t.Fatalf("state counts mismatch: %+v", counts)
	}

	executionLog, ok, err := o.Execution(ctx, "0xdeadbeef")
	if err != nil || !ok {
		t.Fatalf("execution log missing: ok=%t err=%v", ok, err)
	}
	if executionLog.SuccessCount != 2 {
		t.Fatalf("success count mismatch: %d", executionLog.SuccessCount)
	}
	if executionLog.TotalVenues != 4 {
		t.Fatalf("total venues mismatch: %d", executionLog.TotalVenues)
	}
}

func TestExecuteAtMostOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	adapter := &fakeAdapter{name: "alpha", price: decimal.NewFromInt(2000), filled: true}
	o := newTestOrchestrator(st, []Target{assetTarget(adapter)})

	if err := o.Execute(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Execute(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if adapter.openCalls != 1 {
		t.Fatalf("expected 1 venue call, got %d", adapter.openCalls)
	}
	positions, err := o.Positions(ctx, "0xdeadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
}

func TestExecuteClaimBlocksConcurrentDuplicate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	adapter := &fakeAdapter{name: "alpha", price: decimal.NewFromInt(2000), filled: true}
	o := newTestOrchestrator(st, []Target{assetTarget(adapter)})

	// A second consumer that passed the existence check still loses the claim.
	if _, err := st.SetNX(ctx, store.ClaimKey("0xdeadbeef"), "1", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Execute(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.openCalls != 0 {
		t.Fatalf("claimed deposit must not execute, got %d calls", adapter.openCalls)
	}
}

func TestExecuteContractTranslation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	// 1.5 ETH notional at 2000 USD with 10 USD contracts: 300 contracts.
	adapter := &fakeAdapter{name: "fut", price: decimal.NewFromInt(2000), filled: true}
	o := newTestOrchestrator(st, []Target{{
		Adapter:      adapter,
		Instrument:   "PI_ETHUSD",
		ContractSize: decimal.NewFromInt(10),
		MinIncrement: decimal.NewFromInt(1),
		MinOrderSize: decimal.NewFromInt(1),
	}})

	if err := o.Execute(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(adapter.openSizes) != 1 {
		t.Fatalf("expected 1 venue call, got %d", len(adapter.openSizes))
	}
	if !adapter.openSizes[0].Equal(decimal.NewFromInt(300)) {
		t.Fatalf("contract count mismatch: %s", adapter.openSizes[0])
	}
}

func TestCloseOutPartialFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	good1 := &fakeAdapter{name: "alpha", price: decimal.NewFromInt(2000), filled: true, closeOK: true}
	good2 := &fakeAdapter{name: "beta", price: decimal.NewFromInt(2000), filled: true, closeOK: true}
	stuck := &fakeAdapter{name: "gamma", price: decimal.NewFromInt(2000), filled: true,
		closeErr: &venue.Error{Venue: "gamma", Reason: "close rejected"}}

	o := newTestOrchestrator(st, []Target{assetTarget(good1), assetTarget(good2), assetTarget(stuck)})

	if err := o.Execute(ctx, testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	success, err := o.CloseOut(ctx, "0xdeadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if success {
		t.Fatalf("expected close-out failure")
	}

	positions, err := o.Positions(ctx, "0xdeadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	states := map[string]model.PositionState{}
	for _, position := range positions {
		states[position.Venue] = position.State
	}
	if states["alpha"] != model.PositionClosed || states["beta"] != model.PositionClosed {
		t.Fatalf("closed states mismatch: %+v", states)
	}
	if states["gamma"] != model.PositionOpen {
		t.Fatalf("failed close must leave position unchanged: %+v", states)
	}

	// Retry closes only what is still open.
	stuck.closeErr = nil
	stuck.closeOK = true
	success, err = o.CloseOut(ctx, "0xdeadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !success {
		t.Fatalf("expected close-out success on retry")
	}
	if good1.closeCalls != 1 || good2.closeCalls != 1 || stuck.closeCalls != 2 {
		t.Fatalf("close call counts mismatch: %d %d %d",
			good1.closeCalls, good2.closeCalls, stuck.closeCalls)
	}
}

func TestCloseOutUnknownHash(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(store.NewMemory(), nil)

	if _, err := o.CloseOut(ctx, "0xmissing"); err != ErrNoPositions {
		t.Fatalf("expected ErrNoPositions, got %v", err)
	}
}

func TestRunDrainsQueueAndDropsMalformedPayloads(t *testing.T) {
	st := store.NewMemory()
	adapter := &fakeAdapter{name: "alpha", price: decimal.NewFromInt(2000), filled: true}
	o := newTestOrchestrator(st, []Target{assetTarget(adapter)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload, err := model.EncodeHedgeRequest(testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.Push(ctx, store.HedgeQueueKey, "{not json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.Push(ctx, store.HedgeQueueKey, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		positions, err := o.Positions(context.Background(), "0xdeadbeef")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(positions) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("hedge never executed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run loop did not stop")
	}
}
