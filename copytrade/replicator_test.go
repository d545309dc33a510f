package copytrade

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/api"
	"github.com/odddkidout/hyperliquid-tracker/models"
	"github.com/odddkidout/hyperliquid-tracker/storage"
)

type fakeExchange struct {
	mu     sync.Mutex
	orders []api.OrderRequest

	err     error
	release chan struct{} // when set, PlaceOrder blocks on it or ctx
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req api.OrderRequest) (*api.OrderResult, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &models.UpstreamError{Op: "place order", Err: ctx.Err()}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.orders = append(f.orders, req)
	f.mu.Unlock()
	return &api.OrderResult{Success: true, OrderID: "oid-1", FilledSize: req.Size}, nil
}

func (f *fakeExchange) placed() []api.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.OrderRequest(nil), f.orders...)
}

type fakeAccounts map[string]models.Account

func (f fakeAccounts) Account(addr string) (models.Account, bool) {
	a, ok := f[addr]
	return a, ok
}

func newTestReplicator(t *testing.T, accounts fakeAccounts, ex *fakeExchange) (*Manager, *Replicator, *storage.MockStore) {
	t.Helper()
	m, store := newTestManager(t)
	r := NewReplicator(m, store, ex, accounts, 4, 3, time.Second)
	return m, r, store
}

func mkTraderFill(id, coin, side string, size, price, pnl float64) models.Fill {
	return models.Fill{
		TradeID:   id,
		Coin:      coin,
		Side:      side,
		Size:      size,
		Price:     price,
		ClosedPNL: pnl,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFixedAllocationScaling(t *testing.T) {
	ex := &fakeExchange{}
	accounts := fakeAccounts{"0xaaa": {Address: "0xaaa", AccountValue: 100000}}
	m, r, store := newTestReplicator(t, accounts, ex)

	_, err := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xaaa",
		AllocationType: models.AllocationFixed,
		Allocation:     1000,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// 1000 / 100000 account value scales a 2 BTC buy to 0.02.
	r.HandleFill("0xaaa", mkTraderFill("t1", "BTC", "B", 2, 50000, 0))

	orders := ex.placed()
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if !floatEquals(orders[0].Size, 0.02) {
		t.Errorf("order size = %v, want 0.02", orders[0].Size)
	}
	if !orders[0].IsBuy {
		t.Error("expected a buy")
	}

	trades, _ := store.ListCopiedTrades(context.Background(), "cfg-1", 0)
	if len(trades) != 1 || trades[0].Status != models.TradeStatusExecuted {
		t.Fatalf("trade history = %+v, want one executed record", trades)
	}
	if trades[0].Action != "entry" {
		t.Errorf("action = %s, want entry", trades[0].Action)
	}
}

func TestPercentageScaling(t *testing.T) {
	ex := &fakeExchange{}
	m, r, _ := newTestReplicator(t, fakeAccounts{}, ex)

	_, err := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xbbb",
		AllocationType: models.AllocationPercentage,
		Percentage:     10,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// 10% of a 4 ETH sell copies 0.4 short.
	r.HandleFill("0xbbb", mkTraderFill("t1", "ETH", "A", -4, 3000, 0))

	orders := ex.placed()
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if !floatEquals(orders[0].Size, 0.4) {
		t.Errorf("order size = %v, want 0.4", orders[0].Size)
	}
	if orders[0].IsBuy {
		t.Error("expected a sell")
	}
}

func TestFixedAllocationNeedsAccountValue(t *testing.T) {
	ex := &fakeExchange{}
	m, r, store := newTestReplicator(t, fakeAccounts{}, ex)

	m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xaaa",
		AllocationType: models.AllocationFixed,
		Allocation:     1000,
	})
	r.HandleFill("0xaaa", mkTraderFill("t1", "BTC", "B", 1, 50000, 0))

	if len(ex.placed()) != 0 {
		t.Fatal("no order should be placed without an account value")
	}
	trades, _ := store.ListCopiedTrades(context.Background(), "cfg-1", 0)
	if len(trades) != 1 || trades[0].Status != models.TradeStatusSuppressed {
		t.Fatalf("trade history = %+v, want one suppressed record", trades)
	}
}

func TestPausedConfigSkipped(t *testing.T) {
	ex := &fakeExchange{}
	m, r, store := newTestReplicator(t, fakeAccounts{}, ex)

	cfg, _ := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xbbb",
		AllocationType: models.AllocationPercentage,
		Percentage:     50,
	})
	if err := m.Pause(context.Background(), cfg.ID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	r.HandleFill("0xbbb", mkTraderFill("t1", "ETH", "B", 2, 3000, 0))

	if len(ex.placed()) != 0 {
		t.Fatal("paused config must not trade")
	}
	trades, _ := store.ListCopiedTrades(context.Background(), cfg.ID, 0)
	if len(trades) != 0 {
		t.Fatalf("paused config recorded %d trades", len(trades))
	}
}

func TestMaxPositionClamp(t *testing.T) {
	ex := &fakeExchange{}
	m, r, store := newTestReplicator(t, fakeAccounts{}, ex)

	cfg, _ := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xbbb",
		AllocationType: models.AllocationPercentage,
		Percentage:     100,
		MaxPosition:    30000, // 0.6 BTC at 50000
	})

	r.HandleFill("0xbbb", mkTraderFill("t1", "BTC", "B", 1, 50000, 0))
	orders := ex.placed()
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if !floatEquals(orders[0].Size, 0.6) {
		t.Errorf("clamped size = %v, want 0.6", orders[0].Size)
	}

	// A further buy at the cap is suppressed outright.
	r.HandleFill("0xbbb", mkTraderFill("t2", "BTC", "B", 0.5, 50000, 0))
	if len(ex.placed()) != 1 {
		t.Fatal("order placed past the position cap")
	}
	trades, _ := store.ListCopiedTrades(context.Background(), cfg.ID, 0)
	var suppressed int
	for _, tr := range trades {
		if tr.Status == models.TradeStatusSuppressed {
			suppressed++
		}
	}
	if suppressed != 1 {
		t.Fatalf("suppressed records = %d, want 1", suppressed)
	}

	// Selling back down is always allowed.
	r.HandleFill("0xbbb", mkTraderFill("t3", "BTC", "A", -0.6, 50000, 0))
	orders = ex.placed()
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}
	if orders[1].IsBuy || !orders[1].ReduceOnly {
		t.Errorf("closing order = %+v, want reduce-only sell", orders[1])
	}
}

func TestStopLossAutoPause(t *testing.T) {
	ex := &fakeExchange{}
	m, r, store := newTestReplicator(t, fakeAccounts{}, ex)

	cfg, _ := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xbbb",
		AllocationType: models.AllocationPercentage,
		Percentage:     100,
		StopLoss:       50,
	})

	// Entry: long 10 ETH at 100.
	r.HandleFill("0xbbb", mkTraderFill("t1", "ETH", "B", 10, 100, 0))
	if len(ex.placed()) != 1 {
		t.Fatalf("entry not executed")
	}

	// Adding at 90 would put the position ~$110 underwater, past the $50 stop.
	r.HandleFill("0xbbb", mkTraderFill("t2", "ETH", "B", 1, 90, 0))
	if len(ex.placed()) != 1 {
		t.Fatal("order submitted past the stop-loss")
	}

	got, _ := m.Config(cfg.ID)
	if got.State != models.CopyStatePaused {
		t.Fatalf("state = %s, want paused", got.State)
	}
	if got.PauseReason != "stop-loss triggered" {
		t.Errorf("pause reason = %q", got.PauseReason)
	}

	trades, _ := store.ListCopiedTrades(context.Background(), cfg.ID, 0)
	if trades[0].Status != models.TradeStatusSuppressed {
		t.Errorf("latest trade status = %s, want suppressed", trades[0].Status)
	}
}

func TestConsecutiveFailuresAutoPause(t *testing.T) {
	ex := &fakeExchange{err: &models.UpstreamError{Op: "place order", Err: context.DeadlineExceeded}}
	m, r, store := newTestReplicator(t, fakeAccounts{}, ex)

	cfg, _ := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xbbb",
		AllocationType: models.AllocationPercentage,
		Percentage:     10,
	})

	for i := 0; i < 3; i++ {
		r.HandleFill("0xbbb", mkTraderFill("t"+string(rune('1'+i)), "ETH", "B", 1, 3000, 0))
	}

	got, _ := m.Config(cfg.ID)
	if got.State != models.CopyStatePaused {
		t.Fatalf("state after 3 failures = %s, want paused", got.State)
	}
	if got.PauseReason != "recurring upstream failures" {
		t.Errorf("pause reason = %q", got.PauseReason)
	}

	trades, _ := store.ListCopiedTrades(context.Background(), cfg.ID, 0)
	if len(trades) != 3 {
		t.Fatalf("recorded trades = %d, want 3", len(trades))
	}
	for _, tr := range trades {
		if tr.Status != models.TradeStatusFailed {
			t.Errorf("trade status = %s, want failed", tr.Status)
		}
	}
}

func TestFailureCountResetsOnSuccess(t *testing.T) {
	ex := &fakeExchange{err: &models.UpstreamError{Op: "place order", Err: context.DeadlineExceeded}}
	m, r, _ := newTestReplicator(t, fakeAccounts{}, ex)

	cfg, _ := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xbbb",
		AllocationType: models.AllocationPercentage,
		Percentage:     10,
	})

	r.HandleFill("0xbbb", mkTraderFill("t1", "ETH", "B", 1, 3000, 0))
	r.HandleFill("0xbbb", mkTraderFill("t2", "ETH", "B", 1, 3000, 0))

	ex.err = nil
	r.HandleFill("0xbbb", mkTraderFill("t3", "ETH", "B", 1, 3000, 0))

	ex.err = &models.UpstreamError{Op: "place order", Err: context.DeadlineExceeded}
	r.HandleFill("0xbbb", mkTraderFill("t4", "ETH", "B", 1, 3000, 0))

	got, _ := m.Config(cfg.ID)
	if got.State != models.CopyStateActive {
		t.Fatalf("state = %s, want active (count reset by success)", got.State)
	}
}

func TestNoOrderAfterStop(t *testing.T) {
	ex := &fakeExchange{release: make(chan struct{})}
	m, r, store := newTestReplicator(t, fakeAccounts{}, ex)

	cfg, _ := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xbbb",
		AllocationType: models.AllocationPercentage,
		Percentage:     10,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.HandleFill("0xbbb", mkTraderFill("t1", "ETH", "B", 1, 3000, 0))
	}()

	// Let the replication reach the blocked submission, then stop. Stop
	// cancels the in-flight order and waits for the worker to settle.
	time.Sleep(50 * time.Millisecond)
	if err := m.Stop(context.Background(), cfg.ID); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if len(ex.placed()) != 0 {
		t.Fatal("order completed after stop returned")
	}

	<-done
	close(ex.release)

	// Later fills for the stopped config do nothing.
	r.HandleFill("0xbbb", mkTraderFill("t2", "ETH", "B", 1, 3000, 0))
	if len(ex.placed()) != 0 {
		t.Fatal("stopped config traded")
	}

	trades, _ := store.ListCopiedTrades(context.Background(), cfg.ID, 0)
	for _, tr := range trades {
		if tr.Status == models.TradeStatusExecuted {
			t.Fatalf("executed trade recorded after stop: %+v", tr)
		}
	}
}

func TestFanOutToAllFollowers(t *testing.T) {
	ex := &fakeExchange{}
	m, r, _ := newTestReplicator(t, fakeAccounts{}, ex)

	for _, follower := range []string{"alice", "bob", "carol"} {
		if _, err := m.Start(context.Background(), follower, StartRequest{
			TraderAddress:  "0xbbb",
			AllocationType: models.AllocationPercentage,
			Percentage:     10,
		}); err != nil {
			t.Fatalf("start for %s failed: %v", follower, err)
		}
	}

	r.HandleFill("0xbbb", mkTraderFill("t1", "ETH", "B", 5, 3000, 0))

	orders := ex.placed()
	if len(orders) != 3 {
		t.Fatalf("orders = %d, want one per follower", len(orders))
	}
	for _, o := range orders {
		if !floatEquals(o.Size, 0.5) {
			t.Errorf("order size = %v, want 0.5", o.Size)
		}
	}
}

func TestScaledClosedPNL(t *testing.T) {
	ex := &fakeExchange{}
	m, r, store := newTestReplicator(t, fakeAccounts{}, ex)

	cfg, _ := m.Start(context.Background(), "alice", StartRequest{
		TraderAddress:  "0xbbb",
		AllocationType: models.AllocationPercentage,
		Percentage:     10,
	})

	r.HandleFill("0xbbb", mkTraderFill("t1", "ETH", "B", 2, 3000, 0))
	r.HandleFill("0xbbb", mkTraderFill("t2", "ETH", "A", -2, 3100, 200))

	trades, _ := store.ListCopiedTrades(context.Background(), cfg.ID, 0)
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	// Newest first: the exit carries 10% of the trader's $200 realized pnl.
	if !floatEquals(trades[0].ClosedPNL, 20) {
		t.Errorf("copied pnl = %v, want 20", trades[0].ClosedPNL)
	}
	if trades[0].Action != "exit" {
		t.Errorf("action = %s, want exit", trades[0].Action)
	}
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
