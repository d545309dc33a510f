package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testConfig(id, follower, trader string) models.CopyTradeConfig {
	return models.CopyTradeConfig{
		ID:             id,
		FollowerID:     follower,
		TraderAddress:  trader,
		TraderName:     "tester",
		AllocationType: models.AllocationFixed,
		Allocation:     1000,
		MaxPosition:    5,
		StopLoss:       200,
		State:          models.CopyStateActive,
		StartedAt:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := testConfig("cfg-1", "follower-1", "0xabc")
	if err := store.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetConfig(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FollowerID != cfg.FollowerID || got.TraderAddress != cfg.TraderAddress {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.AllocationType != models.AllocationFixed || got.Allocation != 1000 {
		t.Errorf("allocation mismatch: got %v/%v", got.AllocationType, got.Allocation)
	}
	if !got.StartedAt.Equal(cfg.StartedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, cfg.StartedAt)
	}
	if got.StoppedAt != nil {
		t.Errorf("stopped_at = %v, want nil", got.StoppedAt)
	}
}

func TestGetConfigNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetConfig(context.Background(), "missing")
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestOpenConfigByPair(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := testConfig("cfg-1", "follower-1", "0xabc")
	if err := store.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	open, err := store.GetOpenConfigByPair(ctx, "follower-1", "0xabc")
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if open == nil || open.ID != "cfg-1" {
		t.Fatalf("open = %+v, want cfg-1", open)
	}

	// Stopping the config removes it from the open lookup.
	stopped := time.Now()
	cfg.State = models.CopyStateStopped
	cfg.StoppedAt = &stopped
	if err := store.UpdateConfig(ctx, cfg); err != nil {
		t.Fatalf("update: %v", err)
	}

	open, err = store.GetOpenConfigByPair(ctx, "follower-1", "0xabc")
	if err != nil {
		t.Fatalf("get open after stop: %v", err)
	}
	if open != nil {
		t.Errorf("open = %+v, want nil after stop", open)
	}
}

func TestListConfigsActiveOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := testConfig("cfg-a", "follower-1", "0xaaa")
	paused := testConfig("cfg-p", "follower-1", "0xbbb")
	paused.State = models.CopyStatePaused
	for _, cfg := range []models.CopyTradeConfig{active, paused} {
		if err := store.SaveConfig(ctx, cfg); err != nil {
			t.Fatalf("save %s: %v", cfg.ID, err)
		}
	}

	all, err := store.ListConfigs(ctx, "follower-1", false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d configs, want 2", len(all))
	}

	activeOnly, err := store.ListConfigs(ctx, "follower-1", true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(activeOnly) != 1 || activeOnly[0].ID != "cfg-a" {
		t.Errorf("activeOnly = %+v, want only cfg-a", activeOnly)
	}
}

func TestCopiedTradeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveConfig(ctx, testConfig("cfg-1", "follower-1", "0xabc")); err != nil {
		t.Fatalf("save config: %v", err)
	}

	trades := []models.CopiedTrade{
		{ConfigID: "cfg-1", OriginalTradeID: "t1", TraderAddress: "0xabc", Coin: "ETH", Side: "B", Action: "entry", IntendedSize: 0.02, ActualSize: 0.02, Price: 3000, Status: "executed", OrderID: "o1"},
		{ConfigID: "cfg-1", OriginalTradeID: "t2", TraderAddress: "0xabc", Coin: "ETH", Side: "A", Action: "exit", IntendedSize: 0.02, ActualSize: 0.02, Price: 3100, ClosedPNL: 2, Status: "executed", OrderID: "o2"},
	}
	for _, tr := range trades {
		if err := store.SaveCopiedTrade(ctx, tr); err != nil {
			t.Fatalf("save trade %s: %v", tr.OriginalTradeID, err)
		}
	}

	got, err := store.ListCopiedTrades(ctx, "cfg-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first
	if got[0].OriginalTradeID != "t2" || got[1].OriginalTradeID != "t1" {
		t.Errorf("order = [%s, %s], want [t2, t1]", got[0].OriginalTradeID, got[1].OriginalTradeID)
	}
	if got[0].ClosedPNL != 2 {
		t.Errorf("closed pnl = %v, want 2", got[0].ClosedPNL)
	}

	byFollower, err := store.ListFollowerTrades(ctx, "follower-1", 0)
	if err != nil {
		t.Fatalf("list by follower: %v", err)
	}
	if len(byFollower) != 2 {
		t.Errorf("follower trades = %d, want 2", len(byFollower))
	}
}

func TestAccountSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	accounts := []models.Account{
		{
			Address:       "0x111",
			DisplayName:   "whale",
			AccountValue:  250000,
			MarginUsed:    10000,
			PositionCount: 3,
			UpdatedAt:     time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
			Stats: map[models.Timeframe]models.TimeframeStats{
				models.TimeframeDay:  {PNL: 100, ROI: 0.01, Volume: 5000},
				models.TimeframeWeek: {PNL: 700, ROI: 0.03, Volume: 40000},
			},
		},
	}
	if err := store.SaveAccounts(ctx, accounts); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].DisplayName != "whale" || got[0].AccountValue != 250000 {
		t.Errorf("account = %+v", got[0])
	}
	week := got[0].Stats[models.TimeframeWeek]
	if week.PNL != 700 || week.Volume != 40000 {
		t.Errorf("week stats = %+v, want pnl 700 vol 40000", week)
	}

	// Save again replaces, never appends.
	if err := store.SaveAccounts(ctx, accounts); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err = store.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len after resave = %d, want 1", len(got))
	}
}
