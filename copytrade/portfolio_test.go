package copytrade

import (
	"context"
	"testing"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"
	"github.com/odddkidout/hyperliquid-tracker/storage"
)

func TestPortfolioPerformance(t *testing.T) {
	store := storage.NewMock()
	ctx := context.Background()
	started := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	configs := []models.CopyTradeConfig{
		{ID: "c1", FollowerID: "alice", TraderAddress: "0xaaa", AllocationType: models.AllocationFixed, Allocation: 1000, State: models.CopyStateActive, StartedAt: started},
		{ID: "c2", FollowerID: "alice", TraderAddress: "0xbbb", AllocationType: models.AllocationPercentage, Percentage: 10, State: models.CopyStateStopped, StartedAt: started.Add(time.Hour)},
		{ID: "c3", FollowerID: "bob", TraderAddress: "0xaaa", AllocationType: models.AllocationFixed, Allocation: 500, State: models.CopyStateActive, StartedAt: started},
	}
	for _, cfg := range configs {
		if err := store.SaveConfig(ctx, cfg); err != nil {
			t.Fatalf("seed config failed: %v", err)
		}
	}

	trades := []models.CopiedTrade{
		// c1: one win, one loss, one breakeven entry, one failure
		{ConfigID: "c1", Coin: "BTC", Status: models.TradeStatusExecuted, ActualSize: 0.02, Price: 50000, ClosedPNL: 0},
		{ConfigID: "c1", Coin: "BTC", Status: models.TradeStatusExecuted, ActualSize: -0.02, Price: 55000, ClosedPNL: 100},
		{ConfigID: "c1", Coin: "ETH", Status: models.TradeStatusExecuted, ActualSize: -1, Price: 3000, ClosedPNL: -40},
		{ConfigID: "c1", Coin: "ETH", Status: models.TradeStatusFailed, ErrorReason: "rejected"},
		// c2: one win, one suppressed
		{ConfigID: "c2", Coin: "SOL", Status: models.TradeStatusExecuted, ActualSize: 2, Price: 150, ClosedPNL: 30},
		{ConfigID: "c2", Coin: "SOL", Status: models.TradeStatusSuppressed, ErrorReason: "position cap reached"},
		// c3 belongs to another follower and must not leak in
		{ConfigID: "c3", Coin: "BTC", Status: models.TradeStatusExecuted, ActualSize: 1, Price: 50000, ClosedPNL: 999},
	}
	for _, tr := range trades {
		if err := store.SaveCopiedTrade(ctx, tr); err != nil {
			t.Fatalf("seed trade failed: %v", err)
		}
	}

	perf, err := NewPortfolio(store).Performance(ctx, "alice")
	if err != nil {
		t.Fatalf("performance failed: %v", err)
	}

	if len(perf.Relationships) != 2 {
		t.Fatalf("relationships = %d, want 2", len(perf.Relationships))
	}
	if perf.ActiveRelationships != 1 {
		t.Errorf("active relationships = %d, want 1", perf.ActiveRelationships)
	}
	if !floatEquals(perf.TotalPNL, 90) { // 100 - 40 + 30
		t.Errorf("total pnl = %v, want 90", perf.TotalPNL)
	}
	if !floatEquals(perf.TotalAllocated, 1000) { // percentage configs carry no allocation
		t.Errorf("total allocated = %v, want 1000", perf.TotalAllocated)
	}
	if !floatEquals(perf.ROI, 0.09) {
		t.Errorf("roi = %v, want 0.09", perf.ROI)
	}
	// Breakeven trades do not count toward the win rate: 2 wins of 3 decided.
	if !floatEquals(perf.WinRate, 2.0/3.0) {
		t.Errorf("win rate = %v, want 2/3", perf.WinRate)
	}
	if perf.TotalTrades != 4 {
		t.Errorf("total trades = %d, want 4 executed", perf.TotalTrades)
	}

	var c1 models.RelationshipPerformance
	for _, rp := range perf.Relationships {
		if rp.ConfigID == "c1" {
			c1 = rp
		}
	}
	if c1.FailedCount != 1 {
		t.Errorf("c1 failed count = %d, want 1", c1.FailedCount)
	}
	if !floatEquals(c1.WinRate, 0.5) {
		t.Errorf("c1 win rate = %v, want 0.5", c1.WinRate)
	}
	if !floatEquals(c1.BestTradePNL, 100) || !floatEquals(c1.WorstTradePNL, -40) {
		t.Errorf("c1 best/worst = %v/%v, want 100/-40", c1.BestTradePNL, c1.WorstTradePNL)
	}
}

func TestPortfolioEmptyFollower(t *testing.T) {
	store := storage.NewMock()
	perf, err := NewPortfolio(store).Performance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("performance failed: %v", err)
	}
	if perf.TotalTrades != 0 || perf.WinRate != 0 || len(perf.Relationships) != 0 {
		t.Errorf("expected zero-valued portfolio, got %+v", perf)
	}
}
