package analyzer

import (
	"errors"
	"testing"

	"github.com/odddkidout/hyperliquid-tracker/models"
)

func acctWith(addr string, value float64, tf models.Timeframe, stats models.TimeframeStats) models.Account {
	return models.Account{
		Address:      addr,
		AccountValue: value,
		Stats:        map[models.Timeframe]models.TimeframeStats{tf: stats},
	}
}

func TestRankWeekROILimit(t *testing.T) {
	accounts := []models.Account{
		acctWith("0xaaa", 10000, models.TimeframeWeek, models.TimeframeStats{ROI: 0.05}),
		acctWith("0xbbb", 20000, models.TimeframeWeek, models.TimeframeStats{ROI: 0.10}),
		acctWith("0xccc", 30000, models.TimeframeWeek, models.TimeframeStats{ROI: -0.02}),
	}

	entries, err := Rank(accounts, models.TimeframeWeek, models.MetricROI, 2)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Address != "0xbbb" || entries[1].Address != "0xaaa" {
		t.Errorf("order = [%s, %s], want [0xbbb, 0xaaa]", entries[0].Address, entries[1].Address)
	}
	if entries[0].Rank != 1 || entries[1].Rank != 2 {
		t.Errorf("ranks = [%d, %d], want [1, 2]", entries[0].Rank, entries[1].Rank)
	}
}

func TestRankDeterministicTieBreaks(t *testing.T) {
	// All three tie on pnl; the first two also tie on account value.
	accounts := []models.Account{
		acctWith("0xbbb", 5000, models.TimeframeDay, models.TimeframeStats{PNL: 100}),
		acctWith("0xaaa", 5000, models.TimeframeDay, models.TimeframeStats{PNL: 100}),
		acctWith("0xccc", 9000, models.TimeframeDay, models.TimeframeStats{PNL: 100}),
	}

	want := []string{"0xccc", "0xaaa", "0xbbb"}
	for i := 0; i < 5; i++ {
		entries, err := Rank(accounts, models.TimeframeDay, models.MetricPNL, 0)
		if err != nil {
			t.Fatalf("rank: %v", err)
		}
		for j, w := range want {
			if entries[j].Address != w {
				t.Fatalf("call %d: entries[%d] = %s, want %s", i, j, entries[j].Address, w)
			}
		}
	}
}

func TestRankLimitZeroReturnsAll(t *testing.T) {
	accounts := []models.Account{
		acctWith("0xaaa", 1, models.TimeframeDay, models.TimeframeStats{PNL: 1}),
		acctWith("0xbbb", 1, models.TimeframeDay, models.TimeframeStats{PNL: 2}),
	}
	entries, err := Rank(accounts, models.TimeframeDay, models.MetricPNL, 0)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len = %d, want all accounts", len(entries))
	}
}

func TestRankValidation(t *testing.T) {
	tests := []struct {
		name   string
		tf     models.Timeframe
		metric models.Metric
	}{
		{"bad timeframe", "fortnight", models.MetricPNL},
		{"bad metric", models.TimeframeDay, "sharpe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Rank(nil, tt.tf, tt.metric, 0)
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	accounts := []models.Account{
		acctWith("0xbbb", 1, models.TimeframeDay, models.TimeframeStats{PNL: 1}),
		acctWith("0xaaa", 1, models.TimeframeDay, models.TimeframeStats{PNL: 2}),
	}
	if _, err := Rank(accounts, models.TimeframeDay, models.MetricPNL, 0); err != nil {
		t.Fatalf("rank: %v", err)
	}
	if accounts[0].Address != "0xbbb" {
		t.Error("input slice was reordered")
	}
}

func TestGlobalStats(t *testing.T) {
	accounts := []models.Account{
		acctWith("0xaaa", 1, models.TimeframeDay, models.TimeframeStats{PNL: 100, ROI: 0.2, Volume: 1000}),
		acctWith("0xbbb", 1, models.TimeframeDay, models.TimeframeStats{PNL: -40, ROI: -0.1, Volume: 500}),
	}

	stats := GlobalStats(accounts)
	if stats.TotalAccounts != 2 {
		t.Errorf("total accounts = %d, want 2", stats.TotalAccounts)
	}
	day := stats.Timeframes[models.TimeframeDay]
	if day.TotalPNL != 60 || day.TotalVolume != 1500 {
		t.Errorf("day aggregate = pnl %v vol %v, want 60/1500", day.TotalPNL, day.TotalVolume)
	}
	if day.Profitable != 1 || day.Unprofitable != 1 {
		t.Errorf("profitable/unprofitable = %d/%d, want 1/1", day.Profitable, day.Unprofitable)
	}
	if !floatEquals(day.AvgROI, 0.05, 1e-9) {
		t.Errorf("avg roi = %v, want 0.05", day.AvgROI)
	}
}

func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
