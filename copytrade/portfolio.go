package copytrade

import (
	"context"
	"fmt"
	"math"

	"github.com/odddkidout/hyperliquid-tracker/models"
	"github.com/odddkidout/hyperliquid-tracker/storage"
)

// Portfolio computes realized copy-trading performance from the recorded
// trade history.
type Portfolio struct {
	store storage.DataStore
}

func NewPortfolio(store storage.DataStore) *Portfolio {
	return &Portfolio{store: store}
}

// Performance aggregates every config the follower has ever had, stopped ones
// included, into per-relationship and portfolio-wide totals. Win rate counts
// only executed trades with non-zero realized pnl.
func (p *Portfolio) Performance(ctx context.Context, followerID string) (models.PortfolioPerformance, error) {
	configs, err := p.store.ListConfigs(ctx, followerID, false)
	if err != nil {
		return models.PortfolioPerformance{}, fmt.Errorf("failed to list configs: %w", err)
	}

	perf := models.PortfolioPerformance{
		FollowerID:    followerID,
		Relationships: make([]models.RelationshipPerformance, 0, len(configs)),
	}
	var wins, decided int

	for _, cfg := range configs {
		rp, w, d, err := p.relationshipPerformance(ctx, cfg)
		if err != nil {
			return models.PortfolioPerformance{}, err
		}
		perf.Relationships = append(perf.Relationships, rp)

		perf.TotalPNL += rp.TotalPNL
		perf.TotalVolume += rp.Volume
		perf.TotalTrades += rp.TradeCount
		if cfg.State != models.CopyStateStopped {
			perf.ActiveRelationships++
		}
		if cfg.AllocationType == models.AllocationFixed {
			perf.TotalAllocated += cfg.Allocation
		}
		wins += w
		decided += d
	}

	if decided > 0 {
		perf.WinRate = float64(wins) / float64(decided)
	}
	if perf.TotalAllocated > 0 {
		perf.ROI = perf.TotalPNL / perf.TotalAllocated
	}
	return perf, nil
}

// History returns the follower's replication records across all configs,
// newest first.
func (p *Portfolio) History(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error) {
	trades, err := p.store.ListFollowerTrades(ctx, followerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list follower trades: %w", err)
	}
	return trades, nil
}

func (p *Portfolio) relationshipPerformance(ctx context.Context, cfg models.CopyTradeConfig) (models.RelationshipPerformance, int, int, error) {
	trades, err := p.store.ListCopiedTrades(ctx, cfg.ID, 0)
	if err != nil {
		return models.RelationshipPerformance{}, 0, 0, fmt.Errorf("failed to list trades for %s: %w", cfg.ID, err)
	}

	rp := models.RelationshipPerformance{
		ConfigID:      cfg.ID,
		TraderAddress: cfg.TraderAddress,
		TraderName:    cfg.TraderName,
		State:         cfg.State,
		StartedAt:     cfg.StartedAt,
		StoppedAt:     cfg.StoppedAt,
	}

	var wins, decided int
	for _, t := range trades {
		switch t.Status {
		case models.TradeStatusFailed:
			rp.FailedCount++
			continue
		case models.TradeStatusSuppressed:
			rp.SuppressedCount++
			continue
		}

		rp.TradeCount++
		rp.TotalPNL += t.ClosedPNL
		rp.Volume += math.Abs(t.ActualSize) * t.Price

		if t.ClosedPNL != 0 {
			decided++
			if t.ClosedPNL > 0 {
				wins++
			}
			if rp.BestTradePNL == 0 || t.ClosedPNL > rp.BestTradePNL {
				rp.BestTradePNL = t.ClosedPNL
			}
			if rp.WorstTradePNL == 0 || t.ClosedPNL < rp.WorstTradePNL {
				rp.WorstTradePNL = t.ClosedPNL
			}
		}
	}

	if decided > 0 {
		rp.WinRate = float64(wins) / float64(decided)
	}
	return rp, wins, decided, nil
}
