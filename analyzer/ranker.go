package analyzer

import (
	"sort"

	"github.com/odddkidout/hyperliquid-tracker/models"
)

// Rank orders accounts by the chosen metric over the chosen timeframe,
// descending. Ties break by account value descending, then address ascending,
// so repeated calls over the same snapshot always return the identical order.
// limit <= 0 returns all accounts.
func Rank(accounts []models.Account, tf models.Timeframe, metric models.Metric, limit int) ([]models.LeaderboardEntry, error) {
	if !tf.Valid() {
		return nil, &models.ValidationError{Field: "timeframe", Reason: "must be one of day, week, month, lifetime"}
	}
	if !metric.Valid() {
		return nil, &models.ValidationError{Field: "metric", Reason: "must be one of pnl, roi, volume"}
	}

	ranked := append([]models.Account(nil), accounts...)
	sort.Slice(ranked, func(i, j int) bool {
		vi := metricValue(ranked[i], tf, metric)
		vj := metricValue(ranked[j], tf, metric)
		if vi != vj {
			return vi > vj
		}
		if ranked[i].AccountValue != ranked[j].AccountValue {
			return ranked[i].AccountValue > ranked[j].AccountValue
		}
		return ranked[i].Address < ranked[j].Address
	})

	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}

	entries := make([]models.LeaderboardEntry, len(ranked))
	for i, acct := range ranked {
		stats := acct.StatsFor(tf)
		entries[i] = models.LeaderboardEntry{
			Rank:         i + 1,
			Address:      acct.Address,
			DisplayName:  acct.DisplayName,
			AccountValue: acct.AccountValue,
			PNL:          stats.PNL,
			ROI:          stats.ROI,
			Volume:       stats.Volume,
		}
	}
	return entries, nil
}

func metricValue(acct models.Account, tf models.Timeframe, metric models.Metric) float64 {
	stats := acct.StatsFor(tf)
	switch metric {
	case models.MetricROI:
		return stats.ROI
	case models.MetricVolume:
		return stats.Volume
	default:
		return stats.PNL
	}
}

// GlobalStats rolls the whole snapshot up per timeframe.
func GlobalStats(accounts []models.Account) models.GlobalStats {
	out := models.GlobalStats{
		TotalAccounts: len(accounts),
		Timeframes:    make(map[models.Timeframe]models.TimeframeAggregate, len(models.Timeframes)),
	}
	for _, tf := range models.Timeframes {
		var agg models.TimeframeAggregate
		var roiSum float64
		for _, acct := range accounts {
			stats := acct.StatsFor(tf)
			agg.TotalPNL += stats.PNL
			agg.TotalVolume += stats.Volume
			roiSum += stats.ROI
			if stats.PNL > 0 {
				agg.Profitable++
			} else if stats.PNL < 0 {
				agg.Unprofitable++
			}
		}
		if len(accounts) > 0 {
			agg.AvgROI = roiSum / float64(len(accounts))
		}
		out.Timeframes[tf] = agg
	}
	return out
}
