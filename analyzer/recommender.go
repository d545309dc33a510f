package analyzer

import (
	"fmt"
	"sort"

	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/models"
)

// Recommender scores accounts as copy-trade candidates. Scoring and the
// accompanying reason list are derived from the same inputs so they can never
// disagree.
type Recommender struct {
	cfg config.ScoringConfig
}

// NewRecommender creates a recommender with the given weighting.
func NewRecommender(cfg config.ScoringConfig) *Recommender {
	return &Recommender{cfg: cfg}
}

// Recommend scores every account and returns the top candidates by score
// descending. Ties break like the leaderboard: account value descending, then
// address ascending. Accounts that score zero are omitted.
func (r *Recommender) Recommend(accounts []models.Account, limit int) []models.Recommendation {
	recs := make([]models.Recommendation, 0, len(accounts))
	for _, acct := range accounts {
		rec := r.score(acct)
		if rec.Score > 0 {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		if recs[i].AccountValue != recs[j].AccountValue {
			return recs[i].AccountValue > recs[j].AccountValue
		}
		return recs[i].Address < recs[j].Address
	})

	max := limit
	if max <= 0 || max > r.cfg.MaxResults {
		max = r.cfg.MaxResults
	}
	if max > 0 && max < len(recs) {
		recs = recs[:max]
	}
	return recs
}

func (r *Recommender) score(acct models.Account) models.Recommendation {
	day := acct.StatsFor(models.TimeframeDay)
	week := acct.StatsFor(models.TimeframeWeek)
	month := acct.StatsFor(models.TimeframeMonth)
	lifetime := acct.StatsFor(models.TimeframeLifetime)

	var reasons []string

	// Consistency: fraction of the four windows with positive pnl.
	profitable := 0
	for _, stats := range []models.TimeframeStats{day, week, month, lifetime} {
		if stats.PNL > 0 {
			profitable++
		}
	}
	consistency := float64(profitable) / 4
	switch profitable {
	case 4:
		reasons = append(reasons, "profitable in every window evaluated")
	case 3:
		reasons = append(reasons, "profitable in 3 of 4 windows")
	}

	weekPNLTerm := clamp01(week.PNL / r.cfg.PNLScale)
	if week.PNL > 0 {
		reasons = append(reasons, fmt.Sprintf("positive weekly pnl ($%.0f)", week.PNL))
	}

	monthPNLTerm := clamp01(month.PNL / r.cfg.PNLScale)
	if month.PNL > 0 {
		reasons = append(reasons, fmt.Sprintf("positive monthly pnl ($%.0f)", month.PNL))
	}

	// Weekly ROI sweet spot: high enough to be worth following, low enough to
	// not be a lottery ticket.
	var roiTerm float64
	switch {
	case week.ROI >= r.cfg.ROISweetSpotLow && week.ROI <= r.cfg.ROISweetSpotHigh:
		roiTerm = 1
		reasons = append(reasons, fmt.Sprintf("steady weekly roi (%.1f%%)", week.ROI*100))
	case week.ROI > 0:
		roiTerm = 0.5
	}

	// Capital tier: bigger accounts are harder to fake and easier to mirror
	// without moving the market.
	var capitalTerm float64
	switch {
	case acct.AccountValue >= 100_000:
		capitalTerm = 1
		reasons = append(reasons, fmt.Sprintf("substantial capital ($%.0f)", acct.AccountValue))
	case acct.AccountValue >= 50_000:
		capitalTerm = 0.75
	case acct.AccountValue >= 10_000:
		capitalTerm = 0.5
	default:
		capitalTerm = 0.25
	}

	// Activity tier from weekly volume: a follower needs fills to copy.
	var volumeTerm float64
	switch {
	case week.Volume >= 10_000_000:
		volumeTerm = 1
		reasons = append(reasons, "high trading activity")
	case week.Volume >= 1_000_000:
		volumeTerm = 0.67
	case week.Volume >= 100_000:
		volumeTerm = 0.33
	default:
		volumeTerm = 0.13
	}

	if lifetime.PNL > 0 && profitable >= 2 {
		reasons = append(reasons, "profitable over account lifetime")
	}

	score := 100 * (r.cfg.WeeklyPNLWeight*weekPNLTerm +
		r.cfg.WeeklyROIWeight*roiTerm +
		r.cfg.MonthlyPNLWeight*monthPNLTerm +
		r.cfg.ConsistencyWeight*consistency +
		r.cfg.CapitalWeight*capitalTerm +
		r.cfg.VolumeWeight*volumeTerm)

	// Recent bleeding discounts the score even when longer windows look good.
	if day.PNL < 0 {
		score -= 5
	}
	if week.PNL < 0 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}

	return models.Recommendation{
		Address:      acct.Address,
		DisplayName:  acct.DisplayName,
		AccountValue: acct.AccountValue,
		Score:        score,
		Reasons:      reasons,
		WeekPNL:      week.PNL,
		WeekROI:      week.ROI,
		MonthPNL:     month.PNL,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
