package analyzer

import (
	"strings"
	"testing"

	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/models"
)

func allWindows(day, week, month, lifetime models.TimeframeStats) map[models.Timeframe]models.TimeframeStats {
	return map[models.Timeframe]models.TimeframeStats{
		models.TimeframeDay:      day,
		models.TimeframeWeek:     week,
		models.TimeframeMonth:    month,
		models.TimeframeLifetime: lifetime,
	}
}

func TestRecommendReasonsMatchInputs(t *testing.T) {
	r := NewRecommender(config.Default().Scoring)

	acct := models.Account{
		Address:      "0xabc",
		AccountValue: 200000,
		Stats: allWindows(
			models.TimeframeStats{PNL: 500},
			models.TimeframeStats{PNL: 4000, ROI: 0.08},
			models.TimeframeStats{PNL: 12000},
			models.TimeframeStats{PNL: 90000},
		),
	}

	recs := r.Recommend([]models.Account{acct}, 10)
	if len(recs) != 1 {
		t.Fatalf("recs len = %d, want 1", len(recs))
	}
	rec := recs[0]

	if rec.Score <= 0 {
		t.Fatalf("score = %v, want > 0 for a uniformly profitable account", rec.Score)
	}

	wantFragments := []string{
		"profitable in every window",
		"positive weekly pnl",
		"positive monthly pnl",
		"steady weekly roi",
	}
	for _, frag := range wantFragments {
		found := false
		for _, reason := range rec.Reasons {
			if strings.Contains(reason, frag) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing reason containing %q; got %v", frag, rec.Reasons)
		}
	}
}

func TestRecommendUnprofitableOmitted(t *testing.T) {
	r := NewRecommender(config.Default().Scoring)

	acct := models.Account{
		Address: "0xdead",
		Stats: allWindows(
			models.TimeframeStats{PNL: -100},
			models.TimeframeStats{PNL: -4000, ROI: -0.2},
			models.TimeframeStats{PNL: -12000},
			models.TimeframeStats{PNL: -90000},
		),
	}

	if recs := r.Recommend([]models.Account{acct}, 10); len(recs) != 0 {
		t.Errorf("recs = %v, want none for all-loss account", recs)
	}
}

func TestRecommendNegativeWeekNoROIReason(t *testing.T) {
	r := NewRecommender(config.Default().Scoring)

	acct := models.Account{
		Address: "0xmixed",
		Stats: allWindows(
			models.TimeframeStats{PNL: 50},
			models.TimeframeStats{PNL: -500, ROI: -0.05},
			models.TimeframeStats{PNL: 8000},
			models.TimeframeStats{PNL: 40000},
		),
	}

	recs := r.Recommend([]models.Account{acct}, 10)
	if len(recs) != 1 {
		t.Fatalf("recs len = %d, want 1", len(recs))
	}
	for _, reason := range recs[0].Reasons {
		if strings.Contains(reason, "weekly") {
			t.Errorf("reason %q contradicts negative weekly stats", reason)
		}
	}
}

func TestRecommendOrderingAndLimit(t *testing.T) {
	r := NewRecommender(config.Default().Scoring)

	strong := models.Account{
		Address:      "0xstrong",
		AccountValue: 100000,
		Stats: allWindows(
			models.TimeframeStats{PNL: 1000},
			models.TimeframeStats{PNL: 50000, ROI: 0.1},
			models.TimeframeStats{PNL: 90000},
			models.TimeframeStats{PNL: 200000},
		),
	}
	weak := models.Account{
		Address:      "0xweak",
		AccountValue: 100000,
		Stats: allWindows(
			models.TimeframeStats{PNL: -10},
			models.TimeframeStats{PNL: 200, ROI: 0.001},
			models.TimeframeStats{PNL: 300},
			models.TimeframeStats{PNL: 500},
		),
	}

	recs := r.Recommend([]models.Account{weak, strong}, 1)
	if len(recs) != 1 {
		t.Fatalf("recs len = %d, want 1 with limit=1", len(recs))
	}
	if recs[0].Address != "0xstrong" {
		t.Errorf("top rec = %s, want 0xstrong", recs[0].Address)
	}
}

func profitableStats(weekVolume float64) map[models.Timeframe]models.TimeframeStats {
	return allWindows(
		models.TimeframeStats{PNL: 200},
		models.TimeframeStats{PNL: 3000, ROI: 0.08, Volume: weekVolume},
		models.TimeframeStats{PNL: 9000},
		models.TimeframeStats{PNL: 50000},
	)
}

func TestRecommendCapitalTiers(t *testing.T) {
	r := NewRecommender(config.Default().Scoring)

	big := models.Account{Address: "0xbig", AccountValue: 150000, Stats: profitableStats(0)}
	mid := models.Account{Address: "0xmid", AccountValue: 60000, Stats: profitableStats(0)}
	small := models.Account{Address: "0xsmall", AccountValue: 2000, Stats: profitableStats(0)}

	recs := r.Recommend([]models.Account{small, big, mid}, 10)
	if len(recs) != 3 {
		t.Fatalf("recs len = %d, want 3", len(recs))
	}
	if recs[0].Address != "0xbig" || recs[1].Address != "0xmid" || recs[2].Address != "0xsmall" {
		t.Fatalf("order = %s, %s, %s; want big, mid, small", recs[0].Address, recs[1].Address, recs[2].Address)
	}

	foundCapital := false
	for _, reason := range recs[0].Reasons {
		if strings.Contains(reason, "substantial capital") {
			foundCapital = true
		}
	}
	if !foundCapital {
		t.Errorf("top-tier account missing capital reason; got %v", recs[0].Reasons)
	}
	for _, reason := range recs[2].Reasons {
		if strings.Contains(reason, "capital") {
			t.Errorf("small account carries capital reason %q", reason)
		}
	}
}

func TestRecommendVolumeTiers(t *testing.T) {
	r := NewRecommender(config.Default().Scoring)

	active := models.Account{Address: "0xactive", AccountValue: 50000, Stats: profitableStats(20_000_000)}
	quiet := models.Account{Address: "0xquiet", AccountValue: 50000, Stats: profitableStats(50_000)}

	recs := r.Recommend([]models.Account{quiet, active}, 10)
	if len(recs) != 2 {
		t.Fatalf("recs len = %d, want 2", len(recs))
	}
	if recs[0].Address != "0xactive" {
		t.Errorf("top rec = %s, want the high-volume account", recs[0].Address)
	}
	if recs[0].Score <= recs[1].Score {
		t.Errorf("scores %v <= %v, weekly volume must raise the score", recs[0].Score, recs[1].Score)
	}

	foundActivity := false
	for _, reason := range recs[0].Reasons {
		if strings.Contains(reason, "high trading activity") {
			foundActivity = true
		}
	}
	if !foundActivity {
		t.Errorf("high-volume account missing activity reason; got %v", recs[0].Reasons)
	}
}
