package syncer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/aggregator"
	"github.com/odddkidout/hyperliquid-tracker/api"
	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/models"
)

// infoStub serves the exchange info endpoint shape: every query is a POST
// whose body carries a "type" discriminator.
type infoStub struct {
	mu     sync.Mutex
	fills  []map[string]any
	ledger []map[string]any
	state  map[string]any
}

func (s *infoStub) setFills(fills []map[string]any) {
	s.mu.Lock()
	s.fills = fills
	s.mu.Unlock()
}

func (s *infoStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string `json:"type"`
			User string `json:"user"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch req.Type {
		case "userFills":
			json.NewEncoder(w).Encode(s.fills)
		case "userNonFundingLedgerUpdates":
			json.NewEncoder(w).Encode(s.ledger)
		case "clearinghouseState":
			json.NewEncoder(w).Encode(s.state)
		default:
			http.Error(w, "unknown type", http.StatusBadRequest)
		}
	}
}

func wireFillRow(tid int64, ms int64, px, sz string) map[string]any {
	return map[string]any{
		"coin":      "ETH",
		"px":        px,
		"sz":        sz,
		"side":      "B",
		"time":      ms,
		"dir":       "Open Long",
		"closedPnl": "0.0",
		"tid":       tid,
	}
}

// recordingSink captures every fill forwarded for replication.
type recordingSink struct {
	mu    sync.Mutex
	fills []models.Fill
}

func (s *recordingSink) HandleFill(trader string, fill models.Fill) {
	s.mu.Lock()
	s.fills = append(s.fills, fill)
	s.mu.Unlock()
}

func (s *recordingSink) received() []models.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Fill(nil), s.fills...)
}

func newTestFeed(t *testing.T, stub *infoStub, sink FillSink) (*Feed, *aggregator.Aggregator) {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	info := api.NewInfoClient(srv.URL, srv.URL, 2*time.Second, 100)
	agg := aggregator.New(4)
	cfg := config.Default().Feed
	feed := NewFeed(info, agg, sink, cfg)
	return feed, agg
}

func TestFirstPollBackfillsWithoutReplicating(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	stub := &infoStub{fills: []map[string]any{
		wireFillRow(101, base-60_000, "3000.0", "1.0"),
		wireFillRow(102, base-30_000, "3010.0", "0.5"),
	}}
	sink := &recordingSink{}
	feed, agg := newTestFeed(t, stub, sink)

	trader := "0x1111111111111111111111111111111111111111"
	feed.Follow(trader)

	// The first poll seeds history; none of it may reach the sink.
	feed.pollTraderFills(trader)
	if got := sink.received(); len(got) != 0 {
		t.Fatalf("sink received %d fills on first poll, want 0", len(got))
	}
	if fills := agg.Fills(trader, time.UnixMilli(base).Add(-time.Hour)); len(fills) != 2 {
		t.Fatalf("aggregator holds %d fills after backfill, want 2", len(fills))
	}

	// A later poll returns the same history plus one new fill; only the new
	// one is replicated.
	stub.setFills([]map[string]any{
		wireFillRow(101, base-60_000, "3000.0", "1.0"),
		wireFillRow(102, base-30_000, "3010.0", "0.5"),
		wireFillRow(103, base, "3020.0", "2.0"),
	})
	feed.pollTraderFills(trader)

	got := sink.received()
	if len(got) != 1 {
		t.Fatalf("sink received %d fills on second poll, want 1", len(got))
	}
	if got[0].TradeID != "103" {
		t.Errorf("replicated fill id = %s, want 103", got[0].TradeID)
	}

	m := feed.Metrics()
	if m.FillsIngested != 3 {
		t.Errorf("fills ingested = %d, want 3", m.FillsIngested)
	}
	if m.FollowedTraders != 1 {
		t.Errorf("followed traders = %d, want 1", m.FollowedTraders)
	}
}

func TestStatePollFundingIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	stub := &infoStub{
		state: map[string]any{
			"marginSummary": map[string]any{
				"accountValue":    "50000.0",
				"totalMarginUsed": "1200.0",
				"totalNtlPos":     "4000.0",
				"totalRawUsd":     "50000.0",
			},
			"assetPositions": []any{},
		},
		ledger: []map[string]any{
			{
				"time": base - 3_600_000,
				"delta": map[string]any{
					"type": "deposit",
					"usdc": "1000.0",
					"hash": "0xabc123",
				},
			},
		},
	}
	feed, agg := newTestFeed(t, stub, &recordingSink{})

	trader := "0x2222222222222222222222222222222222222222"
	feed.Follow(trader)

	// Every state poll replays the full ledger; totals must not grow.
	feed.pollState()
	feed.pollState()

	sum := agg.Funding(trader)
	if sum.TotalIn != 1000 {
		t.Errorf("total in = %v after repeated polls, want 1000", sum.TotalIn)
	}
	if sum.Net != 1000 {
		t.Errorf("net = %v, want 1000", sum.Net)
	}
	if len(sum.Deposits) != 1 {
		t.Errorf("deposits = %d, want 1", len(sum.Deposits))
	}

	acct, ok := agg.Account(trader)
	if !ok {
		t.Fatal("account missing after state poll")
	}
	if acct.AccountValue != 50000 {
		t.Errorf("account value = %v, want 50000", acct.AccountValue)
	}
}
