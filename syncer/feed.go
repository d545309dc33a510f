package syncer

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/aggregator"
	"github.com/odddkidout/hyperliquid-tracker/api"
	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/models"
)

// FillSink receives each new fill for a followed trader, in fill order.
type FillSink interface {
	HandleFill(trader string, fill models.Fill)
}

type traderFeed struct {
	seen map[string]struct{} // fill ids from the previous poll
}

// Feed watches followed traders and streams their activity into the
// aggregator and the replication sink. Fills arrive by websocket push when
// configured, by polling otherwise; positions and funding are always polled.
type Feed struct {
	info *api.InfoClient
	agg  *aggregator.Aggregator
	sink FillSink
	cfg  config.FeedConfig

	mu      sync.Mutex
	traders map[string]*traderFeed
	stream  *api.FillStream

	fillsIngested atomic.Int64
	pollFailures  atomic.Int64
	lastFillUnix  atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// Metrics reports the feed's ingestion counters.
func (f *Feed) Metrics() FeedMetrics {
	f.mu.Lock()
	followed := len(f.traders)
	f.mu.Unlock()
	var lastFill time.Time
	if unix := f.lastFillUnix.Load(); unix > 0 {
		lastFill = time.Unix(unix, 0).UTC()
	}
	return FeedMetrics{
		FollowedTraders: followed,
		FillsIngested:   f.fillsIngested.Load(),
		PollFailures:    f.pollFailures.Load(),
		LastFillAt:      lastFill,
	}
}

// NewFeed builds a feed over the given sink.
func NewFeed(info *api.InfoClient, agg *aggregator.Aggregator, sink FillSink, cfg config.FeedConfig) *Feed {
	f := &Feed{
		info:    info,
		agg:     agg,
		sink:    sink,
		cfg:     cfg,
		traders: make(map[string]*traderFeed),
		stop:    make(chan struct{}),
	}
	if cfg.UsePush {
		f.stream = api.NewFillStream(cfg.WebsocketURL, f.onPushFill)
	}
	return f
}

// Follow starts watching a trader. Safe to call from manager hooks.
func (f *Feed) Follow(trader string) {
	f.mu.Lock()
	if _, ok := f.traders[trader]; !ok {
		f.traders[trader] = &traderFeed{seen: make(map[string]struct{})}
	}
	f.mu.Unlock()

	if f.stream != nil {
		f.stream.Subscribe(trader)
	}
	log.Printf("[feed] following %s", trader)
}

// Unfollow stops watching a trader.
func (f *Feed) Unfollow(trader string) {
	f.mu.Lock()
	delete(f.traders, trader)
	f.mu.Unlock()

	if f.stream != nil {
		f.stream.Unsubscribe(trader)
	}
	log.Printf("[feed] unfollowed %s", trader)
}

// Start launches the poll loops and, when configured, the push stream.
func (f *Feed) Start() {
	if f.stream != nil {
		f.stream.Start(context.Background())
	}

	interval := time.Duration(f.cfg.PollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Positions and funding refresh on a slower cadence.
		slow := time.NewTicker(interval * 6)
		defer slow.Stop()

		for {
			select {
			case <-f.stop:
				return
			case <-ticker.C:
				if f.stream == nil {
					f.pollFills()
				}
			case <-slow.C:
				f.pollState()
			}
		}
	}()
}

// Stop shuts the feed down and waits for in-flight polls.
func (f *Feed) Stop() {
	close(f.stop)
	if f.stream != nil {
		f.stream.Stop()
	}
	f.wg.Wait()
}

func (f *Feed) followedTraders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.traders))
	for trader := range f.traders {
		out = append(out, trader)
	}
	return out
}

// pollFills fetches recent fills for every followed trader, bounded by the
// concurrent-poll limit, and dispatches unseen ones oldest first.
func (f *Feed) pollFills() {
	traders := f.followedTraders()
	if len(traders) == 0 {
		return
	}

	limit := f.cfg.MaxConcurrentPolls
	if limit <= 0 {
		limit = 3
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, trader := range traders {
		wg.Add(1)
		sem <- struct{}{}
		go func(trader string) {
			defer wg.Done()
			defer func() { <-sem }()
			f.pollTraderFills(trader)
		}(trader)
	}
	wg.Wait()
}

func (f *Feed) pollTraderFills(trader string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(f.cfg.RequestTimeoutMS)*time.Millisecond)
	defer cancel()

	fills, err := f.info.GetUserFills(ctx, trader)
	if err != nil {
		f.pollFailures.Add(1)
		log.Printf("[feed] fills poll for %s failed: %v", trader, err)
		return
	}

	f.mu.Lock()
	state, ok := f.traders[trader]
	if !ok {
		f.mu.Unlock()
		return
	}
	fresh := make([]models.Fill, 0)
	next := make(map[string]struct{}, len(fills))
	for _, fill := range fills {
		next[fill.TradeID] = struct{}{}
		if _, dup := state.seen[fill.TradeID]; !dup {
			fresh = append(fresh, fill)
		}
	}
	first := len(state.seen) == 0
	state.seen = next
	f.mu.Unlock()

	// The first poll backfills history into the aggregator but never
	// replicates it.
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })
	for _, fill := range fresh {
		f.dispatch(trader, fill, !first)
	}
}

// pollState refreshes positions and funding for followed traders.
func (f *Feed) pollState() {
	for _, trader := range f.followedTraders() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(f.cfg.RequestTimeoutMS)*time.Millisecond)

		if state, err := f.info.GetClearinghouseState(ctx, trader); err != nil {
			log.Printf("[feed] state poll for %s failed: %v", trader, err)
		} else if err := f.agg.Ingest(aggregator.PositionEvent{
			Address:   trader,
			Margin:    state.Margin,
			Positions: state.Positions,
		}); err != nil {
			log.Printf("[feed] position event for %s rejected: %v", trader, err)
		}

		if events, err := f.info.GetLedgerUpdates(ctx, trader); err != nil {
			log.Printf("[feed] ledger poll for %s failed: %v", trader, err)
		} else {
			for _, ev := range events {
				if err := f.agg.Ingest(aggregator.FundingEvent{Address: trader, Event: ev}); err != nil {
					log.Printf("[feed] funding event for %s rejected: %v", trader, err)
				}
			}
		}
		cancel()
	}
}

func (f *Feed) onPushFill(trader string, fill models.Fill) {
	f.dispatch(trader, fill, true)
}

// dispatch ingests one fill and, when replicate is set, forwards it to the
// copy-trade sink. Redelivered fills are dropped here so the sink never sees
// the same trade id twice.
func (f *Feed) dispatch(trader string, fill models.Fill, replicate bool) {
	if f.agg.Seen(trader, fill.TradeID) {
		return
	}
	if err := f.agg.Ingest(aggregator.FillEvent{Address: trader, Fill: fill}); err != nil {
		log.Printf("[feed] fill %s for %s rejected: %v", fill.TradeID, trader, err)
		return
	}
	f.fillsIngested.Add(1)
	f.lastFillUnix.Store(fill.Timestamp.Unix())
	if replicate && f.sink != nil {
		f.sink.HandleFill(trader, fill)
	}
}
