package aggregator

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"
)

const (
	// longest rolling window; fills older than this are dropped from the log
	maxWindow = 30 * 24 * time.Hour

	// dedup set is trimmed once it grows past this
	maxSeenIDs = 4096
)

// Event is anything the aggregator can ingest for one account.
type Event interface {
	EventAddress() string
}

// FillEvent delivers one executed trade for an account.
type FillEvent struct {
	Address string
	Fill    models.Fill
}

func (e FillEvent) EventAddress() string { return e.Address }

// PositionEvent replaces an account's open positions and margin snapshot wholesale.
type PositionEvent struct {
	Address   string
	Margin    models.MarginSummary
	Positions []models.Position
}

func (e PositionEvent) EventAddress() string { return e.Address }

// FundingEvent records a deposit or withdrawal.
type FundingEvent struct {
	Address string
	Event   models.FundingEvent
}

func (e FundingEvent) EventAddress() string { return e.Address }

// StatsEvent seeds an account with exchange-computed window stats, as pulled
// from the leaderboard snapshot. For accounts whose fills we track directly,
// fill-derived stats stay authoritative and only the identity fields are taken.
type StatsEvent struct {
	Address      string
	DisplayName  string
	AccountValue float64
	Stats        map[models.Timeframe]models.TimeframeStats
}

func (e StatsEvent) EventAddress() string { return e.Address }

type accountState struct {
	account     models.Account
	positions   []models.Position
	margin      models.MarginSummary
	fills       []models.Fill           // ordered by timestamp, pruned to maxWindow
	funding     []models.FundingEvent   // ordered by timestamp
	seenIDs     map[string]struct{}
	seenFunding map[string]struct{}

	lifetimePNL    float64
	lifetimeVolume float64
}

type shard struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
}

// Aggregator maintains per-account rolling performance statistics. Accounts
// are partitioned across shards by address hash so updates to one account
// never contend with another shard's.
type Aggregator struct {
	shards []*shard
	now    func() time.Time
}

// New creates an aggregator with the given shard count.
func New(shardCount int) *Aggregator {
	if shardCount <= 0 {
		shardCount = 16
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{accounts: make(map[string]*accountState)}
	}
	return &Aggregator{shards: shards, now: time.Now}
}

func (a *Aggregator) shardFor(address string) *shard {
	h := fnv.New32a()
	h.Write([]byte(address))
	return a.shards[h.Sum32()%uint32(len(a.shards))]
}

// Ingest applies one event. Malformed events are rejected with
// MalformedEventError and leave the account untouched. Ingest never blocks on
// I/O.
func (a *Aggregator) Ingest(ev Event) error {
	addr := ev.EventAddress()
	if addr == "" {
		return &models.MalformedEventError{Reason: "missing address"}
	}

	switch e := ev.(type) {
	case FillEvent:
		return a.ingestFill(addr, e.Fill)
	case PositionEvent:
		return a.ingestPositions(addr, e)
	case FundingEvent:
		return a.ingestFunding(addr, e.Event)
	case StatsEvent:
		return a.ingestStats(addr, e)
	default:
		return &models.MalformedEventError{Reason: "unknown event type"}
	}
}

func validateFill(f models.Fill) error {
	switch {
	case f.TradeID == "":
		return &models.MalformedEventError{Reason: "fill missing trade id"}
	case f.Coin == "":
		return &models.MalformedEventError{Reason: "fill missing coin"}
	case f.Timestamp.IsZero():
		return &models.MalformedEventError{Reason: "fill missing timestamp"}
	case math.IsNaN(f.Price) || math.IsInf(f.Price, 0) || f.Price <= 0:
		return &models.MalformedEventError{Reason: "fill price not finite positive"}
	case math.IsNaN(f.Size) || math.IsInf(f.Size, 0) || f.Size == 0:
		return &models.MalformedEventError{Reason: "fill size not finite nonzero"}
	case math.IsNaN(f.ClosedPNL) || math.IsInf(f.ClosedPNL, 0):
		return &models.MalformedEventError{Reason: "fill closed pnl not finite"}
	}
	return nil
}

func (a *Aggregator) ingestFill(addr string, fill models.Fill) error {
	if err := validateFill(fill); err != nil {
		return err
	}

	s := a.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreate(addr)

	// At-least-once delivery: duplicates keyed by trade id are dropped.
	if _, dup := st.seenIDs[fill.TradeID]; dup {
		return nil
	}
	st.seenIDs[fill.TradeID] = struct{}{}
	if len(st.seenIDs) > maxSeenIDs {
		st.trimSeen()
	}

	// Keep the log ordered even if delivery is slightly out of order.
	idx := sort.Search(len(st.fills), func(i int) bool {
		return st.fills[i].Timestamp.After(fill.Timestamp)
	})
	st.fills = append(st.fills, models.Fill{})
	copy(st.fills[idx+1:], st.fills[idx:])
	st.fills[idx] = fill

	st.lifetimePNL += fill.ClosedPNL
	st.lifetimeVolume += fill.Notional()

	st.recompute(a.now())
	return nil
}

// Seen reports whether a fill id was already recorded for an account. Ids
// older than the trimmed dedup set read as unseen.
func (a *Aggregator) Seen(address, tradeID string) bool {
	s := a.shardFor(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.accounts[address]
	if !ok {
		return false
	}
	_, seen := st.seenIDs[tradeID]
	return seen
}

func (a *Aggregator) ingestPositions(addr string, ev PositionEvent) error {
	for _, p := range ev.Positions {
		if p.Coin == "" {
			return &models.MalformedEventError{Reason: "position missing coin"}
		}
		if math.IsNaN(p.Size) || math.IsInf(p.Size, 0) {
			return &models.MalformedEventError{Reason: "position size not finite"}
		}
	}
	if math.IsNaN(ev.Margin.AccountValue) || math.IsInf(ev.Margin.AccountValue, 0) {
		return &models.MalformedEventError{Reason: "account value not finite"}
	}

	s := a.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreate(addr)
	st.positions = append([]models.Position(nil), ev.Positions...)
	st.margin = ev.Margin
	st.account.AccountValue = ev.Margin.AccountValue
	st.account.MarginUsed = ev.Margin.TotalMarginUsed
	st.account.PositionCount = len(ev.Positions)
	st.account.UpdatedAt = a.now()

	if len(st.fills) > 0 {
		st.recompute(a.now())
	}
	return nil
}

func (a *Aggregator) ingestFunding(addr string, ev models.FundingEvent) error {
	if ev.Kind != models.FundingDeposit && ev.Kind != models.FundingWithdrawal {
		return &models.MalformedEventError{Reason: "unknown funding kind"}
	}
	if math.IsNaN(ev.Amount) || math.IsInf(ev.Amount, 0) || ev.Amount < 0 {
		return &models.MalformedEventError{Reason: "funding amount not finite positive"}
	}

	s := a.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreate(addr)

	// Ledger polls redeliver the whole history; duplicates are dropped by
	// transaction hash so totals never double-count.
	key := fundingKey(ev)
	if _, dup := st.seenFunding[key]; dup {
		return nil
	}
	st.seenFunding[key] = struct{}{}

	idx := sort.Search(len(st.funding), func(i int) bool {
		return st.funding[i].Timestamp.After(ev.Timestamp)
	})
	st.funding = append(st.funding, models.FundingEvent{})
	copy(st.funding[idx+1:], st.funding[idx:])
	st.funding[idx] = ev
	return nil
}

// fundingKey identifies a ledger event for dedup. Falls back to the event's
// own fields when the venue omits the transaction hash.
func fundingKey(ev models.FundingEvent) string {
	if ev.Hash != "" {
		return ev.Hash
	}
	return fmt.Sprintf("%s|%.8f|%d", ev.Kind, ev.Amount, ev.Timestamp.UnixMilli())
}

func (a *Aggregator) ingestStats(addr string, ev StatsEvent) error {
	if math.IsNaN(ev.AccountValue) || math.IsInf(ev.AccountValue, 0) {
		return &models.MalformedEventError{Reason: "account value not finite"}
	}

	s := a.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreate(addr)
	if ev.DisplayName != "" {
		st.account.DisplayName = ev.DisplayName
	}
	st.account.AccountValue = ev.AccountValue
	st.account.UpdatedAt = a.now()

	// Fill-tracked accounts keep their incrementally computed windows.
	if len(st.fills) == 0 && ev.Stats != nil {
		stats := make(map[models.Timeframe]models.TimeframeStats, len(ev.Stats))
		for tf, v := range ev.Stats {
			stats[tf] = v
		}
		st.account.Stats = stats
	}
	return nil
}

func (s *shard) getOrCreate(addr string) *accountState {
	st, ok := s.accounts[addr]
	if !ok {
		st = &accountState{
			account: models.Account{
				Address: addr,
				Stats:   make(map[models.Timeframe]models.TimeframeStats),
			},
			seenIDs:     make(map[string]struct{}),
			seenFunding: make(map[string]struct{}),
		}
		s.accounts[addr] = st
	}
	return st
}

// trimSeen drops ids no longer backed by the fill log. Fill ids older than the
// longest window cannot double-count anyway since their fills were evicted.
func (st *accountState) trimSeen() {
	keep := make(map[string]struct{}, len(st.fills))
	for _, f := range st.fills {
		keep[f.TradeID] = struct{}{}
	}
	st.seenIDs = keep
}

// recompute evicts out-of-window fills and rebuilds every window's stats.
// Caller holds the shard lock.
func (st *accountState) recompute(now time.Time) {
	cutoff := now.Add(-maxWindow)
	evict := 0
	for evict < len(st.fills) && !st.fills[evict].Timestamp.After(cutoff) {
		evict++
	}
	if evict > 0 {
		st.fills = append([]models.Fill(nil), st.fills[evict:]...)
	}

	for _, tf := range []models.Timeframe{models.TimeframeDay, models.TimeframeWeek, models.TimeframeMonth} {
		boundary := now.Add(-tf.Duration())
		var pnl, volume float64
		for _, f := range st.fills {
			if f.Timestamp.After(boundary) {
				pnl += f.ClosedPNL
				volume += f.Notional()
			}
		}
		st.account.Stats[tf] = models.TimeframeStats{
			PNL:    pnl,
			ROI:    roiFor(pnl, st.account.AccountValue),
			Volume: volume,
		}
	}

	st.account.Stats[models.TimeframeLifetime] = models.TimeframeStats{
		PNL:    st.lifetimePNL,
		ROI:    roiFor(st.lifetimePNL, st.account.AccountValue),
		Volume: st.lifetimeVolume,
	}
	st.account.UpdatedAt = now
}

// roiFor divides window pnl by the account value at window start, estimated as
// the current value minus the window's pnl. Undefined denominators yield 0.
func roiFor(pnl, accountValue float64) float64 {
	start := accountValue - pnl
	if start <= 0 {
		return 0
	}
	return pnl / start
}

// Snapshot returns a consistent copy of every account's current stats.
// Each shard is copied under its read lock; rankings computed from the result
// never mix pre- and post-update state for any single account.
func (a *Aggregator) Snapshot() []models.Account {
	var out []models.Account
	for _, s := range a.shards {
		s.mu.RLock()
		for _, st := range s.accounts {
			out = append(out, copyAccount(st.account))
		}
		s.mu.RUnlock()
	}
	return out
}

// Account returns one account's stats copy, or false if unknown.
func (a *Aggregator) Account(address string) (models.Account, bool) {
	s := a.shardFor(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.accounts[address]
	if !ok {
		return models.Account{}, false
	}
	return copyAccount(st.account), true
}

// Positions returns the account's open positions and margin snapshot.
func (a *Aggregator) Positions(address string) ([]models.Position, models.MarginSummary, bool) {
	s := a.shardFor(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.accounts[address]
	if !ok {
		return nil, models.MarginSummary{}, false
	}
	return append([]models.Position(nil), st.positions...), st.margin, true
}

// Fills returns the account's recorded fills newer than since, newest first.
func (a *Aggregator) Fills(address string, since time.Time) []models.Fill {
	s := a.shardFor(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.accounts[address]
	if !ok {
		return nil
	}
	var out []models.Fill
	for i := len(st.fills) - 1; i >= 0; i-- {
		if st.fills[i].Timestamp.After(since) {
			out = append(out, st.fills[i])
		}
	}
	return out
}

// Funding summarizes the account's ledger history.
func (a *Aggregator) Funding(address string) models.FundingSummary {
	s := a.shardFor(address)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum models.FundingSummary
	st, ok := s.accounts[address]
	if !ok {
		return sum
	}
	// Newest first, so callers that cap the lists keep the recent events.
	for i := len(st.funding) - 1; i >= 0; i-- {
		ev := st.funding[i]
		switch ev.Kind {
		case models.FundingDeposit:
			sum.Deposits = append(sum.Deposits, ev)
			sum.TotalIn += ev.Amount
		case models.FundingWithdrawal:
			sum.Withdrawals = append(sum.Withdrawals, ev)
			sum.TotalOut += ev.Amount
		}
	}
	sum.Net = sum.TotalIn - sum.TotalOut
	return sum
}

func copyAccount(a models.Account) models.Account {
	out := a
	out.Stats = make(map[models.Timeframe]models.TimeframeStats, len(a.Stats))
	for tf, v := range a.Stats {
		out.Stats[tf] = v
	}
	return out
}
