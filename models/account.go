package models

import "time"

// Timeframe identifies a performance window
type Timeframe string

const (
	TimeframeDay      Timeframe = "day"
	TimeframeWeek     Timeframe = "week"
	TimeframeMonth    Timeframe = "month"
	TimeframeLifetime Timeframe = "lifetime"
)

// Timeframes lists all windows in display order.
var Timeframes = []Timeframe{TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeLifetime}

// Duration returns the rolling window length, or 0 for the cumulative lifetime window.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case TimeframeDay:
		return 24 * time.Hour
	case TimeframeWeek:
		return 7 * 24 * time.Hour
	case TimeframeMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether t is a known timeframe.
func (t Timeframe) Valid() bool {
	switch t {
	case TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeLifetime:
		return true
	}
	return false
}

// Metric identifies a leaderboard sort key
type Metric string

const (
	MetricPNL    Metric = "pnl"
	MetricROI    Metric = "roi"
	MetricVolume Metric = "volume"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricPNL, MetricROI, MetricVolume:
		return true
	}
	return false
}

// TimeframeStats holds performance numbers for one window
type TimeframeStats struct {
	PNL    float64 `json:"pnl"`
	ROI    float64 `json:"roi"`
	Volume float64 `json:"volume"`
}

// Account represents a tracked trading account
type Account struct {
	Address       string                       `json:"address"`
	DisplayName   string                       `json:"display_name,omitempty"`
	AccountValue  float64                      `json:"account_value"`
	MarginUsed    float64                      `json:"margin_used"`
	PositionCount int                          `json:"position_count"`
	Stats         map[Timeframe]TimeframeStats `json:"stats"`
	UpdatedAt     time.Time                    `json:"updated_at"`
}

// StatsFor returns the stats for a window, zero-valued if absent.
func (a Account) StatsFor(tf Timeframe) TimeframeStats {
	if a.Stats == nil {
		return TimeframeStats{}
	}
	return a.Stats[tf]
}

// Position is a single open perpetual position, replaced wholesale on each snapshot.
type Position struct {
	Coin             string  `json:"coin"`
	Size             float64 `json:"size"` // signed, >0 long, <0 short
	EntryPrice       float64 `json:"entry_price"`
	Leverage         float64 `json:"leverage"`
	UnrealizedPNL    float64 `json:"unrealized_pnl"`
	ReturnOnEquity   float64 `json:"return_on_equity"`
	MarginUsed       float64 `json:"margin_used"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// MarginSummary mirrors the exchange's account margin snapshot.
type MarginSummary struct {
	AccountValue    float64 `json:"account_value"`
	TotalMarginUsed float64 `json:"total_margin_used"`
	TotalNtlPos     float64 `json:"total_ntl_pos"`
	TotalRawUsd     float64 `json:"total_raw_usd"`
}

// Fill is one executed trade for an account, immutable once recorded.
type Fill struct {
	TradeID       string    `json:"trade_id"`
	Coin          string    `json:"coin"`
	Side          string    `json:"side"` // "B" buy, "A" sell
	Price         float64   `json:"price"`
	Size          float64   `json:"size"` // signed
	Fee           float64   `json:"fee"`
	Direction     string    `json:"direction"` // e.g. "Open Long", "Close Short"
	ClosedPNL     float64   `json:"closed_pnl"`
	StartPosition float64   `json:"start_position"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notional returns the fill's absolute notional value.
func (f Fill) Notional() float64 {
	sz := f.Size
	if sz < 0 {
		sz = -sz
	}
	return f.Price * sz
}

// Order is an open (resting) order.
type Order struct {
	OrderID      int64     `json:"order_id"`
	Coin         string    `json:"coin"`
	Side         string    `json:"side"`
	Type         string    `json:"type"`
	LimitPrice   float64   `json:"limit_price"`
	OriginalSize float64   `json:"original_size"`
	Size         float64   `json:"size"` // remaining
	ReduceOnly   bool      `json:"reduce_only"`
	Timestamp    time.Time `json:"timestamp"`
}

// FillPercent returns how much of the order has executed.
func (o Order) FillPercent() float64 {
	if o.OriginalSize <= 0 {
		return 0
	}
	return (o.OriginalSize - o.Size) / o.OriginalSize * 100
}

// FundingEventKind distinguishes ledger movements.
type FundingEventKind string

const (
	FundingDeposit    FundingEventKind = "deposit"
	FundingWithdrawal FundingEventKind = "withdrawal"
)

// FundingEvent is a deposit or withdrawal on an account. Hash is the ledger
// entry's transaction hash, used as the idempotency key for redelivery.
type FundingEvent struct {
	Hash      string           `json:"hash,omitempty"`
	Kind      FundingEventKind `json:"kind"`
	Amount    float64          `json:"amount"`
	Timestamp time.Time        `json:"timestamp"`
}

// FundingSummary aggregates an account's ledger history.
type FundingSummary struct {
	Deposits    []FundingEvent `json:"deposits"`
	Withdrawals []FundingEvent `json:"withdrawals"`
	TotalIn     float64        `json:"total_deposits"`
	TotalOut    float64        `json:"total_withdrawals"`
	Net         float64        `json:"net_deposits"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	Address      string  `json:"address"`
	DisplayName  string  `json:"display_name,omitempty"`
	AccountValue float64 `json:"account_value"`
	PNL          float64 `json:"pnl"`
	ROI          float64 `json:"roi"`
	Volume       float64 `json:"volume"`
}

// Recommendation is a scored copy-trade candidate with its supporting facts.
type Recommendation struct {
	Address      string   `json:"address"`
	DisplayName  string   `json:"display_name,omitempty"`
	AccountValue float64  `json:"account_value"`
	Score        float64  `json:"score"`
	Reasons      []string `json:"reasons"`
	WeekPNL      float64  `json:"week_pnl"`
	WeekROI      float64  `json:"week_roi"`
	MonthPNL     float64  `json:"month_pnl"`
}

// GlobalStats summarizes the whole tracked universe per timeframe.
type GlobalStats struct {
	TotalAccounts int                              `json:"total_accounts"`
	Timeframes    map[Timeframe]TimeframeAggregate `json:"timeframes"`
}

// TimeframeAggregate is the universe-wide rollup for one window.
type TimeframeAggregate struct {
	TotalPNL     float64 `json:"total_pnl"`
	TotalVolume  float64 `json:"total_volume"`
	AvgROI       float64 `json:"avg_roi"`
	Profitable   int     `json:"profitable_accounts"`
	Unprofitable int     `json:"unprofitable_accounts"`
}
