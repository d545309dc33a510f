package models

import "time"

// CopyState is the lifecycle state of a copy-trade relationship.
type CopyState string

const (
	CopyStateActive  CopyState = "active"
	CopyStatePaused  CopyState = "paused"
	CopyStateStopped CopyState = "stopped" // terminal
)

// AllocationType selects how follower order sizes are derived.
type AllocationType string

const (
	AllocationFixed      AllocationType = "fixed"      // fixed capital amount scaled against the trader's account value
	AllocationPercentage AllocationType = "percentage" // flat fraction of the trader's size
)

// Copied trade outcomes.
const (
	TradeStatusExecuted   = "executed"
	TradeStatusFailed     = "failed"
	TradeStatusSuppressed = "suppressed"
)

// CopyTradeConfig is one (follower, trader) relationship.
// At most one non-stopped config may exist per pair.
type CopyTradeConfig struct {
	ID             string         `json:"config_id"`
	FollowerID     string         `json:"follower_id"`
	TraderAddress  string         `json:"trader_address"`
	TraderName     string         `json:"trader_name,omitempty"`
	AllocationType AllocationType `json:"allocation_type"`
	Allocation     float64        `json:"allocation"` // meaningful iff fixed
	Percentage     float64        `json:"percentage"` // meaningful iff percentage
	MaxPosition    float64        `json:"max_position"` // per-coin cap on copied position size, 0 = uncapped
	StopLoss       float64        `json:"stop_loss"`    // unrealized-loss threshold that auto-pauses, 0 = disabled
	State          CopyState      `json:"state"`
	PauseReason    string         `json:"pause_reason,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	StoppedAt      *time.Time     `json:"stopped_at,omitempty"`
}

// CopiedTrade records one replication attempt against a config.
type CopiedTrade struct {
	ID              int64     `json:"id"`
	ConfigID        string    `json:"config_id"`
	OriginalTradeID string    `json:"original_trade_id"`
	TraderAddress   string    `json:"trader_address"`
	Coin            string    `json:"coin"`
	Side            string    `json:"side"`
	Action          string    `json:"action"` // entry, add, reduce, exit, flip
	IntendedSize    float64   `json:"intended_size"`
	ActualSize      float64   `json:"actual_size"`
	Price           float64   `json:"price"`
	ClosedPNL       float64   `json:"closed_pnl"`
	Status          string    `json:"status"` // executed, failed, suppressed
	ErrorReason     string    `json:"error_reason,omitempty"`
	OrderID         string    `json:"order_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RelationshipPerformance is the per-config slice of a follower's portfolio.
type RelationshipPerformance struct {
	ConfigID        string     `json:"config_id"`
	TraderAddress   string     `json:"trader_address"`
	TraderName      string     `json:"trader_name,omitempty"`
	State           CopyState  `json:"state"`
	StartedAt       time.Time  `json:"started_at"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	TradeCount      int        `json:"trade_count"`
	FailedCount     int        `json:"failed_count"`
	SuppressedCount int        `json:"suppressed_count"`
	WinRate         float64    `json:"win_rate"`
	TotalPNL        float64    `json:"total_pnl"`
	Volume          float64    `json:"volume"`
	BestTradePNL    float64    `json:"best_trade_pnl"`
	WorstTradePNL   float64    `json:"worst_trade_pnl"`
}

// PortfolioPerformance aggregates all of a follower's relationships.
type PortfolioPerformance struct {
	FollowerID          string                    `json:"follower_id"`
	ActiveRelationships int                       `json:"active_relationships"`
	TotalAllocated      float64                   `json:"total_allocated"`
	TotalPNL            float64                   `json:"total_pnl"`
	TotalVolume         float64                   `json:"total_volume"`
	TotalTrades         int                       `json:"total_trades"`
	ROI                 float64                   `json:"roi"`
	WinRate             float64                   `json:"win_rate"`
	Relationships       []RelationshipPerformance `json:"relationships"`
}
