package copytrade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/api"
	"github.com/odddkidout/hyperliquid-tracker/models"
	"github.com/odddkidout/hyperliquid-tracker/storage"
)

// OrderPlacer submits a replicated order to the execution venue.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req api.OrderRequest) (*api.OrderResult, error)
}

// AccountSource resolves a trader's current account snapshot, used to size
// fixed-allocation copies.
type AccountSource interface {
	Account(address string) (models.Account, bool)
}

// Replicator fans one trader fill out to every follower config on that
// trader. Fan-out across followers runs on a bounded worker pool; HandleFill
// does not return until every follower outcome is decided, which keeps the
// per-follower order stream in fill order.
type Replicator struct {
	manager  *Manager
	store    storage.DataStore
	exchange OrderPlacer
	accounts AccountSource

	sem chan struct{}

	failurePauseCount int
	submitTimeout     time.Duration

	executed   atomic.Int64
	failures   atomic.Int64
	suppressed atomic.Int64
	autoPauses atomic.Int64
}

// Stats reports cumulative replication outcome counts.
type Stats struct {
	Executed   int64
	Failed     int64
	Suppressed int64
	AutoPauses int64
}

// Stats returns the replicator's cumulative outcome counters.
func (r *Replicator) Stats() Stats {
	return Stats{
		Executed:   r.executed.Load(),
		Failed:     r.failures.Load(),
		Suppressed: r.suppressed.Load(),
		AutoPauses: r.autoPauses.Load(),
	}
}

// NewReplicator wires a replicator over the lifecycle manager.
func NewReplicator(manager *Manager, store storage.DataStore, exchange OrderPlacer, accounts AccountSource, maxWorkers, failurePauseCount int, submitTimeout time.Duration) *Replicator {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Replicator{
		manager:           manager,
		store:             store,
		exchange:          exchange,
		accounts:          accounts,
		sem:               make(chan struct{}, maxWorkers),
		failurePauseCount: failurePauseCount,
		submitTimeout:     submitTimeout,
	}
}

// HandleFill replicates one trader fill to all of the trader's followers.
func (r *Replicator) HandleFill(trader string, fill models.Fill) {
	rels := r.manager.relationshipsFor(trader)
	if len(rels) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, rel := range rels {
		wg.Add(1)
		r.sem <- struct{}{}
		go func(rel *relationship) {
			defer wg.Done()
			defer func() { <-r.sem }()
			r.replicate(rel, trader, fill)
		}(rel)
	}
	wg.Wait()
}

// replicate decides and executes one follower's copy of a fill. rel.mu is
// held across the state check and the submission, so a completed Stop is
// never followed by an order for that config.
func (r *Replicator) replicate(rel *relationship, trader string, fill models.Fill) {
	rel.mu.Lock()
	defer rel.mu.Unlock()

	if rel.cfg.State != models.CopyStateActive {
		return
	}

	size, skipReason := r.copiedSize(rel, trader, fill)
	if skipReason != "" {
		r.record(rel, fill, 0, 0, "", models.TradeStatusSuppressed, skipReason, "")
		return
	}

	prev := rel.positions[fill.Coin]
	next := prev + size
	action := classifyAction(prev, next)

	if reason := r.stopLossBreach(rel, fill, next); reason != "" {
		r.record(rel, fill, size, 0, action, models.TradeStatusSuppressed, reason, "")
		r.autoPauses.Add(1)
		r.manager.autoPause(rel, "stop-loss triggered")
		return
	}

	ctx, cancel := context.WithTimeout(rel.ctx, r.submitTimeout)
	result, err := r.exchange.PlaceOrder(ctx, api.OrderRequest{
		Coin:       fill.Coin,
		IsBuy:      size > 0,
		Size:       math.Abs(size),
		ReduceOnly: action == "reduce" || action == "exit",
	})
	cancel()

	if err != nil {
		r.record(rel, fill, size, 0, action, models.TradeStatusFailed, err.Error(), "")
		r.failed(rel, fill, err)
		return
	}
	if !result.Success {
		r.record(rel, fill, size, 0, action, models.TradeStatusFailed, result.ErrorMsg, result.OrderID)
		r.failed(rel, fill, fmt.Errorf("order rejected: %s", result.ErrorMsg))
		return
	}

	rel.failures = 0
	filled := math.Copysign(result.FilledSize, size)
	if result.FilledSize == 0 {
		filled = size
	}
	r.applyFill(rel, fill.Coin, filled, orderPrice(result, fill))
	r.record(rel, fill, size, filled, action, models.TradeStatusExecuted, "", result.OrderID)
	log.Printf("[Replicator] Config %s copied %s %s %.6f (%s)", rel.cfg.ID, fill.Coin, fill.Side, filled, action)
}

// copiedSize scales the trader's fill to the follower. A fixed allocation is
// copied at allocation / trader account value; a percentage allocation copies
// percentage/100 of the trader's size directly. The signed result is then
// clamped so the copied position never exceeds max_position notional.
func (r *Replicator) copiedSize(rel *relationship, trader string, fill models.Fill) (float64, string) {
	var scale float64
	switch rel.cfg.AllocationType {
	case models.AllocationFixed:
		acct, ok := r.accounts.Account(trader)
		if !ok || acct.AccountValue <= 0 {
			return 0, "trader account value unavailable"
		}
		scale = rel.cfg.Allocation / acct.AccountValue
	case models.AllocationPercentage:
		scale = rel.cfg.Percentage / 100
	}
	if scale <= 0 {
		return 0, "zero scale factor"
	}

	size := fill.Size * scale
	if size == 0 {
		return 0, "scaled size rounds to zero"
	}

	if rel.cfg.MaxPosition > 0 && fill.Price > 0 {
		limit := rel.cfg.MaxPosition / fill.Price
		prev := rel.positions[fill.Coin]
		next := prev + size
		if math.Abs(next) > limit {
			clamped := math.Copysign(limit, next) - prev
			// The clamp must shrink the order, never reverse it.
			if math.Abs(clamped) < 1e-12 || clamped*size <= 0 {
				return 0, "position cap reached"
			}
			size = clamped
		}
	}
	return size, ""
}

// stopLossBreach estimates the config's unrealized loss if the copy executes at
// the fill price and reports a reason when it would exceed the stop.
func (r *Replicator) stopLossBreach(rel *relationship, fill models.Fill, nextPos float64) string {
	if rel.cfg.StopLoss <= 0 {
		return ""
	}
	loss := 0.0
	for coin, pos := range rel.positions {
		entry := rel.entryPrice[coin]
		if entry <= 0 || pos == 0 {
			continue
		}
		mark := entry
		if coin == fill.Coin {
			mark = fill.Price
			pos = nextPos
		}
		loss -= (mark - entry) * pos
	}
	if loss > rel.cfg.StopLoss {
		return fmt.Sprintf("stop-loss breach: estimated loss $%.2f exceeds limit $%.2f", loss, rel.cfg.StopLoss)
	}
	return ""
}

// applyFill updates the tracked copied position and its average entry price.
func (r *Replicator) applyFill(rel *relationship, coin string, size, price float64) {
	prev := rel.positions[coin]
	next := prev + size
	switch {
	case next == 0:
		delete(rel.positions, coin)
		delete(rel.entryPrice, coin)
		return
	case prev == 0 || math.Signbit(prev) != math.Signbit(next):
		rel.entryPrice[coin] = price
	case math.Abs(next) > math.Abs(prev):
		added := math.Abs(size)
		rel.entryPrice[coin] = (rel.entryPrice[coin]*math.Abs(prev) + price*added) / math.Abs(next)
	}
	rel.positions[coin] = next
}

func (r *Replicator) failed(rel *relationship, fill models.Fill, err error) {
	rel.failures++
	log.Printf("[Replicator] Config %s failed to copy %s (%d consecutive): %v", rel.cfg.ID, fill.TradeID, rel.failures, err)

	var upstream *models.UpstreamError
	fatal := errors.As(err, &upstream) || errors.Is(err, context.DeadlineExceeded)
	if rel.failures >= r.failurePauseCount && fatal {
		r.autoPauses.Add(1)
		r.manager.autoPause(rel, "recurring upstream failures")
	} else if rel.failures >= r.failurePauseCount {
		r.autoPauses.Add(1)
		r.manager.autoPause(rel, "recurring execution failures")
	}
}

func (r *Replicator) record(rel *relationship, fill models.Fill, intended, actual float64, action, status, reason, orderID string) {
	switch status {
	case models.TradeStatusExecuted:
		r.executed.Add(1)
	case models.TradeStatusFailed:
		r.failures.Add(1)
	case models.TradeStatusSuppressed:
		r.suppressed.Add(1)
	}

	trade := models.CopiedTrade{
		ConfigID:        rel.cfg.ID,
		OriginalTradeID: fill.TradeID,
		TraderAddress:   rel.cfg.TraderAddress,
		Coin:            fill.Coin,
		Side:            fill.Side,
		Action:          action,
		IntendedSize:    intended,
		ActualSize:      actual,
		Price:           fill.Price,
		ClosedPNL:       fill.ClosedPNL * scaleRatio(intended, fill.Size),
		Status:          status,
		ErrorReason:     reason,
		OrderID:         orderID,
		CreatedAt:       time.Now(),
	}
	if err := r.store.SaveCopiedTrade(context.Background(), trade); err != nil {
		log.Printf("[Replicator] Failed to record copied trade for config %s: %v", rel.cfg.ID, err)
	}
}

// orderPrice prefers the venue's average fill price, falling back to the
// trader's fill price when the venue omits it.
func orderPrice(result *api.OrderResult, fill models.Fill) float64 {
	if result.AvgPrice > 0 {
		return result.AvgPrice
	}
	return fill.Price
}

func scaleRatio(copied, original float64) float64 {
	if original == 0 {
		return 0
	}
	return copied / original
}

// classifyAction names the position effect of a fill from the copied position
// before and after it.
func classifyAction(prev, next float64) string {
	switch {
	case prev == 0 && next == 0:
		return "entry"
	case prev == 0:
		return "entry"
	case next == 0:
		return "exit"
	case math.Signbit(prev) != math.Signbit(next):
		return "flip"
	case math.Abs(next) > math.Abs(prev):
		return "add"
	default:
		return "reduce"
	}
}
