package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"

	"golang.org/x/time/rate"
)

// InfoClient talks to the exchange info endpoint. All queries are POSTs with a
// typed JSON body. Requests are rate limited and retried with exponential
// backoff; exhausted retries surface as UpstreamError.
type InfoClient struct {
	infoURL    string
	statsURL   string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   int
	backoff    time.Duration
}

// NewInfoClient creates an info client.
func NewInfoClient(infoURL, statsURL string, timeout time.Duration, requestsPerSecond int) *InfoClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &InfoClient{
		infoURL:    infoURL,
		statsURL:   statsURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		attempts:   3,
		backoff:    250 * time.Millisecond,
	}
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

func (c *InfoClient) doInfo(ctx context.Context, req infoRequest, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal info request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return &models.UpstreamError{Op: req.Type, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return &models.UpstreamError{Op: req.Type, Err: err}
		}

		lastErr = c.postJSON(ctx, c.infoURL, body, out)
		if lastErr == nil {
			return nil
		}
		log.Printf("[InfoClient] %s attempt %d failed: %v", req.Type, attempt+1, lastErr)
	}

	return &models.UpstreamError{Op: req.Type, Err: lastErr}
}

func (c *InfoClient) postJSON(ctx context.Context, url string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// wire types: the exchange encodes every number as a string

type wireLeverage struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type wirePosition struct {
	Coin           string       `json:"coin"`
	Szi            string       `json:"szi"`
	EntryPx        string       `json:"entryPx"`
	UnrealizedPnl  string       `json:"unrealizedPnl"`
	ReturnOnEquity string       `json:"returnOnEquity"`
	Leverage       wireLeverage `json:"leverage"`
	LiquidationPx  string       `json:"liquidationPx"`
	MarginUsed     string       `json:"marginUsed"`
}

type wireAssetPosition struct {
	Position wirePosition `json:"position"`
	Type     string       `json:"type"`
}

type wireMarginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalMarginUsed string `json:"totalMarginUsed"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUsd     string `json:"totalRawUsd"`
}

type wireClearinghouseState struct {
	AssetPositions []wireAssetPosition `json:"assetPositions"`
	MarginSummary  wireMarginSummary   `json:"marginSummary"`
}

// ClearinghouseState is the parsed account state snapshot.
type ClearinghouseState struct {
	Margin    models.MarginSummary
	Positions []models.Position
}

// GetClearinghouseState fetches an account's margin summary and open positions.
func (c *InfoClient) GetClearinghouseState(ctx context.Context, address string) (*ClearinghouseState, error) {
	var wire wireClearinghouseState
	if err := c.doInfo(ctx, infoRequest{Type: "clearinghouseState", User: address}, &wire); err != nil {
		return nil, err
	}

	state := &ClearinghouseState{
		Margin: models.MarginSummary{
			AccountValue:    parseFloat(wire.MarginSummary.AccountValue),
			TotalMarginUsed: parseFloat(wire.MarginSummary.TotalMarginUsed),
			TotalNtlPos:     parseFloat(wire.MarginSummary.TotalNtlPos),
			TotalRawUsd:     parseFloat(wire.MarginSummary.TotalRawUsd),
		},
	}
	for _, ap := range wire.AssetPositions {
		p := ap.Position
		if p.Coin == "" || parseFloat(p.Szi) == 0 {
			continue
		}
		state.Positions = append(state.Positions, models.Position{
			Coin:             p.Coin,
			Size:             parseFloat(p.Szi),
			EntryPrice:       parseFloat(p.EntryPx),
			Leverage:         p.Leverage.Value,
			UnrealizedPNL:    parseFloat(p.UnrealizedPnl),
			ReturnOnEquity:   parseFloat(p.ReturnOnEquity),
			MarginUsed:       parseFloat(p.MarginUsed),
			LiquidationPrice: parseFloat(p.LiquidationPx),
		})
	}
	return state, nil
}

type wireFill struct {
	Coin          string `json:"coin"`
	Px            string `json:"px"`
	Sz            string `json:"sz"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	StartPosition string `json:"startPosition"`
	Dir           string `json:"dir"`
	ClosedPnl     string `json:"closedPnl"`
	Oid           int64  `json:"oid"`
	Tid           int64  `json:"tid"`
	Fee           string `json:"fee"`
}

// GetUserFills fetches an account's recent fills, newest first as delivered.
func (c *InfoClient) GetUserFills(ctx context.Context, address string) ([]models.Fill, error) {
	var wire []wireFill
	if err := c.doInfo(ctx, infoRequest{Type: "userFills", User: address}, &wire); err != nil {
		return nil, err
	}

	fills := make([]models.Fill, 0, len(wire))
	for _, f := range wire {
		size := parseFloat(f.Sz)
		if f.Side == "A" {
			size = -size
		}
		fills = append(fills, models.Fill{
			TradeID:       strconv.FormatInt(f.Tid, 10),
			Coin:          f.Coin,
			Side:          f.Side,
			Price:         parseFloat(f.Px),
			Size:          size,
			Fee:           parseFloat(f.Fee),
			Direction:     f.Dir,
			ClosedPNL:     parseFloat(f.ClosedPnl),
			StartPosition: parseFloat(f.StartPosition),
			Timestamp:     time.UnixMilli(f.Time),
		})
	}
	return fills, nil
}

type wireOrder struct {
	Coin       string `json:"coin"`
	LimitPx    string `json:"limitPx"`
	Oid        int64  `json:"oid"`
	Side       string `json:"side"`
	Sz         string `json:"sz"`
	OrigSz     string `json:"origSz"`
	Timestamp  int64  `json:"timestamp"`
	ReduceOnly bool   `json:"reduceOnly"`
	OrderType  string `json:"orderType"`
}

// GetOpenOrders fetches an account's resting orders.
func (c *InfoClient) GetOpenOrders(ctx context.Context, address string) ([]models.Order, error) {
	var wire []wireOrder
	if err := c.doInfo(ctx, infoRequest{Type: "frontendOpenOrders", User: address}, &wire); err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(wire))
	for _, o := range wire {
		orders = append(orders, models.Order{
			OrderID:      o.Oid,
			Coin:         o.Coin,
			Side:         o.Side,
			Type:         o.OrderType,
			LimitPrice:   parseFloat(o.LimitPx),
			OriginalSize: parseFloat(o.OrigSz),
			Size:         parseFloat(o.Sz),
			ReduceOnly:   o.ReduceOnly,
			Timestamp:    time.UnixMilli(o.Timestamp),
		})
	}
	return orders, nil
}

type wireLedgerUpdate struct {
	Time  int64 `json:"time"`
	Delta struct {
		Type string `json:"type"`
		Usdc string `json:"usdc"`
		Hash string `json:"hash"`
	} `json:"delta"`
}

// GetLedgerUpdates fetches an account's deposits and withdrawals. Other ledger
// movement kinds are skipped.
func (c *InfoClient) GetLedgerUpdates(ctx context.Context, address string) ([]models.FundingEvent, error) {
	var wire []wireLedgerUpdate
	if err := c.doInfo(ctx, infoRequest{Type: "userNonFundingLedgerUpdates", User: address}, &wire); err != nil {
		return nil, err
	}

	var events []models.FundingEvent
	for _, u := range wire {
		amount := parseFloat(u.Delta.Usdc)
		switch u.Delta.Type {
		case "deposit":
			events = append(events, models.FundingEvent{
				Hash:      u.Delta.Hash,
				Kind:      models.FundingDeposit,
				Amount:    amount,
				Timestamp: time.UnixMilli(u.Time),
			})
		case "withdraw":
			if amount < 0 {
				amount = -amount
			}
			events = append(events, models.FundingEvent{
				Hash:      u.Delta.Hash,
				Kind:      models.FundingWithdrawal,
				Amount:    amount,
				Timestamp: time.UnixMilli(u.Time),
			})
		}
	}
	return events, nil
}

type wireWindowStats struct {
	Pnl string `json:"pnl"`
	Roi string `json:"roi"`
	Vlm string `json:"vlm"`
}

type wireLeaderboardRow struct {
	EthAddress         string              `json:"ethAddress"`
	AccountValue       string              `json:"accountValue"`
	DisplayName        string              `json:"displayName"`
	WindowPerformances [][]json.RawMessage `json:"windowPerformances"`
}

type wireLeaderboard struct {
	LeaderboardRows []wireLeaderboardRow `json:"leaderboardRows"`
}

// LeaderboardRow is one parsed row of the exchange-wide leaderboard snapshot.
type LeaderboardRow struct {
	Address      string
	DisplayName  string
	AccountValue float64
	Stats        map[models.Timeframe]models.TimeframeStats
}

// GetLeaderboard fetches the exchange's precomputed leaderboard snapshot.
func (c *InfoClient) GetLeaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statsURL, nil)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &models.UpstreamError{Op: "leaderboard", Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.UpstreamError{Op: "leaderboard", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.UpstreamError{Op: "leaderboard", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var wire wireLeaderboard
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &models.UpstreamError{Op: "leaderboard", Err: err}
	}

	rows := make([]LeaderboardRow, 0, len(wire.LeaderboardRows))
	for _, r := range wire.LeaderboardRows {
		row := LeaderboardRow{
			Address:      r.EthAddress,
			DisplayName:  r.DisplayName,
			AccountValue: parseFloat(r.AccountValue),
			Stats:        make(map[models.Timeframe]models.TimeframeStats),
		}
		for _, wp := range r.WindowPerformances {
			// Each entry is a [window, {pnl, roi, vlm}] pair.
			if len(wp) != 2 {
				continue
			}
			var window string
			if err := json.Unmarshal(wp[0], &window); err != nil {
				continue
			}
			var stats wireWindowStats
			if err := json.Unmarshal(wp[1], &stats); err != nil {
				continue
			}
			tf, ok := windowTimeframe(window)
			if !ok {
				continue
			}
			row.Stats[tf] = models.TimeframeStats{
				PNL:    parseFloat(stats.Pnl),
				ROI:    parseFloat(stats.Roi),
				Volume: parseFloat(stats.Vlm),
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func windowTimeframe(window string) (models.Timeframe, bool) {
	switch window {
	case "day":
		return models.TimeframeDay, true
	case "week":
		return models.TimeframeWeek, true
	case "month":
		return models.TimeframeMonth, true
	case "allTime":
		return models.TimeframeLifetime, true
	}
	return "", false
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
