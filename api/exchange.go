package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"
)

// OrderRequest is a scaled order handed to the execution sink.
type OrderRequest struct {
	Coin       string  `json:"coin"`
	IsBuy      bool    `json:"is_buy"`
	Size       float64 `json:"size"` // absolute
	ReduceOnly bool    `json:"reduce_only"`
	Slippage   float64 `json:"slippage,omitempty"`
}

// OrderResult is the sink's fill confirmation or rejection.
type OrderResult struct {
	Success    bool    `json:"success"`
	OrderID    string  `json:"order_id"`
	FilledSize float64 `json:"filled_size"`
	AvgPrice   float64 `json:"avg_price"`
	ErrorMsg   string  `json:"error,omitempty"`
}

// ExchangeClient submits orders to the execution endpoint with bounded
// retries. A rejection from the exchange is returned as a result, not an
// error; only transport failures after retries become UpstreamError.
type ExchangeClient struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// NewExchangeClient creates an execution client.
func NewExchangeClient(baseURL string, timeout time.Duration, attempts int, backoff time.Duration) *ExchangeClient {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &ExchangeClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		attempts:   attempts,
		backoff:    backoff,
	}
}

// PlaceOrder submits one order, retrying transport failures with exponential
// backoff.
func (c *ExchangeClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, &models.UpstreamError{Op: "place order", Err: ctx.Err()}
			case <-time.After(delay):
			}
			log.Printf("[ExchangeClient] Retrying order %s %s (attempt %d)", req.Coin, sideLabel(req.IsBuy), attempt+1)
		}

		result, err := c.submit(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return nil, &models.UpstreamError{Op: "place order", Err: lastErr}
}

func (c *ExchangeClient) submit(ctx context.Context, body []byte) (*OrderResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	var result OrderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return &result, nil
}

func sideLabel(isBuy bool) string {
	if isBuy {
		return "BUY"
	}
	return "SELL"
}
