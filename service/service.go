package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/aggregator"
	"github.com/odddkidout/hyperliquid-tracker/analyzer"
	"github.com/odddkidout/hyperliquid-tracker/api"
	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/models"
)

// fundingEventCap bounds the deposit and withdrawal lists in responses.
const fundingEventCap = 50

// Service handles read-side business logic and coordinates between the
// aggregator, the analyzer, and the exchange API.
type Service struct {
	agg         *aggregator.Aggregator
	recommender *analyzer.Recommender
	info        *api.InfoClient
	cfg         *config.Config

	cacheMu      sync.RWMutex
	boardCache   map[string]boardCacheEntry
	detailsCache map[string]detailsCacheEntry
	statsCache   *statsCacheEntry
	recsCache    map[int]recsCacheEntry
}

type boardCacheEntry struct {
	data    []models.LeaderboardEntry
	expires time.Time
}

type detailsCacheEntry struct {
	data    *TraderDetails
	expires time.Time
}

type statsCacheEntry struct {
	data    models.GlobalStats
	expires time.Time
}

type recsCacheEntry struct {
	data    []models.Recommendation
	expires time.Time
}

// TraderDetails is the joined per-trader view served by the detail endpoint.
type TraderDetails struct {
	Account     models.Account        `json:"account"`
	Positions   []models.Position     `json:"positions"`
	Margin      models.MarginSummary  `json:"margin_summary"`
	RecentFills []models.Fill         `json:"recent_fills"`
	OpenOrders  []models.Order        `json:"open_orders"`
	Funding     models.FundingSummary `json:"funding"`
}

// NewService creates a new service.
func NewService(agg *aggregator.Aggregator, info *api.InfoClient, cfg *config.Config) *Service {
	return &Service{
		agg:          agg,
		recommender:  analyzer.NewRecommender(cfg.Scoring),
		info:         info,
		cfg:          cfg,
		boardCache:   make(map[string]boardCacheEntry),
		detailsCache: make(map[string]detailsCacheEntry),
		recsCache:    make(map[int]recsCacheEntry),
	}
}

// Leaderboard ranks all tracked accounts for one window and metric.
func (s *Service) Leaderboard(ctx context.Context, tf models.Timeframe, metric models.Metric, limit int) ([]models.LeaderboardEntry, error) {
	key := fmt.Sprintf("%s:%s:%d", tf, metric, limit)
	if entries, ok := s.cachedBoard(key); ok {
		return entries, nil
	}

	entries, err := analyzer.Rank(s.agg.Snapshot(), tf, metric, limit)
	if err != nil {
		return nil, err
	}

	s.storeBoard(key, entries)
	return entries, nil
}

// GlobalStats summarizes the whole tracked universe.
func (s *Service) GlobalStats(ctx context.Context) models.GlobalStats {
	s.cacheMu.RLock()
	cached := s.statsCache
	s.cacheMu.RUnlock()
	if cached != nil && time.Now().Before(cached.expires) {
		return cached.data
	}

	stats := analyzer.GlobalStats(s.agg.Snapshot())

	ttl := time.Duration(s.cfg.Cache.StatsTTLSecs) * time.Second
	s.cacheMu.Lock()
	s.statsCache = &statsCacheEntry{data: stats, expires: time.Now().Add(ttl)}
	s.cacheMu.Unlock()
	return stats
}

// TraderDetails joins everything known about one trader: tracked stats,
// positions, recent fills, funding, and live open orders. The open-order
// fetch runs concurrently with the clearinghouse refresh; a failure there
// degrades the response instead of failing it.
func (s *Service) TraderDetails(ctx context.Context, address string) (*TraderDetails, error) {
	normalized := normalizeAddress(address)
	if normalized == "" {
		return nil, &models.ValidationError{Field: "address", Reason: "must not be empty"}
	}
	if details, ok := s.cachedDetails(normalized); ok {
		return details, nil
	}

	acct, tracked := s.agg.Account(normalized)

	var (
		wg     sync.WaitGroup
		orders []models.Order
		state  *api.ClearinghouseState
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		if orders, err = s.info.GetOpenOrders(ctx, normalized); err != nil {
			log.Printf("[Service] Open orders for %s unavailable: %v", normalized, err)
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		if state, err = s.info.GetClearinghouseState(ctx, normalized); err != nil {
			log.Printf("[Service] Clearinghouse state for %s unavailable: %v", normalized, err)
		}
	}()
	wg.Wait()

	if !tracked && state == nil {
		return nil, &models.NotFoundError{Kind: "trader", Key: normalized}
	}

	details := &TraderDetails{Account: acct, OpenOrders: orders}
	if state != nil {
		details.Positions = state.Positions
		details.Margin = state.Margin
		if !tracked {
			details.Account = models.Account{
				Address:       normalized,
				AccountValue:  state.Margin.AccountValue,
				MarginUsed:    state.Margin.TotalMarginUsed,
				PositionCount: len(state.Positions),
				UpdatedAt:     time.Now(),
			}
		}
	} else if positions, margin, ok := s.agg.Positions(normalized); ok {
		details.Positions = positions
		details.Margin = margin
	}

	details.RecentFills = s.agg.Fills(normalized, time.Now().Add(-24*time.Hour))
	details.Funding = capFunding(s.agg.Funding(normalized))

	s.storeDetails(normalized, details)
	return details, nil
}

// TraderTrades returns the trader's fills over a trailing window, newest
// first.
func (s *Service) TraderTrades(ctx context.Context, address string, hours int) ([]models.Fill, error) {
	normalized := normalizeAddress(address)
	if normalized == "" {
		return nil, &models.ValidationError{Field: "address", Reason: "must not be empty"}
	}
	if hours <= 0 {
		hours = 24
	}
	return s.agg.Fills(normalized, time.Now().Add(-time.Duration(hours)*time.Hour)), nil
}

// TraderOrders returns the trader's resting orders straight from the exchange.
func (s *Service) TraderOrders(ctx context.Context, address string) ([]models.Order, error) {
	normalized := normalizeAddress(address)
	if normalized == "" {
		return nil, &models.ValidationError{Field: "address", Reason: "must not be empty"}
	}
	return s.info.GetOpenOrders(ctx, normalized)
}

// TraderFunding returns the trader's deposit and withdrawal history,
// bounded to the most recent events.
func (s *Service) TraderFunding(ctx context.Context, address string) (models.FundingSummary, error) {
	normalized := normalizeAddress(address)
	if normalized == "" {
		return models.FundingSummary{}, &models.ValidationError{Field: "address", Reason: "must not be empty"}
	}
	return capFunding(s.agg.Funding(normalized)), nil
}

// Recommendations scores the tracked universe for copy-trade candidates.
func (s *Service) Recommendations(ctx context.Context, limit int) []models.Recommendation {
	if limit <= 0 || limit > s.cfg.Scoring.MaxResults {
		limit = s.cfg.Scoring.MaxResults
	}
	if recs, ok := s.cachedRecs(limit); ok {
		return recs
	}

	recs := s.recommender.Recommend(s.agg.Snapshot(), limit)
	s.storeRecs(limit, recs)
	return recs
}

// TrackedAccount exposes the aggregator's view of one address.
func (s *Service) TrackedAccount(address string) (models.Account, bool) {
	return s.agg.Account(normalizeAddress(address))
}

// InvalidateCaches clears every cached read (used after leaderboard refreshes).
func (s *Service) InvalidateCaches() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.boardCache = make(map[string]boardCacheEntry)
	s.detailsCache = make(map[string]detailsCacheEntry)
	s.recsCache = make(map[int]recsCacheEntry)
	s.statsCache = nil
}

// capFunding truncates the event lists to the most recent entries. The
// aggregator emits them newest first, so a prefix keeps the recent ones.
func capFunding(summary models.FundingSummary) models.FundingSummary {
	if len(summary.Deposits) > fundingEventCap {
		summary.Deposits = summary.Deposits[:fundingEventCap]
	}
	if len(summary.Withdrawals) > fundingEventCap {
		summary.Withdrawals = summary.Withdrawals[:fundingEventCap]
	}
	return summary
}

func (s *Service) cachedBoard(key string) ([]models.LeaderboardEntry, bool) {
	s.cacheMu.RLock()
	entry, ok := s.boardCache[key]
	s.cacheMu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.data, true
}

func (s *Service) storeBoard(key string, entries []models.LeaderboardEntry) {
	ttl := time.Duration(s.cfg.Cache.LeaderboardTTLSecs) * time.Second
	s.cacheMu.Lock()
	s.boardCache[key] = boardCacheEntry{data: entries, expires: time.Now().Add(ttl)}
	s.cacheMu.Unlock()
}

func (s *Service) cachedDetails(address string) (*TraderDetails, bool) {
	s.cacheMu.RLock()
	entry, ok := s.detailsCache[address]
	s.cacheMu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.data, true
}

func (s *Service) storeDetails(address string, details *TraderDetails) {
	ttl := time.Duration(s.cfg.Cache.DetailsTTLSecs) * time.Second
	s.cacheMu.Lock()
	s.detailsCache[address] = detailsCacheEntry{data: details, expires: time.Now().Add(ttl)}
	s.cacheMu.Unlock()
}

func (s *Service) cachedRecs(limit int) ([]models.Recommendation, bool) {
	s.cacheMu.RLock()
	entry, ok := s.recsCache[limit]
	s.cacheMu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.data, true
}

func (s *Service) storeRecs(limit int, recs []models.Recommendation) {
	ttl := time.Duration(s.cfg.Cache.DetailsTTLSecs) * time.Second
	s.cacheMu.Lock()
	s.recsCache[limit] = recsCacheEntry{data: recs, expires: time.Now().Add(ttl)}
	s.cacheMu.Unlock()
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
