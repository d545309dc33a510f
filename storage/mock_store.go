package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/odddkidout/hyperliquid-tracker/models"
)

// MockStore is an in-memory DataStore for tests.
type MockStore struct {
	mu       sync.Mutex
	configs  map[string]models.CopyTradeConfig
	trades   []models.CopiedTrade
	accounts []models.Account
	nextID   int64

	// FailSaveCopiedTrade forces SaveCopiedTrade errors when set.
	FailSaveCopiedTrade error
}

// NewMock creates an empty in-memory store.
func NewMock() *MockStore {
	return &MockStore{configs: make(map[string]models.CopyTradeConfig)}
}

func (m *MockStore) Close() error { return nil }

func (m *MockStore) SaveConfig(ctx context.Context, cfg models.CopyTradeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ID] = cfg
	return nil
}

func (m *MockStore) UpdateConfig(ctx context.Context, cfg models.CopyTradeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.configs[cfg.ID]
	if !ok {
		return &models.NotFoundError{Kind: "config", Key: cfg.ID}
	}
	old.State = cfg.State
	old.PauseReason = cfg.PauseReason
	old.StoppedAt = cfg.StoppedAt
	m.configs[cfg.ID] = old
	return nil
}

func (m *MockStore) GetConfig(ctx context.Context, id string) (*models.CopyTradeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "config", Key: id}
	}
	out := cfg
	return &out, nil
}

func (m *MockStore) GetOpenConfigByPair(ctx context.Context, followerID, traderAddress string) (*models.CopyTradeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range m.configs {
		if cfg.FollowerID == followerID && cfg.TraderAddress == traderAddress && cfg.State != models.CopyStateStopped {
			out := cfg
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MockStore) ListConfigs(ctx context.Context, followerID string, activeOnly bool) ([]models.CopyTradeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CopyTradeConfig
	for _, cfg := range m.configs {
		if cfg.FollowerID != followerID {
			continue
		}
		if activeOnly && cfg.State != models.CopyStateActive {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *MockStore) ListOpenConfigs(ctx context.Context) ([]models.CopyTradeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CopyTradeConfig
	for _, cfg := range m.configs {
		if cfg.State != models.CopyStateStopped {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MockStore) SaveCopiedTrade(ctx context.Context, trade models.CopiedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaveCopiedTrade != nil {
		return m.FailSaveCopiedTrade
	}
	m.nextID++
	trade.ID = m.nextID
	m.trades = append(m.trades, trade)
	return nil
}

func (m *MockStore) ListCopiedTrades(ctx context.Context, configID string, limit int) ([]models.CopiedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CopiedTrade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].ConfigID == configID {
			out = append(out, m.trades[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockStore) ListFollowerTrades(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CopiedTrade
	for i := len(m.trades) - 1; i >= 0; i-- {
		cfg, ok := m.configs[m.trades[i].ConfigID]
		if !ok || cfg.FollowerID != followerID {
			continue
		}
		out = append(out, m.trades[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockStore) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append([]models.Account(nil), accounts...)
	return nil
}

func (m *MockStore) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Account(nil), m.accounts...), nil
}
