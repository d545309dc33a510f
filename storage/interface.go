package storage

import (
	"context"

	"github.com/odddkidout/hyperliquid-tracker/models"
)

// DataStore defines the interface for storage backends
type DataStore interface {
	Close() error

	// Copy-trade config operations
	SaveConfig(ctx context.Context, cfg models.CopyTradeConfig) error
	UpdateConfig(ctx context.Context, cfg models.CopyTradeConfig) error
	GetConfig(ctx context.Context, id string) (*models.CopyTradeConfig, error)
	GetOpenConfigByPair(ctx context.Context, followerID, traderAddress string) (*models.CopyTradeConfig, error)
	ListConfigs(ctx context.Context, followerID string, activeOnly bool) ([]models.CopyTradeConfig, error)
	ListOpenConfigs(ctx context.Context) ([]models.CopyTradeConfig, error)

	// Replicated trade history
	SaveCopiedTrade(ctx context.Context, trade models.CopiedTrade) error
	ListCopiedTrades(ctx context.Context, configID string, limit int) ([]models.CopiedTrade, error)
	ListFollowerTrades(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error)

	// Account snapshot persistence so leaderboards survive restarts
	SaveAccounts(ctx context.Context, accounts []models.Account) error
	LoadAccounts(ctx context.Context) ([]models.Account, error)
}

// Ensure all implementations satisfy the interface
var _ DataStore = (*Store)(nil)
var _ DataStore = (*PostgresStore)(nil)
var _ DataStore = (*MockStore)(nil)
