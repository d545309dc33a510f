package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const accountsCacheKey = "accounts:snapshot"
const accountsCacheTTL = 30 * time.Second

// PostgresStore wraps PostgreSQL persistence with Redis caching
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a new PostgreSQL store with connection pooling and Redis cache
func NewPostgres() (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "hyperliquid")
	password := getEnv("POSTGRES_PASSWORD", "hyperliquid123")
	dbname := getEnv("POSTGRES_DB", "hyperliquid")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?pool_max_conns=50&pool_min_conns=10",
		user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 50
	config.MinConns = 10
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	// Keep slow queries from hanging replication paths
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	config.ConnConfig.RuntimeParams["lock_timeout"] = "10000"
	config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = "60000"

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password:     redisPassword,
		DB:           0,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	store := &PostgresStore{pool: pool, redis: rdb}
	if err := store.runMigrations(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Close releases database connections
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Redis exposes the cache client for metrics recording.
func (s *PostgresStore) Redis() *redis.Client {
	return s.redis
}

// SaveConfig inserts a new copy-trade config.
func (s *PostgresStore) SaveConfig(ctx context.Context, cfg models.CopyTradeConfig) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO copy_trade_configs (
            id, follower_id, trader_address, trader_name, allocation_type,
            allocation, percentage, max_position, stop_loss, state,
            pause_reason, started_at, stopped_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `,
		cfg.ID,
		cfg.FollowerID,
		cfg.TraderAddress,
		cfg.TraderName,
		string(cfg.AllocationType),
		cfg.Allocation,
		cfg.Percentage,
		cfg.MaxPosition,
		cfg.StopLoss,
		string(cfg.State),
		cfg.PauseReason,
		cfg.StartedAt,
		cfg.StoppedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save config %s: %w", cfg.ID, err)
	}
	return nil
}

// UpdateConfig persists a lifecycle transition.
func (s *PostgresStore) UpdateConfig(ctx context.Context, cfg models.CopyTradeConfig) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE copy_trade_configs
        SET state = $1, pause_reason = $2, stopped_at = $3
        WHERE id = $4
    `, string(cfg.State), cfg.PauseReason, cfg.StoppedAt, cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to update config %s: %w", cfg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Kind: "config", Key: cfg.ID}
	}
	return nil
}

const pgConfigColumns = `
    id, follower_id, trader_address, trader_name, allocation_type,
    allocation, percentage, max_position, stop_loss, state,
    pause_reason, started_at, stopped_at
`

// GetConfig fetches one config by id.
func (s *PostgresStore) GetConfig(ctx context.Context, id string) (*models.CopyTradeConfig, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgConfigColumns+` FROM copy_trade_configs WHERE id = $1`, id)
	cfg, err := scanPgConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "config", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetOpenConfigByPair returns the active or paused config for a pair, nil when none.
func (s *PostgresStore) GetOpenConfigByPair(ctx context.Context, followerID, traderAddress string) (*models.CopyTradeConfig, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT `+pgConfigColumns+`
        FROM copy_trade_configs
        WHERE follower_id = $1 AND trader_address = $2 AND state != 'stopped'
    `, followerID, traderAddress)
	cfg, err := scanPgConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListConfigs returns a follower's configs, newest first.
func (s *PostgresStore) ListConfigs(ctx context.Context, followerID string, activeOnly bool) ([]models.CopyTradeConfig, error) {
	query := `SELECT ` + pgConfigColumns + ` FROM copy_trade_configs WHERE follower_id = $1`
	if activeOnly {
		query += ` AND state = 'active'`
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.pool.Query(ctx, query, followerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgConfigs(rows)
}

// ListOpenConfigs returns every non-stopped config, for startup recovery.
func (s *PostgresStore) ListOpenConfigs(ctx context.Context) ([]models.CopyTradeConfig, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+pgConfigColumns+`
        FROM copy_trade_configs
        WHERE state != 'stopped'
        ORDER BY started_at ASC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgConfigs(rows)
}

// SaveCopiedTrade appends one replication record.
func (s *PostgresStore) SaveCopiedTrade(ctx context.Context, trade models.CopiedTrade) error {
	createdAt := trade.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO copied_trades (
            config_id, original_trade_id, trader_address, coin, side, action,
            intended_size, actual_size, price, closed_pnl, status,
            error_reason, order_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `,
		trade.ConfigID,
		trade.OriginalTradeID,
		trade.TraderAddress,
		trade.Coin,
		trade.Side,
		trade.Action,
		trade.IntendedSize,
		trade.ActualSize,
		trade.Price,
		trade.ClosedPNL,
		trade.Status,
		trade.ErrorReason,
		trade.OrderID,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save copied trade for config %s: %w", trade.ConfigID, err)
	}
	return nil
}

const pgCopiedTradeColumns = `
    id, config_id, original_trade_id, trader_address, coin, side, action,
    intended_size, actual_size, price, closed_pnl, status,
    error_reason, order_id, created_at
`

// ListCopiedTrades returns a config's replication history, newest first.
func (s *PostgresStore) ListCopiedTrades(ctx context.Context, configID string, limit int) ([]models.CopiedTrade, error) {
	query := `SELECT ` + pgCopiedTradeColumns + ` FROM copied_trades WHERE config_id = $1 ORDER BY id DESC`
	args := []interface{}{configID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgCopiedTrades(rows)
}

// ListFollowerTrades returns all replication records across a follower's configs.
func (s *PostgresStore) ListFollowerTrades(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error) {
	query := `
        SELECT ct.id, ct.config_id, ct.original_trade_id, ct.trader_address,
            ct.coin, ct.side, ct.action, ct.intended_size, ct.actual_size,
            ct.price, ct.closed_pnl, ct.status, ct.error_reason, ct.order_id, ct.created_at
        FROM copied_trades ct
        JOIN copy_trade_configs c ON c.id = ct.config_id
        WHERE c.follower_id = $1
        ORDER BY ct.id DESC
    `
	args := []interface{}{followerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgCopiedTrades(rows)
}

// SaveAccounts replaces the persisted account snapshot and refreshes the cache.
func (s *PostgresStore) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM account_stats`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM accounts`); err != nil {
		return err
	}

	for _, acct := range accounts {
		if _, err := tx.Exec(ctx, `
            INSERT INTO accounts (address, display_name, account_value, margin_used, position_count, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, acct.Address, acct.DisplayName, acct.AccountValue, acct.MarginUsed, acct.PositionCount, acct.UpdatedAt); err != nil {
			return err
		}
		for tf, stats := range acct.Stats {
			if _, err := tx.Exec(ctx, `
                INSERT INTO account_stats (address, timeframe, pnl, roi, volume)
                VALUES ($1, $2, $3, $4, $5)
            `, acct.Address, string(tf), stats.PNL, stats.ROI, stats.Volume); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if data, err := json.Marshal(accounts); err == nil {
		s.redis.Set(ctx, accountsCacheKey, data, accountsCacheTTL)
	}
	return nil
}

// LoadAccounts reads the persisted snapshot, preferring the Redis copy.
func (s *PostgresStore) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	if cached, err := s.redis.Get(ctx, accountsCacheKey).Result(); err == nil {
		var accounts []models.Account
		if err := json.Unmarshal([]byte(cached), &accounts); err == nil {
			return accounts, nil
		}
	} else if err != redis.Nil {
		// Redis down is not fatal, fall through to Postgres
	}

	rows, err := s.pool.Query(ctx, `
        SELECT address, display_name, account_value, margin_used, position_count, updated_at
        FROM accounts
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[string]*models.Account)
	var order []string
	for rows.Next() {
		var acct models.Account
		var name *string
		var updated *time.Time
		if err := rows.Scan(&acct.Address, &name, &acct.AccountValue, &acct.MarginUsed, &acct.PositionCount, &updated); err != nil {
			return nil, err
		}
		if name != nil {
			acct.DisplayName = *name
		}
		if updated != nil {
			acct.UpdatedAt = *updated
		}
		acct.Stats = make(map[models.Timeframe]models.TimeframeStats)
		index[acct.Address] = &acct
		order = append(order, acct.Address)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statsRows, err := s.pool.Query(ctx, `SELECT address, timeframe, pnl, roi, volume FROM account_stats`)
	if err != nil {
		return nil, err
	}
	defer statsRows.Close()

	for statsRows.Next() {
		var addr, tf string
		var stats models.TimeframeStats
		if err := statsRows.Scan(&addr, &tf, &stats.PNL, &stats.ROI, &stats.Volume); err != nil {
			return nil, err
		}
		if acct, ok := index[addr]; ok {
			acct.Stats[models.Timeframe(tf)] = stats
		}
	}
	if err := statsRows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Account, 0, len(order))
	for _, addr := range order {
		out = append(out, *index[addr])
	}
	return out, nil
}

func scanPgConfig(row pgx.Row) (*models.CopyTradeConfig, error) {
	var cfg models.CopyTradeConfig
	var allocType, state string
	var traderName, pauseReason *string
	var startedAt *time.Time
	var stoppedAt *time.Time

	if err := row.Scan(
		&cfg.ID,
		&cfg.FollowerID,
		&cfg.TraderAddress,
		&traderName,
		&allocType,
		&cfg.Allocation,
		&cfg.Percentage,
		&cfg.MaxPosition,
		&cfg.StopLoss,
		&state,
		&pauseReason,
		&startedAt,
		&stoppedAt,
	); err != nil {
		return nil, err
	}

	if traderName != nil {
		cfg.TraderName = *traderName
	}
	if pauseReason != nil {
		cfg.PauseReason = *pauseReason
	}
	cfg.AllocationType = models.AllocationType(allocType)
	cfg.State = models.CopyState(state)
	if startedAt != nil {
		cfg.StartedAt = *startedAt
	}
	cfg.StoppedAt = stoppedAt
	return &cfg, nil
}

func scanPgConfigs(rows pgx.Rows) ([]models.CopyTradeConfig, error) {
	var out []models.CopyTradeConfig
	for rows.Next() {
		cfg, err := scanPgConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func scanPgCopiedTrades(rows pgx.Rows) ([]models.CopiedTrade, error) {
	var out []models.CopiedTrade
	for rows.Next() {
		var trade models.CopiedTrade
		var errReason, orderID *string
		var createdAt *time.Time
		if err := rows.Scan(
			&trade.ID,
			&trade.ConfigID,
			&trade.OriginalTradeID,
			&trade.TraderAddress,
			&trade.Coin,
			&trade.Side,
			&trade.Action,
			&trade.IntendedSize,
			&trade.ActualSize,
			&trade.Price,
			&trade.ClosedPNL,
			&trade.Status,
			&errReason,
			&orderID,
			&createdAt,
		); err != nil {
			return nil, err
		}
		if errReason != nil {
			trade.ErrorReason = *errReason
		}
		if orderID != nil {
			trade.OrderID = *orderID
		}
		if createdAt != nil {
			trade.CreatedAt = *createdAt
		}
		out = append(out, trade)
	}
	return out, rows.Err()
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS copy_trade_configs (
        id TEXT PRIMARY KEY,
        follower_id TEXT NOT NULL,
        trader_address TEXT NOT NULL,
        trader_name TEXT,
        allocation_type TEXT NOT NULL,
        allocation DOUBLE PRECISION,
        percentage DOUBLE PRECISION,
        max_position DOUBLE PRECISION,
        stop_loss DOUBLE PRECISION,
        state TEXT NOT NULL,
        pause_reason TEXT,
        started_at TIMESTAMPTZ,
        stopped_at TIMESTAMPTZ
    );
    CREATE INDEX IF NOT EXISTS idx_configs_pair ON copy_trade_configs(follower_id, trader_address, state);
    CREATE INDEX IF NOT EXISTS idx_configs_trader ON copy_trade_configs(trader_address, state);
    CREATE UNIQUE INDEX IF NOT EXISTS idx_configs_open_pair ON copy_trade_configs(follower_id, trader_address)
        WHERE state != 'stopped';

    CREATE TABLE IF NOT EXISTS copied_trades (
        id BIGSERIAL PRIMARY KEY,
        config_id TEXT NOT NULL REFERENCES copy_trade_configs(id) ON DELETE CASCADE,
        original_trade_id TEXT NOT NULL,
        trader_address TEXT,
        coin TEXT,
        side TEXT,
        action TEXT,
        intended_size DOUBLE PRECISION,
        actual_size DOUBLE PRECISION,
        price DOUBLE PRECISION,
        closed_pnl DOUBLE PRECISION,
        status TEXT,
        error_reason TEXT,
        order_id TEXT,
        created_at TIMESTAMPTZ
    );
    CREATE INDEX IF NOT EXISTS idx_copied_config ON copied_trades(config_id, id DESC);

    CREATE TABLE IF NOT EXISTS accounts (
        address TEXT PRIMARY KEY,
        display_name TEXT,
        account_value DOUBLE PRECISION,
        margin_used DOUBLE PRECISION,
        position_count INTEGER,
        updated_at TIMESTAMPTZ
    );

    CREATE TABLE IF NOT EXISTS account_stats (
        address TEXT NOT NULL REFERENCES accounts(address) ON DELETE CASCADE,
        timeframe TEXT NOT NULL,
        pnl DOUBLE PRECISION,
        roi DOUBLE PRECISION,
        volume DOUBLE PRECISION,
        PRIMARY KEY (address, timeframe)
    );
    `

	_, err := s.pool.Exec(ctx, schema)
	return err
}
