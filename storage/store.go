package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite persistence for copy-trade configs, replicated trades,
// and account snapshots.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	store := &Store{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveConfig inserts a new copy-trade config.
func (s *Store) SaveConfig(ctx context.Context, cfg models.CopyTradeConfig) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO copy_trade_configs (
            id, follower_id, trader_address, trader_name, allocation_type,
            allocation, percentage, max_position, stop_loss, state,
            pause_reason, started_at, stopped_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		timeString(cfg.StartedAt),
		timePtrString(cfg.StoppedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save config %s: %w", cfg.ID, err)
	}
	return nil
}

// UpdateConfig persists a lifecycle transition.
func (s *Store) UpdateConfig(ctx context.Context, cfg models.CopyTradeConfig) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE copy_trade_configs
        SET state = ?, pause_reason = ?, stopped_at = ?
        WHERE id = ?
    `,
		string(cfg.State),
		cfg.PauseReason,
		timePtrString(cfg.StoppedAt),
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update config %s: %w", cfg.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if rows == 0 {
		return &models.NotFoundError{Kind: "config", Key: cfg.ID}
	}
	return nil
}

const configColumns = `
    id, follower_id, trader_address, trader_name, allocation_type,
    allocation, percentage, max_position, stop_loss, state,
    pause_reason, started_at, stopped_at
`

// GetConfig fetches one config by id.
func (s *Store) GetConfig(ctx context.Context, id string) (*models.CopyTradeConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM copy_trade_configs WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "config", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetOpenConfigByPair returns the active or paused config for a
// (follower, trader) pair, or nil when none exists.
func (s *Store) GetOpenConfigByPair(ctx context.Context, followerID, traderAddress string) (*models.CopyTradeConfig, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT `+configColumns+`
        FROM copy_trade_configs
        WHERE follower_id = ? AND trader_address = ? AND state != 'stopped'
    `, followerID, traderAddress)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListConfigs returns a follower's configs, newest first. activeOnly filters
// out paused and stopped entries.
func (s *Store) ListConfigs(ctx context.Context, followerID string, activeOnly bool) ([]models.CopyTradeConfig, error) {
	query := `SELECT ` + configColumns + ` FROM copy_trade_configs WHERE follower_id = ?`
	if activeOnly {
		query += ` AND state = 'active'`
	}
	query += ` ORDER BY datetime(started_at) DESC`

	rows, err := s.db.QueryContext(ctx, query, followerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConfigs(rows)
}

// ListOpenConfigs returns every non-stopped config, for startup recovery.
func (s *Store) ListOpenConfigs(ctx context.Context) ([]models.CopyTradeConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+configColumns+`
        FROM copy_trade_configs
        WHERE state != 'stopped'
        ORDER BY datetime(started_at) ASC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConfigs(rows)
}

// SaveCopiedTrade appends one replication record.
func (s *Store) SaveCopiedTrade(ctx context.Context, trade models.CopiedTrade) error {
	createdAt := trade.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO copied_trades (
            config_id, original_trade_id, trader_address, coin, side, action,
            intended_size, actual_size, price, closed_pnl, status,
            error_reason, order_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		timeString(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save copied trade for config %s: %w", trade.ConfigID, err)
	}
	return nil
}

const copiedTradeColumns = `
    id, config_id, original_trade_id, trader_address, coin, side, action,
    intended_size, actual_size, price, closed_pnl, status,
    error_reason, order_id, created_at
`

// ListCopiedTrades returns a config's replication history, newest first.
func (s *Store) ListCopiedTrades(ctx context.Context, configID string, limit int) ([]models.CopiedTrade, error) {
	query := `SELECT ` + copiedTradeColumns + ` FROM copied_trades WHERE config_id = ? ORDER BY id DESC`
	args := []interface{}{configID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCopiedTrades(rows)
}

// ListFollowerTrades returns all replication records across a follower's configs.
func (s *Store) ListFollowerTrades(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error) {
	query := `
        SELECT ct.id, ct.config_id, ct.original_trade_id, ct.trader_address,
            ct.coin, ct.side, ct.action, ct.intended_size, ct.actual_size,
            ct.price, ct.closed_pnl, ct.status, ct.error_reason, ct.order_id, ct.created_at
        FROM copied_trades ct
        JOIN copy_trade_configs c ON c.id = ct.config_id
        WHERE c.follower_id = ?
        ORDER BY ct.id DESC
    `
	args := []interface{}{followerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCopiedTrades(rows)
}

// SaveAccounts replaces the persisted account snapshot.
func (s *Store) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_stats`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return err
	}

	acctStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO accounts (address, display_name, account_value, margin_used, position_count, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer acctStmt.Close()

	statsStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO account_stats (address, timeframe, pnl, roi, volume)
        VALUES (?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer statsStmt.Close()

	for _, acct := range accounts {
		if _, err := acctStmt.ExecContext(ctx,
			acct.Address,
			acct.DisplayName,
			acct.AccountValue,
			acct.MarginUsed,
			acct.PositionCount,
			timeString(acct.UpdatedAt),
		); err != nil {
			return err
		}
		for tf, stats := range acct.Stats {
			if _, err := statsStmt.ExecContext(ctx,
				acct.Address, string(tf), stats.PNL, stats.ROI, stats.Volume,
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// LoadAccounts reads back the persisted account snapshot.
func (s *Store) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var name sql.NullString
		var updated sql.NullString
		if err := rows.Scan(&acct.Address, &name, &acct.AccountValue, &acct.MarginUsed, &acct.PositionCount, &updated); err != nil {
			return nil, err
		}
		acct.DisplayName = name.String
		acct.UpdatedAt = parseTime(updated)
		acct.Stats = make(map[models.Timeframe]models.TimeframeStats)
		index[acct.Address] = &acct
		order = append(order, acct.Address)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statsRows, err := s.db.QueryContext(ctx, `SELECT address, timeframe, pnl, roi, volume FROM account_stats`)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row rowScanner) (*models.CopyTradeConfig, error) {
	var cfg models.CopyTradeConfig
	var allocType, state string
	var traderName, pauseReason sql.NullString
	var startedAt, stoppedAt sql.NullString

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

	cfg.TraderName = traderName.String
	cfg.PauseReason = pauseReason.String
	cfg.AllocationType = models.AllocationType(allocType)
	cfg.State = models.CopyState(state)
	cfg.StartedAt = parseTime(startedAt)
	if stoppedAt.Valid {
		t := parseTime(stoppedAt)
		cfg.StoppedAt = &t
	}
	return &cfg, nil
}

func scanConfigs(rows *sql.Rows) ([]models.CopyTradeConfig, error) {
	var out []models.CopyTradeConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func scanCopiedTrades(rows *sql.Rows) ([]models.CopiedTrade, error) {
	var out []models.CopiedTrade
	for rows.Next() {
		var trade models.CopiedTrade
		var errReason, orderID sql.NullString
		var createdAt sql.NullString
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
		trade.ErrorReason = errReason.String
		trade.OrderID = orderID.String
		trade.CreatedAt = parseTime(createdAt)
		out = append(out, trade)
	}
	return out, rows.Err()
}

func (s *Store) runMigrations(ctx context.Context) error {
	const schema = `
    PRAGMA foreign_keys = ON;

    CREATE TABLE IF NOT EXISTS copy_trade_configs (
        id TEXT PRIMARY KEY,
        follower_id TEXT NOT NULL,
        trader_address TEXT NOT NULL,
        trader_name TEXT,
        allocation_type TEXT NOT NULL,
        allocation REAL,
        percentage REAL,
        max_position REAL,
        stop_loss REAL,
        state TEXT NOT NULL,
        pause_reason TEXT,
        started_at TEXT,
        stopped_at TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_configs_pair ON copy_trade_configs(follower_id, trader_address, state);
    CREATE INDEX IF NOT EXISTS idx_configs_trader ON copy_trade_configs(trader_address, state);
    CREATE UNIQUE INDEX IF NOT EXISTS idx_configs_open_pair ON copy_trade_configs(follower_id, trader_address)
        WHERE state != 'stopped';

    CREATE TABLE IF NOT EXISTS copied_trades (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        config_id TEXT NOT NULL,
        original_trade_id TEXT NOT NULL,
        trader_address TEXT,
        coin TEXT,
        side TEXT,
        action TEXT,
        intended_size REAL,
        actual_size REAL,
        price REAL,
        closed_pnl REAL,
        status TEXT,
        error_reason TEXT,
        order_id TEXT,
        created_at TEXT,
        FOREIGN KEY (config_id) REFERENCES copy_trade_configs(id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_copied_config ON copied_trades(config_id, id DESC);

    CREATE TABLE IF NOT EXISTS accounts (
        address TEXT PRIMARY KEY,
        display_name TEXT,
        account_value REAL,
        margin_used REAL,
        position_count INTEGER,
        updated_at TEXT
    );

    CREATE TABLE IF NOT EXISTS account_stats (
        address TEXT NOT NULL,
        timeframe TEXT NOT NULL,
        pnl REAL,
        roi REAL,
        volume REAL,
        PRIMARY KEY (address, timeframe),
        FOREIGN KEY (address) REFERENCES accounts(address) ON DELETE CASCADE
    );
    `

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func timeString(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func timePtrString(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeString(*t)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
