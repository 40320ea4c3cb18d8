// Package sqlite implements the trade ledger on SQLite: a durable keyed
// table with an atomic per-row upsert, plus the journal read surface used by
// the HTTP API.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fxcockpit/internal/domain"
	"fxcockpit/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Ledger implements ports.LedgerStore and ports.TradeJournal using SQLite.
type Ledger struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite ledger.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewLedger opens (creating if needed) the ledger database.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite ledger")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/cockpit.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	// WAL mode so API reads do not block sync-pass writes.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ledger := &Ledger{db: db, logger: cfg.Logger}
	if err := ledger.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize ledger schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite ledger ready", map[string]interface{}{"path": dbPath})
	return ledger, nil
}

func (l *Ledger) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_logs (
		trade_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL DEFAULT 'USDJPY',
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL DEFAULT NULL,
		position_size REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		duration_minutes INTEGER DEFAULT NULL,
		realized_pnl REAL DEFAULT NULL,
		entry_ticket INTEGER DEFAULT NULL,
		exit_ticket INTEGER DEFAULT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_logs_entry_time ON trade_logs (entry_time);
	`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		l.logger.Info(context.Background(), "Closing SQLite ledger")
		return l.db.Close()
	}
	return nil
}

// --- ports.LedgerStore ---

// Get retrieves a trade by its stable identifier; nil, nil when absent.
func (l *Ledger) Get(ctx context.Context, tradeID string) (*domain.Trade, error) {
	const query = `
	SELECT trade_id, symbol, direction, entry_price, exit_price, position_size,
	       entry_time, exit_time, duration_minutes, realized_pnl,
	       COALESCE(entry_ticket, 0), COALESCE(exit_ticket, 0), created_at
	FROM trade_logs WHERE trade_id = ?`

	trade, err := scanTrade(l.db.QueryRowContext(ctx, query, tradeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w: %w", tradeID, ports.ErrQueryFailed, err)
	}
	return trade, nil
}

// Upsert inserts or fully replaces the row keyed by trade.TradeID.
// created_at is written once and preserved on subsequent upserts, so a
// repeated pass over an unchanged snapshot leaves the row byte-identical.
func (l *Ledger) Upsert(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT INTO trade_logs (trade_id, symbol, direction, entry_price, exit_price,
	                        position_size, entry_time, exit_time, duration_minutes,
	                        realized_pnl, entry_ticket, exit_ticket, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(trade_id) DO UPDATE SET
		symbol = excluded.symbol,
		direction = excluded.direction,
		entry_price = excluded.entry_price,
		exit_price = excluded.exit_price,
		position_size = excluded.position_size,
		entry_time = excluded.entry_time,
		exit_time = excluded.exit_time,
		duration_minutes = excluded.duration_minutes,
		realized_pnl = excluded.realized_pnl,
		entry_ticket = excluded.entry_ticket,
		exit_ticket = excluded.exit_ticket`

	var exitPrice sql.NullFloat64
	var exitTime sql.NullTime
	var realizedPnL sql.NullFloat64
	if trade.IsClosed() {
		exitPrice = sql.NullFloat64{Float64: trade.ExitPrice, Valid: true}
		exitTime = sql.NullTime{Time: trade.ExitTime, Valid: true}
		realizedPnL = sql.NullFloat64{Float64: trade.RealizedPnL, Valid: true}
	}
	var duration sql.NullInt64
	if trade.DurationMinutes != nil {
		duration = sql.NullInt64{Int64: *trade.DurationMinutes, Valid: true}
	}
	var entryTicket, exitTicket sql.NullInt64
	if trade.EntryTicket != 0 {
		entryTicket = sql.NullInt64{Int64: trade.EntryTicket, Valid: true}
	}
	if trade.ExitTicket != 0 {
		exitTicket = sql.NullInt64{Int64: trade.ExitTicket, Valid: true}
	}

	_, err := l.db.ExecContext(ctx, query,
		trade.TradeID, trade.Symbol, trade.Direction, trade.EntryPrice, exitPrice,
		trade.Size, trade.EntryTime, exitTime, duration,
		realizedPnL, entryTicket, exitTicket, trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trade %s: %w: %w", trade.TradeID, ports.ErrQueryFailed, err)
	}
	l.logger.Debug(ctx, "Trade upserted", map[string]interface{}{"tradeID": trade.TradeID, "closed": trade.IsClosed()})
	return nil
}

// --- ports.TradeJournal ---

// List returns trades ordered by entry time descending.
func (l *Ledger) List(ctx context.Context, limit, offset int) ([]*domain.Trade, error) {
	const query = `
	SELECT trade_id, symbol, direction, entry_price, exit_price, position_size,
	       entry_time, exit_time, duration_minutes, realized_pnl,
	       COALESCE(entry_ticket, 0), COALESCE(exit_ticket, 0), created_at
	FROM trade_logs ORDER BY entry_time DESC LIMIT ? OFFSET ?`

	rows, err := l.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during List: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// Stats aggregates journal performance over the ledger.
func (l *Ledger) Stats(ctx context.Context) (*ports.TradeStats, error) {
	const query = `
	SELECT COUNT(*),
	       COUNT(exit_time),
	       COALESCE(SUM(CASE WHEN exit_time IS NOT NULL AND realized_pnl > 0 THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN exit_time IS NOT NULL THEN realized_pnl ELSE 0 END), 0),
	       COALESCE(AVG(duration_minutes), 0)
	FROM trade_logs`

	stats := &ports.TradeStats{}
	err := l.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalTrades, &stats.ClosedTrades, &stats.Wins, &stats.TotalPnL, &stats.AvgDurationMinutes)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate trade stats: %w: %w", ports.ErrQueryFailed, err)
	}
	stats.Losses = stats.ClosedTrades - stats.Wins
	if stats.ClosedTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.ClosedTrades)
	}
	return stats, nil
}

// --- Helper Scan Functions ---

// scanner is compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var direction string
	var exitPrice, realizedPnL sql.NullFloat64
	var exitTime sql.NullTime
	var duration sql.NullInt64
	err := s.Scan(
		&t.TradeID, &t.Symbol, &direction, &t.EntryPrice, &exitPrice, &t.Size,
		&t.EntryTime, &exitTime, &duration, &realizedPnL,
		&t.EntryTicket, &t.ExitTicket, &t.CreatedAt)
	if err != nil {
		return nil, err // sql.ErrNoRows handled by the caller
	}
	t.Direction = domain.Direction(direction)
	if exitPrice.Valid {
		t.ExitPrice = exitPrice.Float64
	}
	if exitTime.Valid {
		t.ExitTime = exitTime.Time
	}
	if realizedPnL.Valid {
		t.RealizedPnL = realizedPnL.Float64
	}
	if duration.Valid {
		d := duration.Int64
		t.DurationMinutes = &d
	}
	return t, nil
}
