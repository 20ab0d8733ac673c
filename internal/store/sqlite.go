package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

// sqliteSchema creates the ledger tables. Decimals are stored as TEXT to
// avoid float rounding; dates as ISO strings.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS positions (
	account_id TEXT NOT NULL,
	ticker     TEXT NOT NULL,
	shares     TEXT NOT NULL,
	avg_price  TEXT NOT NULL,
	stop_loss  TEXT,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (account_id, ticker)
);
CREATE TABLE IF NOT EXISTS trades (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	ticker     TEXT NOT NULL,
	side       TEXT NOT NULL,
	shares     TEXT NOT NULL,
	price      TEXT NOT NULL,
	fees       TEXT NOT NULL,
	slippage   TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, created_at);
CREATE TABLE IF NOT EXISTS cash_ledger (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL,
	delta        TEXT NOT NULL,
	kind         TEXT NOT NULL,
	ref_trade_id TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cash_account ON cash_ledger(account_id, created_at);
CREATE TABLE IF NOT EXISTS equity_history (
	id               TEXT NOT NULL,
	account_id       TEXT NOT NULL,
	date             TEXT NOT NULL,
	portfolio_equity TEXT NOT NULL,
	benchmark_equity TEXT,
	process_type     TEXT NOT NULL DEFAULT 'regular',
	is_final         INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (account_id, date)
);
CREATE TABLE IF NOT EXISTS settings (
	account_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (account_id, key)
);
`

// SQLiteStore implements Store on an embedded SQLite database. Suited to
// single-host deployments; the original production setup ran on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// on concurrent transactions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, ticker, shares, avg_price, stop_loss, updated_at
		 FROM positions WHERE account_id = ? ORDER BY ticker`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var shares, avgPrice string
		var stop sql.NullString
		if err := rows.Scan(&p.AccountID, &p.Ticker, &shares, &avgPrice, &stop, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Shares, _ = decimal.NewFromString(shares)
		p.AvgPrice, _ = decimal.NewFromString(avgPrice)
		if stop.Valid {
			sl, _ := decimal.NewFromString(stop.String)
			p.StopLoss = &sl
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	var p model.Position
	var shares, avgPrice string
	var stop sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, ticker, shares, avg_price, stop_loss, updated_at
		 FROM positions WHERE account_id = ? AND ticker = ?`, accountID, symbol).
		Scan(&p.AccountID, &p.Ticker, &shares, &avgPrice, &stop, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", accountID, symbol, err)
	}
	p.Shares, _ = decimal.NewFromString(shares)
	p.AvgPrice, _ = decimal.NewFromString(avgPrice)
	if stop.Valid {
		sl, _ := decimal.NewFromString(stop.String)
		p.StopLoss = &sl
	}
	return &p, nil
}

func (s *SQLiteStore) ApplyTrade(ctx context.Context, mut TradeMutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply trade: begin: %w", err)
	}
	defer tx.Rollback()

	t := mut.Trade
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trades (id, account_id, ticker, side, shares, price, fees, slippage, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.Ticker, t.Side,
		t.Shares.String(), t.Price.String(), t.Fees.String(), t.Slippage.String(),
		t.Reason, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("apply trade: insert trade: %w", err)
	}

	c := mut.Cash
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cash_ledger (id, account_id, delta, kind, ref_trade_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Delta.String(), c.Kind, nullString(c.RefTradeID), c.CreatedAt,
	); err != nil {
		return fmt.Errorf("apply trade: insert cash entry: %w", err)
	}

	switch {
	case mut.Position != nil:
		p := mut.Position
		var stop *string
		if p.StopLoss != nil {
			v := p.StopLoss.String()
			stop = &v
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO positions (account_id, ticker, shares, avg_price, stop_loss, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (account_id, ticker)
			 DO UPDATE SET shares = excluded.shares,
			               avg_price = excluded.avg_price,
			               stop_loss = excluded.stop_loss,
			               updated_at = excluded.updated_at`,
			p.AccountID, p.Ticker, p.Shares.String(), p.AvgPrice.String(), stop, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("apply trade: upsert position: %w", err)
		}
	case mut.DeleteTicker != "":
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM positions WHERE account_id = ? AND ticker = ?`,
			t.AccountID, mut.DeleteTicker,
		); err != nil {
			return fmt.Errorf("apply trade: delete position: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, ticker, side, shares, price, fees, slippage, reason, created_at
		 FROM trades WHERE account_id = ? ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var shares, price, fees, slippage string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Ticker, &t.Side,
			&shares, &price, &fees, &slippage, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.Fees, _ = decimal.NewFromString(fees)
		t.Slippage, _ = decimal.NewFromString(slippage)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) GetCashBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	// Deltas are stored as TEXT, so the sum happens in Go rather than SQL.
	entries, err := s.GetCashLedger(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.Delta)
	}
	return balance, nil
}

func (s *SQLiteStore) GetCashLedger(ctx context.Context, accountID string) ([]model.CashLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, delta, kind, COALESCE(ref_trade_id, ''), created_at
		 FROM cash_ledger WHERE account_id = ? ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.CashLedgerEntry
	for rows.Next() {
		var e model.CashLedgerEntry
		var delta string
		if err := rows.Scan(&e.ID, &e.AccountID, &delta, &e.Kind, &e.RefTradeID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Delta, _ = decimal.NewFromString(delta)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) InitStartingCash(ctx context.Context, entry model.CashLedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init starting cash: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO settings (account_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (account_id, key) DO NOTHING`,
		entry.AccountID, model.SettingStartingEquity, entry.Delta.String(),
	)
	if err != nil {
		return fmt.Errorf("init starting cash: setting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyInitialized
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cash_ledger (id, account_id, delta, kind, ref_trade_id, created_at)
		 VALUES (?, ?, ?, ?, NULL, ?)`,
		entry.ID, entry.AccountID, entry.Delta.String(), entry.Kind, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("init starting cash: deposit: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpsertEquitySnapshot(ctx context.Context, snap *model.EquitySnapshot) error {
	var benchmark *string
	if snap.BenchmarkEquity != nil {
		b := snap.BenchmarkEquity.String()
		benchmark = &b
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equity_history (id, account_id, date, portfolio_equity, benchmark_equity, process_type, is_final)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, date)
		 DO UPDATE SET portfolio_equity = excluded.portfolio_equity,
		               benchmark_equity = excluded.benchmark_equity,
		               process_type = excluded.process_type,
		               is_final = excluded.is_final`,
		snap.ID, snap.AccountID, snap.Date.Format(model.DateFormat),
		snap.PortfolioEquity.String(), benchmark, snap.ProcessType, snap.IsFinal,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s/%s: %w", snap.AccountID, snap.Date.Format(model.DateFormat), err)
	}
	return nil
}

func (s *SQLiteStore) GetEquityHistory(ctx context.Context, accountID string) ([]model.EquitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, date, portfolio_equity, benchmark_equity, process_type, is_final
		 FROM equity_history WHERE account_id = ? ORDER BY date`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.EquitySnapshot
	for rows.Next() {
		var snap model.EquitySnapshot
		var day, equity string
		var benchmark sql.NullString
		if err := rows.Scan(&snap.ID, &snap.AccountID, &day, &equity, &benchmark,
			&snap.ProcessType, &snap.IsFinal); err != nil {
			return nil, err
		}
		snap.Date, _ = time.ParseInLocation(model.DateFormat, day, time.UTC)
		snap.PortfolioEquity, _ = decimal.NewFromString(equity)
		if benchmark.Valid {
			b, _ := decimal.NewFromString(benchmark.String)
			snap.BenchmarkEquity = &b
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) GetSetting(ctx context.Context, accountID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE account_id = ? AND key = ?`,
		accountID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s/%s: %w", accountID, key, err)
	}
	return value, nil
}
