package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL. All monetary values are
// stored as NUMERIC for exact decimal precision and scanned via ::TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// serializationFailure is the SQLSTATE for a serializable-transaction
// conflict; such writes are retried once before surfacing.
const serializationFailure = "40001"

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

func (s *PostgresStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, ticker, shares::TEXT, avg_price::TEXT, stop_loss::TEXT, updated_at
		 FROM positions WHERE account_id = $1 ORDER BY ticker`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT account_id, ticker, shares::TEXT, avg_price::TEXT, stop_loss::TEXT, updated_at
		 FROM positions WHERE account_id = $1 AND ticker = $2`, accountID, symbol)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", accountID, symbol, err)
	}
	return p, nil
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, mut TradeMutation) error {
	err := s.applyTradeTx(ctx, mut)
	if isSerializationFailure(err) {
		err = s.applyTradeTx(ctx, mut)
	}
	return err
}

func (s *PostgresStore) applyTradeTx(ctx context.Context, mut TradeMutation) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("apply trade: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	t := mut.Trade
	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, account_id, ticker, side, shares, price, fees, slippage, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		t.ID, t.AccountID, t.Ticker, t.Side,
		t.Shares.String(), t.Price.String(), t.Fees.String(), t.Slippage.String(),
		t.Reason, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("apply trade: insert trade: %w", err)
	}

	c := mut.Cash
	if _, err := tx.Exec(ctx,
		`INSERT INTO cash_ledger (id, account_id, delta, kind, ref_trade_id, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		c.ID, c.AccountID, c.Delta.String(), c.Kind, nullString(c.RefTradeID), c.CreatedAt,
	); err != nil {
		return fmt.Errorf("apply trade: insert cash entry: %w", err)
	}

	switch {
	case mut.Position != nil:
		p := mut.Position
		var stop *string
		if p.StopLoss != nil {
			s := p.StopLoss.String()
			stop = &s
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (account_id, ticker, shares, avg_price, stop_loss, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
			 ON CONFLICT (account_id, ticker)
			 DO UPDATE SET shares = EXCLUDED.shares,
			               avg_price = EXCLUDED.avg_price,
			               stop_loss = EXCLUDED.stop_loss,
			               updated_at = EXCLUDED.updated_at`,
			p.AccountID, p.Ticker, p.Shares.String(), p.AvgPrice.String(), stop, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("apply trade: upsert position: %w", err)
		}
	case mut.DeleteTicker != "":
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE account_id = $1 AND ticker = $2`,
			t.AccountID, mut.DeleteTicker,
		); err != nil {
			return fmt.Errorf("apply trade: delete position: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, ticker, side, shares::TEXT, price::TEXT, fees::TEXT, slippage::TEXT, reason, created_at
		 FROM trades WHERE account_id = $1 ORDER BY created_at, id`, accountID)
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

func (s *PostgresStore) GetCashBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var sum string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0)::TEXT FROM cash_ledger WHERE account_id = $1`,
		accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get cash balance %s: %w", accountID, err)
	}
	balance, _ := decimal.NewFromString(sum)
	return balance, nil
}

func (s *PostgresStore) GetCashLedger(ctx context.Context, accountID string) ([]model.CashLedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, delta::TEXT, kind, COALESCE(ref_trade_id, ''), created_at
		 FROM cash_ledger WHERE account_id = $1 ORDER BY created_at, id`, accountID)
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

func (s *PostgresStore) InitStartingCash(ctx context.Context, entry model.CashLedgerEntry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("init starting cash: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO settings (account_id, key, value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, key) DO NOTHING`,
		entry.AccountID, model.SettingStartingEquity, entry.Delta.String(),
	)
	if err != nil {
		return fmt.Errorf("init starting cash: setting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyInitialized
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO cash_ledger (id, account_id, delta, kind, ref_trade_id, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, NULL, $5)`,
		entry.ID, entry.AccountID, entry.Delta.String(), entry.Kind, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("init starting cash: deposit: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) UpsertEquitySnapshot(ctx context.Context, snap *model.EquitySnapshot) error {
	err := s.upsertSnapshot(ctx, snap)
	if isSerializationFailure(err) {
		// Concurrent end-of-day runs for the same (account, date) may
		// collide; one retry converges on the newest value.
		err = s.upsertSnapshot(ctx, snap)
	}
	return err
}

func (s *PostgresStore) upsertSnapshot(ctx context.Context, snap *model.EquitySnapshot) error {
	var benchmark *string
	if snap.BenchmarkEquity != nil {
		b := snap.BenchmarkEquity.String()
		benchmark = &b
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO equity_history (id, account_id, date, portfolio_equity, benchmark_equity, process_type, is_final)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)
		 ON CONFLICT (account_id, date)
		 DO UPDATE SET portfolio_equity = EXCLUDED.portfolio_equity,
		               benchmark_equity = EXCLUDED.benchmark_equity,
		               process_type = EXCLUDED.process_type,
		               is_final = EXCLUDED.is_final`,
		snap.ID, snap.AccountID, snap.Date, snap.PortfolioEquity.String(), benchmark,
		snap.ProcessType, snap.IsFinal,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s/%s: %w", snap.AccountID, snap.Date.Format(model.DateFormat), err)
	}
	return nil
}

func (s *PostgresStore) GetEquityHistory(ctx context.Context, accountID string) ([]model.EquitySnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, date, portfolio_equity::TEXT, benchmark_equity::TEXT, process_type, is_final
		 FROM equity_history WHERE account_id = $1 ORDER BY date`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.EquitySnapshot
	for rows.Next() {
		var snap model.EquitySnapshot
		var equity string
		var benchmark *string
		if err := rows.Scan(&snap.ID, &snap.AccountID, &snap.Date, &equity, &benchmark,
			&snap.ProcessType, &snap.IsFinal); err != nil {
			return nil, err
		}
		snap.PortfolioEquity, _ = decimal.NewFromString(equity)
		if benchmark != nil {
			b, _ := decimal.NewFromString(*benchmark)
			snap.BenchmarkEquity = &b
		}
		snap.Date = model.DateOf(snap.Date)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) GetSetting(ctx context.Context, accountID, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE account_id = $1 AND key = $2`,
		accountID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s/%s: %w", accountID, key, err)
	}
	return value, nil
}

// scanPosition reads one position row from pgx.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var shares, avgPrice string
	var stop *string
	if err := row.Scan(&p.AccountID, &p.Ticker, &shares, &avgPrice, &stop, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(shares)
	p.AvgPrice, _ = decimal.NewFromString(avgPrice)
	if stop != nil {
		sl, _ := decimal.NewFromString(*stop)
		p.StopLoss = &sl
	}
	return &p, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
