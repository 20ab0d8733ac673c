// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL, SQLite, Redis (read-through cache),
// and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyInitialized is returned when starting cash was already set
	// for the account.
	ErrAlreadyInitialized = errors.New("store: starting cash already set")
)

// TradeMutation is the atomic unit of a trade: one immutable trade row,
// one cash ledger delta referencing it, and the resulting position upsert
// or deletion. Implementations must apply all three in a single
// transaction — a crash must never leave cash debited without the
// position updated, or vice versa.
type TradeMutation struct {
	Trade model.Trade
	Cash  model.CashLedgerEntry
	// Position is upserted when non-nil; otherwise the position for
	// DeleteTicker is removed (a fully-closed position leaves no row).
	Position     *model.Position
	DeleteTicker string
}

// Store is the persistence interface. Current state (positions, cash) is
// a projection over the immutable trade and cash ledgers; nothing ever
// writes a cash balance directly.
type Store interface {
	// --- Position book ---

	// GetPositions returns all open positions for an account, ordered by ticker.
	GetPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// GetPosition returns one position or ErrNotFound.
	GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error)

	// --- Trade journal ---

	// ApplyTrade atomically journals a trade with its cash delta and
	// position change.
	ApplyTrade(ctx context.Context, mut TradeMutation) error

	// GetTrades returns the full trade log for an account, oldest first.
	GetTrades(ctx context.Context, accountID string) ([]model.Trade, error)

	// --- Cash ledger ---

	// GetCashBalance returns the sum of all cash ledger deltas.
	GetCashBalance(ctx context.Context, accountID string) (decimal.Decimal, error)

	// GetCashLedger returns all cash ledger entries, oldest first.
	GetCashLedger(ctx context.Context, accountID string) ([]model.CashLedgerEntry, error)

	// InitStartingCash atomically records the initial deposit and the
	// starting_equity setting. Returns ErrAlreadyInitialized if the
	// account already has one.
	InitStartingCash(ctx context.Context, entry model.CashLedgerEntry) error

	// --- Equity snapshots ---

	// UpsertEquitySnapshot inserts or overwrites the snapshot for
	// (account, date). Idempotent: repeated upserts for the same date
	// converge on the last value.
	UpsertEquitySnapshot(ctx context.Context, snap *model.EquitySnapshot) error

	// GetEquityHistory returns all snapshots for an account, oldest first.
	GetEquityHistory(ctx context.Context, accountID string) ([]model.EquitySnapshot, error)

	// --- Settings ---

	// GetSetting returns a per-account setting value or ErrNotFound.
	GetSetting(ctx context.Context, accountID, key string) (string, error)
}
