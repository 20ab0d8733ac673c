// Package model defines the core domain types shared across the portfolio
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Cash ledger entry kinds.
const (
	CashKindDeposit  = "DEPOSIT"
	CashKindTradePnL = "TRADE_PNL"
)

// End-of-day process types.
const (
	ProcessRegular = "regular"
	ProcessForce   = "force"
)

// ReasonStopLoss is the audit-trail reason recorded on automatic stop-loss
// liquidations. The exact string is part of the trade log contract.
const ReasonStopLoss = "AUTOMATED SELL - STOPLOSS TRIGGERED"

// CashLedgerEntry is an immutable signed cash movement. The account's cash
// balance is always the sum of its deltas; no balance field is ever stored
// or mutated directly.
type CashLedgerEntry struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Delta      decimal.Decimal `json:"delta" db:"delta"`
	Kind       string          `json:"kind" db:"kind"` // DEPOSIT or TRADE_PNL
	RefTradeID string          `json:"ref_trade_id,omitempty" db:"ref_trade_id"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Position is the current holding of one ticker for one account.
// AvgPrice is the weighted-average cost, recomputed on every BUY; sells
// never change it. A position with zero shares is deleted, never persisted.
type Position struct {
	AccountID string           `json:"account_id" db:"account_id"`
	Ticker    string           `json:"ticker" db:"ticker"`
	Shares    decimal.Decimal  `json:"shares" db:"shares"`
	AvgPrice  decimal.Decimal  `json:"avg_price" db:"avg_price"`
	StopLoss  *decimal.Decimal `json:"stop_loss,omitempty" db:"stop_loss"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// CostBasis returns shares * avg_price.
func (p Position) CostBasis() decimal.Decimal {
	return p.Shares.Mul(p.AvgPrice)
}

// Trade is an immutable journal record of one executed BUY or SELL.
// Once written, trades are never modified or deleted.
type Trade struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Side      string          `json:"side" db:"side"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Fees      decimal.Decimal `json:"fees" db:"fees"`
	Slippage  decimal.Decimal `json:"slippage" db:"slippage"`
	Reason    string          `json:"reason" db:"reason"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// EquitySnapshot is one dated record of total portfolio value for an
// account. Unique on (account, date): re-running end-of-day for the same
// day overwrites the prior value instead of duplicating it. Snapshots are
// derived facts — they can always be rebuilt from the trade and cash
// ledgers plus historical prices.
type EquitySnapshot struct {
	ID              string           `json:"id" db:"id"`
	AccountID       string           `json:"account_id" db:"account_id"`
	Date            time.Time        `json:"date" db:"date"` // calendar date, midnight UTC
	PortfolioEquity decimal.Decimal  `json:"portfolio_equity" db:"portfolio_equity"`
	BenchmarkEquity *decimal.Decimal `json:"benchmark_equity,omitempty" db:"benchmark_equity"`
	ProcessType     string           `json:"process_type" db:"process_type"` // regular or force
	IsFinal         bool             `json:"is_final" db:"is_final"`
}

// SettingStartingEquity marks the account's one-time initial deposit.
const SettingStartingEquity = "starting_equity"

// DateFormat is the wire format for calendar dates.
const DateFormat = "2006-01-02"

// DateOf truncates t to its calendar date at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
