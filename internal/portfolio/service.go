// Package portfolio implements the core ledger engine: trade recording,
// position bookkeeping, and end-of-day processing.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Current state (positions, cash) is always a projection over the
// immutable trade and cash ledgers.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/calendar"
	"github.com/papertrade/portfolio-engine/internal/events"
	"github.com/papertrade/portfolio-engine/internal/marketdata"
	"github.com/papertrade/portfolio-engine/internal/metrics"
	"github.com/papertrade/portfolio-engine/internal/model"
	"github.com/papertrade/portfolio-engine/internal/store"
	"github.com/papertrade/portfolio-engine/internal/ticker"
)

// maxStartingCash bounds the one-time initial deposit.
var maxStartingCash = decimal.NewFromInt(100000)

// Service executes trades and end-of-day runs against the ledger store.
// A mutex serializes mutations in-process (single-instance); cross-process
// safety comes from the store's transactions and upsert keys.
type Service struct {
	store     store.Store
	resolver  *marketdata.Resolver
	cal       *calendar.Calendar
	emitter   *events.Emitter
	benchmark string
	mu        sync.Mutex
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBenchmark sets the ticker whose close is recorded as the snapshot's
// benchmark equity.
func WithBenchmark(symbol string) Option {
	return func(s *Service) { s.benchmark = symbol }
}

// WithClock overrides the wall clock; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a portfolio service. Pass a nil emitter if event
// broadcasting is not needed.
func NewService(st store.Store, resolver *marketdata.Resolver, cal *calendar.Calendar, emitter *events.Emitter, opts ...Option) *Service {
	s := &Service{
		store:    st,
		resolver: resolver,
		cal:      cal,
		emitter:  emitter,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TradeRequest is one BUY or SELL order.
type TradeRequest struct {
	AccountID string           `json:"account_id"`
	Ticker    string           `json:"ticker"`
	Side      string           `json:"side"`
	Shares    decimal.Decimal  `json:"shares"`
	Price     decimal.Decimal  `json:"price"`
	StopLoss  *decimal.Decimal `json:"stop_loss,omitempty"` // BUY only
	Reason    string           `json:"reason,omitempty"`
}

// TradeResult reports a journaled trade and the resulting cash balance.
type TradeResult struct {
	TradeID     string          `json:"trade_id"`
	CashBalance decimal.Decimal `json:"cash_balance"`
}

// PlaceTrade validates and journals one manual trade. Validation order:
// ticker format, quantities, same-day price range (skipped when the range
// is unresolvable), then cash or share sufficiency. The journal write is
// a single atomic unit: trade row + cash delta + position change.
func (s *Service) PlaceTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	symbol, err := ticker.Normalize(req.Ticker)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_ticker").Inc()
		return nil, err
	}

	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	if !req.Shares.IsPositive() {
		return nil, fmt.Errorf("%w: shares must be positive", ErrValidation)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if req.Side == model.SideSell && req.StopLoss != nil {
		return nil, fmt.Errorf("%w: a SELL may not set a stop loss", ErrValidation)
	}

	// Same-day sanity check, outside any transaction. Skipped rather than
	// blocking when no genuine intraday range resolves.
	today := s.todayEastern()
	quote := s.resolver.ResolveClose(ctx, symbol, today, marketdata.ModeRegular, nil)
	if quote.Source == marketdata.SourceClose && quote.HasRange {
		if req.Price.LessThan(quote.Low) || req.Price.GreaterThan(quote.High) {
			metrics.TradeRejections.WithLabelValues("price_out_of_range").Inc()
			return nil, fmt.Errorf("%w: %s at %s, today's range %s-%s",
				ErrPriceOutOfRange, symbol, req.Price, quote.Low, quote.High)
		}
	}

	reason := req.Reason
	if req.Side == model.SideBuy {
		if reason == "" {
			reason = "New position"
		}
		reason = "MANUAL BUY - " + reason
	} else {
		if reason == "" {
			reason = "No reason provided"
		}
		reason = "MANUAL SELL - " + reason
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execute(ctx, req.AccountID, symbol, req.Side, req.Shares, req.Price, req.StopLoss, reason)
}

// execute journals one validated trade atomically. Caller holds s.mu.
func (s *Service) execute(ctx context.Context, accountID, symbol, side string, shares, price decimal.Decimal, stopLoss *decimal.Decimal, reason string) (*TradeResult, error) {
	now := s.now().UTC()
	amount := price.Mul(shares)

	mut := store.TradeMutation{
		Trade: model.Trade{
			ID:        uuid.New().String(),
			AccountID: accountID,
			Ticker:    symbol,
			Side:      side,
			Shares:    shares,
			Price:     price,
			Fees:      decimal.Zero,
			Slippage:  decimal.Zero,
			Reason:    reason,
			CreatedAt: now,
		},
	}

	if side == model.SideBuy {
		balance, err := s.store.GetCashBalance(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(balance) {
			metrics.TradeRejections.WithLabelValues("insufficient_cash").Inc()
			return nil, fmt.Errorf("%w: cost %s exceeds balance %s", ErrInsufficientCash, amount, balance)
		}

		pos := model.Position{
			AccountID: accountID,
			Ticker:    symbol,
			Shares:    shares,
			AvgPrice:  price,
			StopLoss:  stopLoss,
			UpdatedAt: now,
		}
		if existing, err := s.store.GetPosition(ctx, accountID, symbol); err == nil {
			newShares := existing.Shares.Add(shares)
			// Weighted-average cost: sells never touch this, only buys.
			pos.Shares = newShares
			pos.AvgPrice = existing.AvgPrice.Mul(existing.Shares).Add(amount).Div(newShares)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		mut.Position = &pos
		mut.Cash = s.cashEntry(accountID, amount.Neg(), mut.Trade.ID, now)
	} else {
		existing, err := s.store.GetPosition(ctx, accountID, symbol)
		if errors.Is(err, store.ErrNotFound) {
			metrics.TradeRejections.WithLabelValues("unknown_ticker").Inc()
			return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, symbol)
		}
		if err != nil {
			return nil, err
		}
		if shares.GreaterThan(existing.Shares) {
			metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
			return nil, fmt.Errorf("%w: selling %s but own %s", ErrInsufficientShares, shares, existing.Shares)
		}

		remaining := existing.Shares.Sub(shares)
		if remaining.IsPositive() {
			pos := *existing
			pos.Shares = remaining
			pos.UpdatedAt = now
			mut.Position = &pos
		} else {
			// Fully closed: no zero-share rows persist.
			mut.DeleteTicker = symbol
		}
		mut.Cash = s.cashEntry(accountID, amount, mut.Trade.ID, now)
	}

	if err := s.store.ApplyTrade(ctx, mut); err != nil {
		return nil, fmt.Errorf("apply trade: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	slog.Info("trade executed",
		"trade_id", mut.Trade.ID,
		"account", accountID,
		"ticker", symbol,
		"side", side,
		"shares", shares.String(),
		"price", price.String(),
		"reason", reason,
	)

	balance, err := s.store.GetCashBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, accountID, events.TradeExecuted{
		Type:      events.TypeTradeExecuted,
		AccountID: accountID,
		TradeID:   mut.Trade.ID,
		Ticker:    symbol,
		Side:      side,
		Shares:    shares.String(),
		Price:     price.String(),
		Reason:    reason,
	})

	return &TradeResult{TradeID: mut.Trade.ID, CashBalance: balance}, nil
}

func (s *Service) cashEntry(accountID string, delta decimal.Decimal, tradeID string, now time.Time) model.CashLedgerEntry {
	return model.CashLedgerEntry{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Delta:      delta,
		Kind:       model.CashKindTradePnL,
		RefTradeID: tradeID,
		CreatedAt:  now,
	}
}

// SetStartingCash records the account's one-time initial deposit.
// Rejects amounts outside [0, 100000] and accounts already initialized.
func (s *Service) SetStartingCash(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.GreaterThan(maxStartingCash) {
		return fmt.Errorf("%w: starting cash must be between 0 and %s", ErrValidation, maxStartingCash)
	}
	entry := model.CashLedgerEntry{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Delta:     amount,
		Kind:      model.CashKindDeposit,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InitStartingCash(ctx, entry); err != nil {
		return err
	}
	slog.Info("starting cash set", "account", accountID, "amount", amount.String())
	return nil
}

// PortfolioView is the current derived state of one account.
type PortfolioView struct {
	Positions       []model.Position `json:"positions"`
	Cash            decimal.Decimal  `json:"cash"`
	StartingCapital *decimal.Decimal `json:"starting_capital,omitempty"`
	DeployedCapital decimal.Decimal  `json:"deployed_capital"`
	TotalEquity     decimal.Decimal  `json:"total_equity"`
}

// Portfolio returns positions, cash, and cost-basis totals. TotalEquity
// here is cash + cost basis; mark-to-market equity comes from end-of-day
// snapshots.
func (s *Service) Portfolio(ctx context.Context, accountID string) (*PortfolioView, error) {
	positions, err := s.store.GetPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cash, err := s.store.GetCashBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	deployed := decimal.Zero
	for _, p := range positions {
		deployed = deployed.Add(p.CostBasis())
	}

	view := &PortfolioView{
		Positions:       positions,
		Cash:            cash,
		DeployedCapital: deployed,
		TotalEquity:     cash.Add(deployed),
	}
	if raw, err := s.store.GetSetting(ctx, accountID, model.SettingStartingEquity); err == nil {
		if starting, perr := decimal.NewFromString(raw); perr == nil {
			view.StartingCapital = &starting
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return view, nil
}

// Positions returns all open positions.
func (s *Service) Positions(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.store.GetPositions(ctx, accountID)
}

// CashBalance returns the ledger-summed cash balance.
func (s *Service) CashBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return s.store.GetCashBalance(ctx, accountID)
}

// TradeLog returns the full trade journal, oldest first.
func (s *Service) TradeLog(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.store.GetTrades(ctx, accountID)
}

// EquityHistory returns all equity snapshots, oldest first.
func (s *Service) EquityHistory(ctx context.Context, accountID string) ([]model.EquitySnapshot, error) {
	return s.store.GetEquityHistory(ctx, accountID)
}

// todayEastern returns today's civil date as observed on the exchange.
func (s *Service) todayEastern() time.Time {
	et := s.now().In(calendar.Eastern)
	y, m, d := et.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
