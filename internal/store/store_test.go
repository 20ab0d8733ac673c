package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
	"github.com/papertrade/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// forEachStore runs fn against every embeddable backend.
func forEachStore(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		fn(t, st)
	})
}

func deposit(account string, amount float64) model.CashLedgerEntry {
	return model.CashLedgerEntry{
		ID:        uuid.New().String(),
		AccountID: account,
		Delta:     d(amount),
		Kind:      model.CashKindDeposit,
		CreatedAt: time.Now().UTC(),
	}
}

func buyMutation(account, ticker string, shares, price float64, at time.Time) store.TradeMutation {
	tradeID := uuid.New().String()
	return store.TradeMutation{
		Trade: model.Trade{
			ID: tradeID, AccountID: account, Ticker: ticker, Side: model.SideBuy,
			Shares: d(shares), Price: d(price),
			Fees: decimal.Zero, Slippage: decimal.Zero,
			Reason: "MANUAL BUY - New position", CreatedAt: at,
		},
		Cash: model.CashLedgerEntry{
			ID: uuid.New().String(), AccountID: account,
			Delta: d(-shares * price), Kind: model.CashKindTradePnL,
			RefTradeID: tradeID, CreatedAt: at,
		},
		Position: &model.Position{
			AccountID: account, Ticker: ticker,
			Shares: d(shares), AvgPrice: d(price), UpdatedAt: at,
		},
	}
}

func TestInitStartingCash(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()

		if err := st.InitStartingCash(ctx, deposit("acct1", 10000)); err != nil {
			t.Fatalf("first init: %v", err)
		}
		if err := st.InitStartingCash(ctx, deposit("acct1", 5000)); !errors.Is(err, store.ErrAlreadyInitialized) {
			t.Errorf("second init: got %v, want ErrAlreadyInitialized", err)
		}

		balance, err := st.GetCashBalance(ctx, "acct1")
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if !balance.Equal(d(10000)) {
			t.Errorf("balance = %s, want 10000 (failed init must not deposit)", balance)
		}

		value, err := st.GetSetting(ctx, "acct1", model.SettingStartingEquity)
		if err != nil {
			t.Fatalf("setting: %v", err)
		}
		if value != "10000" {
			t.Errorf("starting equity setting = %q, want 10000", value)
		}

		if _, err := st.GetSetting(ctx, "acct2", model.SettingStartingEquity); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("missing setting: got %v, want ErrNotFound", err)
		}
	})
}

func TestApplyTrade(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		if err := st.InitStartingCash(ctx, deposit("acct1", 1000)); err != nil {
			t.Fatalf("init: %v", err)
		}
		if err := st.ApplyTrade(ctx, buyMutation("acct1", "AAPL", 10, 50, now)); err != nil {
			t.Fatalf("apply: %v", err)
		}

		pos, err := st.GetPosition(ctx, "acct1", "AAPL")
		if err != nil {
			t.Fatalf("get position: %v", err)
		}
		if !pos.Shares.Equal(d(10)) || !pos.AvgPrice.Equal(d(50)) {
			t.Errorf("position = %s @ %s, want 10 @ 50", pos.Shares, pos.AvgPrice)
		}

		balance, _ := st.GetCashBalance(ctx, "acct1")
		if !balance.Equal(d(500)) {
			t.Errorf("balance = %s, want 500", balance)
		}

		trades, err := st.GetTrades(ctx, "acct1")
		if err != nil || len(trades) != 1 {
			t.Fatalf("trades = %d rows, err %v", len(trades), err)
		}
		if trades[0].Reason != "MANUAL BUY - New position" {
			t.Errorf("reason = %q", trades[0].Reason)
		}

		if _, err := st.GetPosition(ctx, "acct1", "MSFT"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("missing position: got %v, want ErrNotFound", err)
		}
	})
}

func TestApplyTrade_DeleteTicker(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		if err := st.ApplyTrade(ctx, buyMutation("acct1", "AAPL", 10, 50, now)); err != nil {
			t.Fatalf("buy: %v", err)
		}

		tradeID := uuid.New().String()
		sell := store.TradeMutation{
			Trade: model.Trade{
				ID: tradeID, AccountID: "acct1", Ticker: "AAPL", Side: model.SideSell,
				Shares: d(10), Price: d(60),
				Fees: decimal.Zero, Slippage: decimal.Zero,
				Reason: "MANUAL SELL - No reason provided", CreatedAt: now.Add(time.Second),
			},
			Cash: model.CashLedgerEntry{
				ID: uuid.New().String(), AccountID: "acct1",
				Delta: d(600), Kind: model.CashKindTradePnL,
				RefTradeID: tradeID, CreatedAt: now.Add(time.Second),
			},
			DeleteTicker: "AAPL",
		}
		if err := st.ApplyTrade(ctx, sell); err != nil {
			t.Fatalf("sell: %v", err)
		}

		if positions, _ := st.GetPositions(ctx, "acct1"); len(positions) != 0 {
			t.Errorf("expected no positions after full close, got %d", len(positions))
		}
		balance, _ := st.GetCashBalance(ctx, "acct1")
		if !balance.Equal(d(100)) {
			t.Errorf("balance = %s, want 100", balance)
		}
	})
}

func TestUpsertEquitySnapshot(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		day := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)

		first := &model.EquitySnapshot{
			ID: uuid.New().String(), AccountID: "acct1", Date: day,
			PortfolioEquity: d(10000), ProcessType: model.ProcessForce, IsFinal: false,
		}
		if err := st.UpsertEquitySnapshot(ctx, first); err != nil {
			t.Fatalf("first upsert: %v", err)
		}

		bench := d(2050.25)
		second := &model.EquitySnapshot{
			ID: uuid.New().String(), AccountID: "acct1", Date: day,
			PortfolioEquity: d(10100), BenchmarkEquity: &bench,
			ProcessType: model.ProcessRegular, IsFinal: true,
		}
		if err := st.UpsertEquitySnapshot(ctx, second); err != nil {
			t.Fatalf("second upsert: %v", err)
		}

		prior := &model.EquitySnapshot{
			ID: uuid.New().String(), AccountID: "acct1",
			Date:            day.AddDate(0, 0, -1),
			PortfolioEquity: d(9900), ProcessType: model.ProcessRegular, IsFinal: true,
		}
		if err := st.UpsertEquitySnapshot(ctx, prior); err != nil {
			t.Fatalf("prior-day upsert: %v", err)
		}

		history, err := st.GetEquityHistory(ctx, "acct1")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected 2 snapshots (one per date), got %d", len(history))
		}
		if !history[0].Date.Before(history[1].Date) {
			t.Error("history not sorted by date")
		}

		latest := history[1]
		if !latest.PortfolioEquity.Equal(d(10100)) {
			t.Errorf("equity = %s, want the overwritten 10100", latest.PortfolioEquity)
		}
		if latest.BenchmarkEquity == nil || !latest.BenchmarkEquity.Equal(bench) {
			t.Errorf("benchmark = %v, want 2050.25", latest.BenchmarkEquity)
		}
		if !latest.IsFinal || latest.ProcessType != model.ProcessRegular {
			t.Errorf("flags = final:%v type:%s, want final regular", latest.IsFinal, latest.ProcessType)
		}
	})
}
