package portfolio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/calendar"
	"github.com/papertrade/portfolio-engine/internal/marketdata"
	"github.com/papertrade/portfolio-engine/internal/model"
	"github.com/papertrade/portfolio-engine/internal/portfolio"
)

// Saturday 2024-03-16, 17:00 ET.
var saturdayAfternoon = time.Date(2024, 3, 16, 17, 0, 0, 0, calendar.Eastern)

func findReport(t *testing.T, res *portfolio.EODResult, symbol string) portfolio.PositionReport {
	t.Helper()
	for _, p := range res.Positions {
		if p.Ticker == symbol {
			return p
		}
	}
	t.Fatalf("no report row for %s", symbol)
	return portfolio.PositionReport{}
}

func TestRunEndOfDay_GateRejectsWeekend(t *testing.T) {
	svc, _ := newTestEnv(t, saturdayAfternoon, noSources())
	seedCash(t, svc, "acct1", 10000)

	_, err := svc.RunEndOfDay(context.Background(), "acct1", false, nil)
	if !errors.Is(err, portfolio.ErrMarketClosed) {
		t.Fatalf("got %v, want ErrMarketClosed", err)
	}
	if history, _ := svc.EquityHistory(context.Background(), "acct1"); len(history) != 0 {
		t.Errorf("rejected run wrote %d snapshots", len(history))
	}
}

func TestRunEndOfDay_GateRejectsBeforeCutoff(t *testing.T) {
	noon := time.Date(2024, 3, 13, 12, 0, 0, 0, calendar.Eastern)
	svc, _ := newTestEnv(t, noon, noSources())
	seedCash(t, svc, "acct1", 10000)

	_, err := svc.RunEndOfDay(context.Background(), "acct1", false, nil)
	if !errors.Is(err, portfolio.ErrMarketClosed) {
		t.Fatalf("got %v, want ErrMarketClosed", err)
	}
}

func TestRunEndOfDay_HoldsAndSnapshot(t *testing.T) {
	// Close 60 for every symbol on the run date.
	svc, _ := newTestEnv(t, tradingAfternoon, barSource(bar(2024, 3, 13, 58, 62, 57, 60)))
	seedCash(t, svc, "acct1", 10000)
	ctx := context.Background()

	if _, err := svc.PlaceTrade(ctx, portfolio.TradeRequest{
		AccountID: "acct1", Ticker: "AAPL", Side: "BUY", Shares: d(10), Price: d(58),
	}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	res, err := svc.RunEndOfDay(ctx, "acct1", false, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.Date != "2024-03-13" {
		t.Errorf("run date = %s, want 2024-03-13", res.Date)
	}
	rep := findReport(t, res, "AAPL")
	if rep.Action != portfolio.ActionHold {
		t.Errorf("action = %s, want HOLD", rep.Action)
	}
	if rep.Source != marketdata.SourceClose {
		t.Errorf("source = %s, want close", rep.Source)
	}
	if !rep.Value.Equal(d(600)) {
		t.Errorf("value = %s, want 600", rep.Value)
	}
	if !rep.PnL.Equal(d(20)) {
		t.Errorf("pnl = %s, want 20", rep.PnL)
	}
	// 10000 - 580 cash + 600 position.
	if !res.Totals.TotalEquity.Equal(d(10020)) {
		t.Errorf("total equity = %s, want 10020", res.Totals.TotalEquity)
	}
	if !res.Totals.TotalPnL.Equal(d(20)) {
		t.Errorf("total pnl = %s, want 20", res.Totals.TotalPnL)
	}

	history, _ := svc.EquityHistory(ctx, "acct1")
	if len(history) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(history))
	}
	snap := history[0]
	if !snap.IsFinal || snap.ProcessType != model.ProcessRegular {
		t.Errorf("snapshot flags = final:%v type:%s, want final regular", snap.IsFinal, snap.ProcessType)
	}
	if !snap.PortfolioEquity.Equal(d(10020)) {
		t.Errorf("snapshot equity = %s, want 10020", snap.PortfolioEquity)
	}
}

func TestRunEndOfDay_StopLossSweep(t *testing.T) {
	// Day low 8 breaches a stop at 9; close is back at 10.
	svc, _ := newTestEnv(t, tradingAfternoon, barSource(bar(2024, 3, 13, 10, 10.5, 8, 10)))
	seedCash(t, svc, "acct1", 10000)
	ctx := context.Background()

	stop := d(9)
	if _, err := svc.PlaceTrade(ctx, portfolio.TradeRequest{
		AccountID: "acct1", Ticker: "AAPL", Side: "BUY", Shares: d(100), Price: d(10), StopLoss: &stop,
	}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	res, err := svc.RunEndOfDay(ctx, "acct1", false, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rep := findReport(t, res, "AAPL")
	if rep.Action != portfolio.ActionStopLoss {
		t.Fatalf("action = %s, want stop loss sell", rep.Action)
	}
	if !rep.ClosePrice.Equal(stop) {
		t.Errorf("exit price = %s, want the stop price 9", rep.ClosePrice)
	}
	if !rep.PnL.Equal(d(-100)) {
		t.Errorf("realized pnl = %s, want -100", rep.PnL)
	}

	if pos, _ := svc.Positions(ctx, "acct1"); len(pos) != 0 {
		t.Errorf("position survived the sweep")
	}

	// 10000 - 1000 buy + 900 stop exit, all in cash.
	balance, _ := svc.CashBalance(ctx, "acct1")
	if !balance.Equal(d(9900)) {
		t.Errorf("cash = %s, want 9900", balance)
	}
	if !res.Totals.TotalEquity.Equal(d(9900)) {
		t.Errorf("total equity = %s, want 9900", res.Totals.TotalEquity)
	}

	trades, _ := svc.TradeLog(ctx, "acct1")
	last := trades[len(trades)-1]
	if last.Reason != model.ReasonStopLoss {
		t.Errorf("liquidation reason = %q, want %q", last.Reason, model.ReasonStopLoss)
	}
	if !last.Price.Equal(stop) {
		t.Errorf("liquidation price = %s, want 9", last.Price)
	}
}

func TestRunEndOfDay_StopNotBreachedHolds(t *testing.T) {
	svc, _ := newTestEnv(t, tradingAfternoon, barSource(bar(2024, 3, 13, 10, 11, 9.5, 10.5)))
	seedCash(t, svc, "acct1", 10000)
	ctx := context.Background()

	stop := d(9)
	svc.PlaceTrade(ctx, portfolio.TradeRequest{
		AccountID: "acct1", Ticker: "AAPL", Side: "BUY", Shares: d(10), Price: d(10), StopLoss: &stop,
	})

	res, err := svc.RunEndOfDay(ctx, "acct1", false, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep := findReport(t, res, "AAPL"); rep.Action != portfolio.ActionHold {
		t.Errorf("action = %s, want HOLD", rep.Action)
	}
	if pos, _ := svc.Positions(ctx, "acct1"); len(pos) != 1 {
		t.Errorf("position was liquidated without a breach")
	}
}

func TestRunEndOfDay_FallbackToBuyPrice(t *testing.T) {
	svc, _ := newTestEnv(t, tradingAfternoon, noSources())
	seedCash(t, svc, "acct1", 10000)
	ctx := context.Background()

	svc.PlaceTrade(ctx, portfolio.TradeRequest{
		AccountID: "acct1", Ticker: "OBSCURE", Side: "BUY", Shares: d(10), Price: d(25),
	})

	res, err := svc.RunEndOfDay(ctx, "acct1", false, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rep := findReport(t, res, "OBSCURE")
	if rep.Source != marketdata.SourceFallbackBuy {
		t.Errorf("source = %s, want fallback_buy", rep.Source)
	}
	if rep.Action != portfolio.ActionHold {
		t.Errorf("action = %s, want HOLD", rep.Action)
	}
	if !rep.Value.Equal(d(250)) {
		t.Errorf("value = %s, want cost basis 250", rep.Value)
	}
	// Carried at cost, so equity equals the starting deposit.
	if !res.Totals.TotalEquity.Equal(d(10000)) {
		t.Errorf("total equity = %s, want 10000", res.Totals.TotalEquity)
	}
}

func TestRunEndOfDay_ForceOnWeekendValuesFriday(t *testing.T) {
	// Friday 2024-03-15 close for every symbol.
	svc, _ := newTestEnv(t, saturdayAfternoon, barSource(bar(2024, 3, 15, 49, 51, 48, 50)))
	seedCash(t, svc, "acct1", 10000)
	ctx := context.Background()

	svc.PlaceTrade(ctx, portfolio.TradeRequest{
		AccountID: "acct1", Ticker: "AAPL", Side: "BUY", Shares: d(10), Price: d(49),
	})

	res, err := svc.RunEndOfDay(ctx, "acct1", true, nil)
	if err != nil {
		t.Fatalf("force run failed: %v", err)
	}
	if res.Date != "2024-03-15" {
		t.Errorf("force run date = %s, want previous trading day 2024-03-15", res.Date)
	}
	if rep := findReport(t, res, "AAPL"); rep.Source != marketdata.SourceClose {
		t.Errorf("source = %s, want close", rep.Source)
	}

	history, _ := svc.EquityHistory(ctx, "acct1")
	if len(history) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(history))
	}
	snap := history[0]
	if snap.IsFinal || snap.ProcessType != model.ProcessForce {
		t.Errorf("snapshot flags = final:%v type:%s, want non-final force", snap.IsFinal, snap.ProcessType)
	}
}

func TestRunEndOfDay_RerunOverwritesSnapshot(t *testing.T) {
	svc, _ := newTestEnv(t, tradingAfternoon, barSource(bar(2024, 3, 13, 58, 62, 57, 60)))
	seedCash(t, svc, "acct1", 10000)
	ctx := context.Background()

	if _, err := svc.RunEndOfDay(ctx, "acct1", false, nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Trade between runs so the second snapshot differs.
	svc.PlaceTrade(ctx, portfolio.TradeRequest{
		AccountID: "acct1", Ticker: "AAPL", Side: "BUY", Shares: d(10), Price: d(58),
	})
	if _, err := svc.RunEndOfDay(ctx, "acct1", false, nil); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	history, _ := svc.EquityHistory(ctx, "acct1")
	if len(history) != 1 {
		t.Fatalf("re-run duplicated the snapshot: %d rows", len(history))
	}
	if !history[0].PortfolioEquity.Equal(d(10020)) {
		t.Errorf("snapshot equity = %s, want the latest value 10020", history[0].PortfolioEquity)
	}
}

func TestRunEndOfDay_ManualTradesAppliedFirst(t *testing.T) {
	svc, _ := newTestEnv(t, tradingAfternoon, barSource(bar(2024, 3, 13, 58, 62, 57, 60)))
	seedCash(t, svc, "acct1", 10000)
	ctx := context.Background()

	res, err := svc.RunEndOfDay(ctx, "acct1", false, []portfolio.TradeRequest{
		{Ticker: "AAPL", Side: "BUY", Shares: d(10), Price: d(58)},
		{Ticker: "AAPL", Side: "SELL", Shares: d(999), Price: d(58)}, // rejected, must not abort
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rep := findReport(t, res, "AAPL")
	if !rep.Shares.Equal(d(10)) {
		t.Errorf("queued buy not applied, shares = %s", rep.Shares)
	}
	if !res.Totals.TotalEquity.Equal(d(10020)) {
		t.Errorf("total equity = %s, want 10020", res.Totals.TotalEquity)
	}

	trades, _ := svc.TradeLog(ctx, "acct1")
	if len(trades) != 1 {
		t.Errorf("expected only the valid queued trade journaled, got %d", len(trades))
	}
}

func TestRunEndOfDay_BenchmarkRecorded(t *testing.T) {
	svc, _ := newTestEnv(t, tradingAfternoon,
		barSource(bar(2024, 3, 13, 58, 62, 57, 60)),
		portfolio.WithBenchmark("^RUT"))
	seedCash(t, svc, "acct1", 10000)
	ctx := context.Background()

	if _, err := svc.RunEndOfDay(ctx, "acct1", false, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	history, _ := svc.EquityHistory(ctx, "acct1")
	if len(history) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(history))
	}
	if history[0].BenchmarkEquity == nil || !history[0].BenchmarkEquity.Equal(d(60)) {
		var got decimal.Decimal
		if history[0].BenchmarkEquity != nil {
			got = *history[0].BenchmarkEquity
		}
		t.Errorf("benchmark equity = %s, want 60", got)
	}
}
