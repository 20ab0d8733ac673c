package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/calendar"
	"github.com/papertrade/portfolio-engine/internal/events"
	"github.com/papertrade/portfolio-engine/internal/marketdata"
	"github.com/papertrade/portfolio-engine/internal/metrics"
	"github.com/papertrade/portfolio-engine/internal/model"
)

// Position-row actions in the end-of-day report.
const (
	ActionHold     = "HOLD"
	ActionStopLoss = "SELL - Stop Loss Triggered"
	ActionNoData   = "NO DATA"
)

// PositionReport is one position's line in an end-of-day run.
type PositionReport struct {
	Ticker     string          `json:"ticker"`
	Shares     decimal.Decimal `json:"shares"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	ClosePrice decimal.Decimal `json:"close_price"`
	Value      decimal.Decimal `json:"value"`
	PnL        decimal.Decimal `json:"pnl"`
	Action     string          `json:"action"`
	Source     string          `json:"source"`
}

// Totals aggregates one end-of-day run.
type Totals struct {
	Cash            decimal.Decimal `json:"cash"`
	PositionsValue  decimal.Decimal `json:"positions_value"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	TotalEquity     decimal.Decimal `json:"total_equity"`
	BenchmarkEquity *string         `json:"benchmark_equity,omitempty"`
}

// EODResult reports a completed end-of-day run.
type EODResult struct {
	Date      string           `json:"date"`
	Forced    bool             `json:"forced"`
	Positions []PositionReport `json:"positions"`
	Totals    Totals           `json:"totals"`
}

// RunEndOfDay performs one end-of-day cycle for an account: applies any
// queued manual trades, sweeps stop losses against resolved closes, and
// commits an equity snapshot keyed by (account, date). Re-running for the
// same date overwrites the prior snapshot rather than duplicating it.
//
// In regular mode the run is gated to trading days after the close cutoff.
// Force mode bypasses the gate and values positions as of the most recent
// completed trading day; the snapshot it writes is marked non-final.
func (s *Service) RunEndOfDay(ctx context.Context, accountID string, force bool, manualTrades []TradeRequest) (*EODResult, error) {
	start := s.now()
	mode := "regular"
	if force {
		mode = "force"
	}

	asOf, err := s.gateCheck(force)
	if err != nil {
		metrics.EndOfDayRuns.WithLabelValues(mode, "rejected").Inc()
		return nil, err
	}

	// Manual queue first, before valuation. A bad queued trade is logged
	// and skipped; it never aborts the run.
	for _, req := range manualTrades {
		req.AccountID = accountID
		if _, err := s.PlaceTrade(ctx, req); err != nil {
			slog.Warn("queued trade rejected during end-of-day",
				"account", accountID, "ticker", req.Ticker, "side", req.Side, "error", err)
		}
	}

	positions, err := s.store.GetPositions(ctx, accountID)
	if err != nil {
		metrics.EndOfDayRuns.WithLabelValues(mode, "error").Inc()
		return nil, err
	}

	resolveMode := marketdata.ModeRegular
	if force {
		resolveMode = marketdata.ModeForce
	}

	result := &EODResult{
		Date:      asOf.Format(model.DateFormat),
		Forced:    force,
		Positions: make([]PositionReport, 0, len(positions)),
	}
	positionsValue := decimal.Zero
	totalPnL := decimal.Zero

	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			metrics.EndOfDayRuns.WithLabelValues(mode, "error").Inc()
			return nil, err
		}

		avg := pos.AvgPrice
		quote := s.resolver.ResolveClose(ctx, pos.Ticker, asOf, resolveMode, &avg)

		report := PositionReport{
			Ticker:     pos.Ticker,
			Shares:     pos.Shares,
			AvgPrice:   pos.AvgPrice,
			ClosePrice: quote.Price,
			Value:      quote.Price.Mul(pos.Shares),
			Action:     ActionHold,
			Source:     quote.Source,
		}
		report.PnL = report.Value.Sub(pos.CostBasis())

		if quote.Source == marketdata.SourceFallbackZero {
			// Nothing resolvable anywhere. Hold the position untouched and
			// carry it at zero so the failure is visible in the history.
			report.Action = ActionNoData
			report.ClosePrice = decimal.Zero
			report.Value = decimal.Zero
			report.PnL = decimal.Zero
			result.Positions = append(result.Positions, report)
			continue
		}

		if pos.StopLoss != nil && quote.Low.LessThanOrEqual(*pos.StopLoss) {
			// Exit at the stop price itself, not the close. Proceeds land
			// in cash, so the liquidated value is excluded from totals.
			stop := *pos.StopLoss
			s.mu.Lock()
			_, sellErr := s.execute(ctx, accountID, pos.Ticker, model.SideSell, pos.Shares, stop, nil, model.ReasonStopLoss)
			s.mu.Unlock()
			if sellErr != nil {
				slog.Error("stop loss liquidation failed",
					"account", accountID, "ticker", pos.Ticker, "error", sellErr)
			} else {
				metrics.StopLossLiquidations.Inc()
				report.Action = ActionStopLoss
				report.ClosePrice = stop
				report.Value = decimal.Zero
				// Realized against the average cost; proceeds are in cash.
				report.PnL = stop.Sub(pos.AvgPrice).Mul(pos.Shares)
				totalPnL = totalPnL.Add(report.PnL)
				result.Positions = append(result.Positions, report)
				continue
			}
		}

		positionsValue = positionsValue.Add(report.Value)
		totalPnL = totalPnL.Add(report.PnL)
		result.Positions = append(result.Positions, report)
	}

	cash, err := s.store.GetCashBalance(ctx, accountID)
	if err != nil {
		metrics.EndOfDayRuns.WithLabelValues(mode, "error").Inc()
		return nil, err
	}
	totalEquity := cash.Add(positionsValue)

	snapshot := model.EquitySnapshot{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		Date:            asOf,
		PortfolioEquity: totalEquity,
		ProcessType:     model.ProcessRegular,
		IsFinal:         !force,
	}
	if force {
		snapshot.ProcessType = model.ProcessForce
	}

	if s.benchmark != "" {
		bq := s.resolver.ResolveClose(ctx, s.benchmark, asOf, resolveMode, nil)
		if !bq.Degraded() {
			bench := bq.Price
			snapshot.BenchmarkEquity = &bench
			benchStr := bench.String()
			result.Totals.BenchmarkEquity = &benchStr
		}
	}

	if err := s.store.UpsertEquitySnapshot(ctx, &snapshot); err != nil {
		metrics.EndOfDayRuns.WithLabelValues(mode, "error").Inc()
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}

	result.Totals.Cash = cash
	result.Totals.PositionsValue = positionsValue
	result.Totals.TotalPnL = totalPnL
	result.Totals.TotalEquity = totalEquity

	metrics.EndOfDayRuns.WithLabelValues(mode, "ok").Inc()
	metrics.EndOfDayDuration.Observe(s.now().Sub(start).Seconds())
	slog.Info("end-of-day complete",
		"account", accountID,
		"date", result.Date,
		"forced", force,
		"positions", len(result.Positions),
		"equity", totalEquity.String(),
	)

	s.emitter.Emit(ctx, accountID, events.SnapshotCommitted{
		Type:      events.TypeSnapshotCommitted,
		AccountID: accountID,
		Date:      result.Date,
		Equity:    totalEquity.String(),
		Forced:    force,
	})

	return result, nil
}

// gateCheck decides whether a run may proceed and which date it values.
// Regular runs require a trading day past the cutoff and value today.
// Force runs always proceed and value the most recent completed trading
// day (today when it is a trading day, otherwise the previous one).
func (s *Service) gateCheck(force bool) (time.Time, error) {
	nowET := s.now().In(calendar.Eastern)
	today := time.Date(nowET.Year(), nowET.Month(), nowET.Day(), 0, 0, 0, 0, time.UTC)

	if force {
		asOf := today
		if !s.cal.IsTradingDay(today) {
			asOf = s.cal.PreviousTradingDay(today)
		}
		slog.Warn("end-of-day gate bypassed", "as_of", asOf.Format(model.DateFormat))
		return asOf, nil
	}

	if !s.cal.IsTradingDay(today) {
		next := s.cal.NextTradingDay(today)
		return time.Time{}, fmt.Errorf("%w: %s is not a trading day, next window opens %s %02d:%02d ET",
			ErrMarketClosed, today.Format(model.DateFormat), next.Format(model.DateFormat),
			calendar.CutoffHour, calendar.CutoffMinute)
	}
	if !s.cal.IsPastCutoff(nowET) {
		return time.Time{}, fmt.Errorf("%w: market day in progress, processing opens at %02d:%02d ET",
			ErrMarketClosed, calendar.CutoffHour, calendar.CutoffMinute)
	}
	return today, nil
}
