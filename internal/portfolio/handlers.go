package portfolio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/store"
	"github.com/papertrade/portfolio-engine/internal/ticker"
)

// Routes mounts the account API on r.
func (s *Service) Routes(r chi.Router) {
	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Post("/trades", s.handleCreateTrade)
		r.Get("/trades", s.handleListTrades)
		r.Post("/process", s.handleProcess)
		r.Get("/portfolio", s.handlePortfolio)
		r.Get("/equity-history", s.handleEquityHistory)
		r.Get("/cash", s.handleGetCash)
		r.Post("/cash", s.handleSetCash)
	})
}

func (s *Service) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.AccountID = chi.URLParam(r, "accountID")

	result, err := s.PlaceTrade(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Service) handleListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.TradeLog(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

type processRequest struct {
	Force        bool           `json:"force"`
	ManualTrades []TradeRequest `json:"manual_trades,omitempty"`
}

func (s *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := s.RunEndOfDay(r.Context(), chi.URLParam(r, "accountID"), req.Force, req.ManualTrades)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.Portfolio(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Service) handleEquityHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.EquityHistory(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Service) handleGetCash(w http.ResponseWriter, r *http.Request) {
	balance, err := s.CashBalance(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"cash": balance})
}

type setCashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Service) handleSetCash(w http.ResponseWriter, r *http.Request) {
	var req setCashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accountID := chi.URLParam(r, "accountID")
	if err := s.SetStartingCash(r.Context(), accountID, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

// writeServiceError maps domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ticker.ErrInvalidTicker),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrPriceOutOfRange),
		errors.Is(err, ErrMarketClosed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientCash),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrUnknownTicker):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, "starting cash already set")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
