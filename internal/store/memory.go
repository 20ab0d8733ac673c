package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]map[string]*model.Position // account → ticker → position
	trades    []model.Trade
	cash      []model.CashLedgerEntry
	snapshots map[string]map[string]*model.EquitySnapshot // account → date → snapshot
	settings  map[string]map[string]string                // account → key → value
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]map[string]*model.Position),
		snapshots: make(map[string]map[string]*model.EquitySnapshot),
		settings:  make(map[string]map[string]string),
	}
}

func (s *MemoryStore) GetPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions[accountID] {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })
	return positions, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, accountID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[accountID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, mut TradeMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, mut.Trade)
	s.cash = append(s.cash, mut.Cash)

	account := mut.Trade.AccountID
	switch {
	case mut.Position != nil:
		if s.positions[account] == nil {
			s.positions[account] = make(map[string]*model.Position)
		}
		cp := *mut.Position
		s.positions[account][cp.Ticker] = &cp
	case mut.DeleteTicker != "":
		delete(s.positions[account], mut.DeleteTicker)
	}
	return nil
}

func (s *MemoryStore) GetTrades(_ context.Context, accountID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.Trade
	for _, t := range s.trades {
		if t.AccountID == accountID {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

func (s *MemoryStore) GetCashBalance(_ context.Context, accountID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := decimal.Zero
	for _, e := range s.cash {
		if e.AccountID == accountID {
			balance = balance.Add(e.Delta)
		}
	}
	return balance, nil
}

func (s *MemoryStore) GetCashLedger(_ context.Context, accountID string) ([]model.CashLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.CashLedgerEntry
	for _, e := range s.cash {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *MemoryStore) InitStartingCash(_ context.Context, entry model.CashLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settings[entry.AccountID][model.SettingStartingEquity]; ok {
		return ErrAlreadyInitialized
	}
	if s.settings[entry.AccountID] == nil {
		s.settings[entry.AccountID] = make(map[string]string)
	}
	s.settings[entry.AccountID][model.SettingStartingEquity] = entry.Delta.String()
	s.cash = append(s.cash, entry)
	return nil
}

func (s *MemoryStore) UpsertEquitySnapshot(_ context.Context, snap *model.EquitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshots[snap.AccountID] == nil {
		s.snapshots[snap.AccountID] = make(map[string]*model.EquitySnapshot)
	}
	cp := *snap
	s.snapshots[snap.AccountID][snap.Date.Format(model.DateFormat)] = &cp
	return nil
}

func (s *MemoryStore) GetEquityHistory(_ context.Context, accountID string) ([]model.EquitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snaps []model.EquitySnapshot
	for _, snap := range s.snapshots[accountID] {
		snaps = append(snaps, *snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Date.Before(snaps[j].Date) })
	return snaps, nil
}

func (s *MemoryStore) GetSetting(_ context.Context, accountID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.settings[accountID][key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}
