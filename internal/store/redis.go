package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// the hot read paths (positions, cash balance, equity history). Writes go
// to the primary store and invalidate the affected account keys.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary first, then invalidate) ---

func (s *CachedStore) ApplyTrade(ctx context.Context, mut TradeMutation) error {
	if err := s.primary.ApplyTrade(ctx, mut); err != nil {
		return err
	}
	account := mut.Trade.AccountID
	s.rdb.Del(ctx, positionsKey(account), cashKey(account))
	return nil
}

func (s *CachedStore) InitStartingCash(ctx context.Context, entry model.CashLedgerEntry) error {
	if err := s.primary.InitStartingCash(ctx, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, cashKey(entry.AccountID))
	return nil
}

func (s *CachedStore) UpsertEquitySnapshot(ctx context.Context, snap *model.EquitySnapshot) error {
	if err := s.primary.UpsertEquitySnapshot(ctx, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, equityKey(snap.AccountID))
	return nil
}

// --- Reads (cache first) ---

func (s *CachedStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) GetCashBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	raw, err := s.rdb.Get(ctx, cashKey(accountID)).Result()
	if err == nil {
		if balance, perr := decimal.NewFromString(raw); perr == nil {
			return balance, nil
		}
	}

	balance, err := s.primary.GetCashBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	s.rdb.Set(ctx, cashKey(accountID), balance.String(), s.ttl)
	return balance, nil
}

func (s *CachedStore) GetEquityHistory(ctx context.Context, accountID string) ([]model.EquitySnapshot, error) {
	data, err := s.rdb.Get(ctx, equityKey(accountID)).Bytes()
	if err == nil {
		var snaps []model.EquitySnapshot
		if json.Unmarshal(data, &snaps) == nil {
			return snaps, nil
		}
	}

	snaps, err := s.primary.GetEquityHistory(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(snaps); err == nil {
		s.rdb.Set(ctx, equityKey(accountID), data, s.ttl)
	}
	return snaps, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, accountID, symbol)
}

func (s *CachedStore) GetTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.primary.GetTrades(ctx, accountID)
}

func (s *CachedStore) GetCashLedger(ctx context.Context, accountID string) ([]model.CashLedgerEntry, error) {
	return s.primary.GetCashLedger(ctx, accountID)
}

func (s *CachedStore) GetSetting(ctx context.Context, accountID, key string) (string, error) {
	return s.primary.GetSetting(ctx, accountID, key)
}

// --- Key helpers ---

func positionsKey(account string) string { return fmt.Sprintf("positions:%s", account) }
func cashKey(account string) string      { return fmt.Sprintf("cash:%s", account) }
func equityKey(account string) string    { return fmt.Sprintf("equity:%s", account) }
