package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
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

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SeedAssets(ctx context.Context, entries []model.Asset) error {
	return s.primary.SeedAssets(ctx, entries)
}

func (s *CachedStore) UpdateAssetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	if err := s.primary.UpdateAssetPrice(ctx, symbol, price); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, assetKey(symbol))
	return nil
}

func (s *CachedStore) CreateUser(ctx context.Context, username string) (*model.UserAccount, error) {
	return s.primary.CreateUser(ctx, username)
}

func (s *CachedStore) UpdateUserBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	if err := s.primary.UpdateUserBalance(ctx, id, balance); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(id))
	return nil
}

func (s *CachedStore) ResetAccount(ctx context.Context, id int64) error {
	if err := s.primary.ResetAccount(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(id))
	return nil
}

func (s *CachedStore) CommitTrade(ctx context.Context, m *model.TradeMutation) (int64, error) {
	id, err := s.primary.CommitTrade(ctx, m)
	if err != nil {
		return 0, err
	}
	s.rdb.Del(ctx, userKey(m.UserID))
	return id, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAssetBySymbol(ctx context.Context, symbol string) (*model.Asset, error) {
	data, err := s.rdb.Get(ctx, assetKey(symbol)).Bytes()
	if err == nil {
		var a model.Asset
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAssetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, assetKey(symbol), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) GetUser(ctx context.Context, id int64) (*model.UserAccount, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.UserAccount
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(u); err == nil {
		s.rdb.Set(ctx, userKey(id), data, s.ttl)
	}
	return u, nil
}

// --- Passthrough (not cached) ---

// Holdings and transactions back trade decisions; they are always read
// from the primary so the ledger never acts on a stale row.

func (s *CachedStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	return s.primary.ListAssets(ctx)
}

func (s *CachedStore) GetUserByUsername(ctx context.Context, username string) (*model.UserAccount, error) {
	return s.primary.GetUserByUsername(ctx, username)
}

func (s *CachedStore) GetHolding(ctx context.Context, userID, assetID int64) (decimal.Decimal, error) {
	return s.primary.GetHolding(ctx, userID, assetID)
}

func (s *CachedStore) GetHoldingsByUser(ctx context.Context, userID int64) ([]model.Holding, error) {
	return s.primary.GetHoldingsByUser(ctx, userID)
}

func (s *CachedStore) GetTransactionsPage(ctx context.Context, userID int64, limit, offset int) ([]model.TransactionHistoryEntry, error) {
	return s.primary.GetTransactionsPage(ctx, userID, limit, offset)
}

func (s *CachedStore) CountTransactions(ctx context.Context, userID int64) (int, error) {
	return s.primary.CountTransactions(ctx, userID)
}

// --- Cache keys ---

func assetKey(symbol string) string { return fmt.Sprintf("asset:%s", symbol) }
func userKey(id int64) string       { return fmt.Sprintf("user:%d", id) }
