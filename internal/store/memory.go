package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	assets   map[int64]*model.Asset
	users    map[int64]*model.UserAccount
	holdings map[holdingKey]decimal.Decimal
	txs      []model.Transaction

	nextAssetID int64
	nextUserID  int64
	nextTxID    int64
}

type holdingKey struct {
	userID  int64
	assetID int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:   make(map[int64]*model.Asset),
		users:    make(map[int64]*model.UserAccount),
		holdings: make(map[holdingKey]decimal.Decimal),
	}
}

func (s *MemoryStore) SeedAssets(_ context.Context, entries []model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.assets))
	for _, a := range s.assets {
		existing[a.Symbol] = true
	}

	for _, e := range entries {
		if existing[e.Symbol] {
			continue
		}
		s.nextAssetID++
		a := e
		a.ID = s.nextAssetID
		a.CurrentPrice = decimal.Zero
		a.LastUpdated = time.Now().UTC()
		s.assets[a.ID] = &a
	}
	return nil
}

func (s *MemoryStore) GetAssetBySymbol(_ context.Context, symbol string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assets {
		if a.Symbol == symbol {
			copy := *a
			return &copy, nil
		}
	}
	return nil, ErrAssetNotFound
}

func (s *MemoryStore) ListAssets(_ context.Context) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]model.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		assets = append(assets, *a)
	}
	return assets, nil
}

func (s *MemoryStore) UpdateAssetPrice(_ context.Context, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.assets {
		if a.Symbol == symbol {
			a.CurrentPrice = price
			a.LastUpdated = time.Now().UTC()
			return nil
		}
	}
	return ErrAssetNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, username string) (*model.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return nil, ErrUsernameTaken
		}
	}

	s.nextUserID++
	u := &model.UserAccount{
		ID:          s.nextUserID,
		Username:    username,
		Balance:     StartingBalance,
		LastUpdated: time.Now().UTC(),
	}
	s.users[u.ID] = u
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*model.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			copy := *u
			return &copy, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) UpdateUserBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Balance = balance
	u.LastUpdated = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ResetAccount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Balance = StartingBalance
	u.LastUpdated = time.Now().UTC()
	for k := range s.holdings {
		if k.userID == id {
			delete(s.holdings, k)
		}
	}
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, userID, assetID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.holdings[holdingKey{userID, assetID}], nil
}

func (s *MemoryStore) GetHoldingsByUser(_ context.Context, userID int64) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Holding
	for k, q := range s.holdings {
		if k.userID != userID {
			continue
		}
		h := model.Holding{UserID: userID, AssetID: k.assetID, Quantity: q}
		if a, ok := s.assets[k.assetID]; ok {
			h.Symbol = a.Symbol
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *MemoryStore) CommitTrade(_ context.Context, m *model.TradeMutation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[m.UserID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if _, ok := s.assets[m.AssetID]; !ok {
		return 0, ErrAssetNotFound
	}

	u.Balance = m.NewBalance
	u.LastUpdated = time.Now().UTC()

	// Floor at zero: the ledger pre-validates sufficiency, this is only
	// a backstop.
	key := holdingKey{m.UserID, m.AssetID}
	next := s.holdings[key].Add(m.HoldingDelta)
	if next.IsNegative() {
		next = decimal.Zero
	}
	s.holdings[key] = next

	s.nextTxID++
	tx := m.Tx
	tx.ID = s.nextTxID
	tx.UserID = m.UserID
	tx.AssetID = m.AssetID
	s.txs = append(s.txs, tx)

	return tx.ID, nil
}

func (s *MemoryStore) GetTransactionsPage(_ context.Context, userID int64, limit, offset int) ([]model.TransactionHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first: walk the append-only log backwards.
	var entries []model.TransactionHistoryEntry
	skipped := 0
	for i := len(s.txs) - 1; i >= 0 && len(entries) < limit; i-- {
		tx := s.txs[i]
		if tx.UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		e := model.TransactionHistoryEntry{
			ID:          tx.ID,
			Type:        tx.Type,
			Quantity:    tx.Quantity,
			Price:       tx.Price,
			TotalAmount: tx.TotalAmount,
			ProfitLoss:  tx.ProfitLoss,
			Timestamp:   tx.Timestamp,
			Status:      tx.Status,
		}
		if a, ok := s.assets[tx.AssetID]; ok {
			e.Symbol = a.Symbol
			e.AssetName = a.Name
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *MemoryStore) CountTransactions(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, tx := range s.txs {
		if tx.UserID == userID {
			n++
		}
	}
	return n, nil
}
