// Package ledger validates and executes buy/sell requests against user
// balances, live prices, and holdings, and appends the immutable
// transaction record. This is the component with the strongest correctness
// requirements: balance and holdings never go negative, and the
// balance+holding+transaction mutation is a single atomic unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/pricecache"
	"github.com/papertrade/trading-engine/internal/store"
)

// amountScale is the rounding applied to trade totals: 8 decimal places,
// half-up.
const amountScale = 8

// History page bounds.
const (
	MinPageSize = 1
	MaxPageSize = 100
)

// Service executes trades and account operations. Operations for the same
// user are serialized by a per-user lock; different users run fully in
// parallel.
type Service struct {
	store store.Store
	cache *pricecache.Cache

	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

// NewService creates a trading ledger over the given store and price cache.
func NewService(st store.Store, cache *pricecache.Cache) *Service {
	return &Service{
		store: st,
		cache: cache,
		users: make(map[int64]*sync.Mutex),
	}
}

// userLock returns the mutex serializing operations for one user.
func (s *Service) userLock(userID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.users[userID]
	if !ok {
		l = &sync.Mutex{}
		s.users[userID] = l
	}
	return l
}

// ExecuteBuy buys quantity of symbol at the current price.
// Fails fast before any mutation; the mutation itself is atomic.
func (s *Service) ExecuteBuy(ctx context.Context, userID int64, symbol string, quantity decimal.Decimal) (*model.TradeConfirmation, error) {
	if !quantity.IsPositive() {
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	user, asset, price, err := s.resolve(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}

	totalCost := price.Mul(quantity).Round(amountScale)
	if user.Balance.LessThan(totalCost) {
		metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		return nil, fmt.Errorf("%w: cost %s exceeds balance %s",
			ErrInsufficientFunds, totalCost, user.Balance)
	}

	newBalance := user.Balance.Sub(totalCost)
	now := time.Now().UTC()

	txID, err := s.store.CommitTrade(ctx, &model.TradeMutation{
		UserID:       userID,
		AssetID:      asset.ID,
		NewBalance:   newBalance,
		HoldingDelta: quantity,
		Tx: model.Transaction{
			Type:        model.TypeBuy,
			Quantity:    quantity,
			Price:       price,
			TotalAmount: totalCost,
			ProfitLoss:  nil, // never computed for buys
			Timestamp:   now,
			Status:      model.StatusCompleted,
		},
	})
	if err != nil {
		// The store applied nothing; surface the failure with context.
		slog.Error("buy commit failed", "user", userID, "symbol", symbol,
			"quantity", quantity.String(), "cost", totalCost.String(), "err", err)
		return nil, fmt.Errorf("execute buy: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(model.TypeBuy).Inc()
	metrics.TradeLatency.WithLabelValues(model.TypeBuy).Observe(time.Since(start).Seconds())
	slog.Info("buy executed", "tx", txID, "user", userID, "symbol", symbol,
		"quantity", quantity.String(), "price", price.String(), "cost", totalCost.String())

	return &model.TradeConfirmation{
		TransactionID: txID,
		Symbol:        asset.Symbol,
		Type:          model.TypeBuy,
		Quantity:      quantity,
		Price:         price,
		TotalAmount:   totalCost,
		NewBalance:    newBalance,
		Timestamp:     now,
		Status:        model.StatusCompleted,
	}, nil
}

// ExecuteSell sells quantity of symbol at the current price.
// Rejects (never clamps) a sell larger than the position.
func (s *Service) ExecuteSell(ctx context.Context, userID int64, symbol string, quantity decimal.Decimal) (*model.TradeConfirmation, error) {
	if !quantity.IsPositive() {
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	user, asset, price, err := s.resolve(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}

	holding, err := s.store.GetHolding(ctx, userID, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("execute sell: %w", err)
	}
	if holding.LessThan(quantity) {
		metrics.TradeRejections.WithLabelValues("insufficient_holdings").Inc()
		return nil, fmt.Errorf("%w: have %s %s, requested %s",
			ErrInsufficientHoldings, holding, symbol, quantity)
	}

	totalValue := price.Mul(quantity).Round(amountScale)
	newBalance := user.Balance.Add(totalValue)
	now := time.Now().UTC()

	txID, err := s.store.CommitTrade(ctx, &model.TradeMutation{
		UserID:       userID,
		AssetID:      asset.ID,
		NewBalance:   newBalance,
		HoldingDelta: quantity.Neg(),
		Tx: model.Transaction{
			Type:        model.TypeSell,
			Quantity:    quantity,
			Price:       price,
			TotalAmount: totalValue,
			ProfitLoss:  nil, // no cost-basis tracking; stays null
			Timestamp:   now,
			Status:      model.StatusCompleted,
		},
	})
	if err != nil {
		slog.Error("sell commit failed", "user", userID, "symbol", symbol,
			"quantity", quantity.String(), "value", totalValue.String(), "err", err)
		return nil, fmt.Errorf("execute sell: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(model.TypeSell).Inc()
	metrics.TradeLatency.WithLabelValues(model.TypeSell).Observe(time.Since(start).Seconds())
	slog.Info("sell executed", "tx", txID, "user", userID, "symbol", symbol,
		"quantity", quantity.String(), "price", price.String(), "value", totalValue.String())

	return &model.TradeConfirmation{
		TransactionID: txID,
		Symbol:        asset.Symbol,
		Type:          model.TypeSell,
		Quantity:      quantity,
		Price:         price,
		TotalAmount:   totalValue,
		NewBalance:    newBalance,
		Timestamp:     now,
		Status:        model.StatusCompleted,
	}, nil
}

// resolve loads the user and asset and snapshots the trade price: the live
// cache when a tick has been seen, otherwise the persisted price. Called
// under the per-user lock so the snapshot and the mutation are one unit.
func (s *Service) resolve(ctx context.Context, userID int64, symbol string) (*model.UserAccount, *model.Asset, decimal.Decimal, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, nil, decimal.Zero, fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, nil, decimal.Zero, fmt.Errorf("resolve user: %w", err)
	}

	asset, err := s.store.GetAssetBySymbol(ctx, symbol)
	if errors.Is(err, store.ErrAssetNotFound) {
		return nil, nil, decimal.Zero, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
	}
	if err != nil {
		return nil, nil, decimal.Zero, fmt.Errorf("resolve asset: %w", err)
	}

	price := asset.CurrentPrice
	if live, ok := s.cache.Get(symbol); ok {
		price = live
	}
	return user, asset, price, nil
}

// GetTransactionHistory returns one newest-first page of a user's trades.
func (s *Service) GetTransactionHistory(ctx context.Context, userID int64, page, pageSize int) (*model.HistoryPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be >= 1", ErrValidation)
	}
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page size must be in [%d,%d]",
			ErrValidation, MinPageSize, MaxPageSize)
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("transaction history: %w", err)
	}

	offset := (page - 1) * pageSize
	entries, err := s.store.GetTransactionsPage(ctx, userID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("transaction history: %w", err)
	}
	total, err := s.store.CountTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("transaction history: %w", err)
	}

	if entries == nil {
		entries = []model.TransactionHistoryEntry{}
	}
	return &model.HistoryPage{
		Transactions: entries,
		CurrentPage:  page,
		TotalItems:   total,
		TotalPages:   (total + pageSize - 1) / pageSize,
	}, nil
}

// --- Account operations ---

// Register creates a new account with the starting balance.
func (s *Service) Register(ctx context.Context, username string) (*model.UserAccount, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}
	u, err := s.store.CreateUser(ctx, username)
	if errors.Is(err, store.ErrUsernameTaken) {
		return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	slog.Info("user registered", "id", u.ID, "username", u.Username)
	return u, nil
}

// GetAccount returns a user's account.
func (s *Service) GetAccount(ctx context.Context, userID int64) (*model.UserAccount, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
	}
	return u, err
}

// GetHoldings returns a user's positions, zero-quantity rows included.
func (s *Service) GetHoldings(ctx context.Context, userID int64) ([]model.Holding, error) {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	holdings, err := s.store.GetHoldingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("holdings: %w", err)
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	return holdings, nil
}

// Deposit adds funds to a user's balance.
func (s *Service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*model.UserAccount, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrValidation)
	}
	return s.adjustBalance(ctx, userID, amount)
}

// Withdraw removes funds from a user's balance; never drives it negative.
func (s *Service) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (*model.UserAccount, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrValidation)
	}
	return s.adjustBalance(ctx, userID, amount.Neg())
}

func (s *Service) adjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) (*model.UserAccount, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("adjust balance: %w", err)
	}

	newBalance := user.Balance.Add(delta)
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("%w: withdrawal of %s exceeds balance %s",
			ErrInsufficientFunds, delta.Neg(), user.Balance)
	}

	if err := s.store.UpdateUserBalance(ctx, userID, newBalance); err != nil {
		return nil, fmt.Errorf("adjust balance: %w", err)
	}
	user.Balance = newBalance
	return user, nil
}

// ResetAccount restores the starting balance and clears holdings.
func (s *Service) ResetAccount(ctx context.Context, userID int64) (*model.UserAccount, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	err := s.store.ResetAccount(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("reset account: %w", err)
	}
	slog.Info("account reset", "user", userID)
	return s.store.GetUser(ctx, userID)
}
