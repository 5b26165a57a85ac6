// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// Sentinel errors returned by all implementations.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrAssetNotFound = errors.New("asset not found")
	ErrUsernameTaken = errors.New("username already exists")
)

// StartingBalance is the virtual cash every new account begins with, and
// the value an account reset restores.
var StartingBalance = decimal.RequireFromString("10000.00")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Single-row writes are durable
// on return; CommitTrade applies its rows as one atomic unit.
type Store interface {
	// --- Assets ---

	// SeedAssets inserts catalog entries that do not exist yet, price zero.
	// Existing rows are left untouched.
	SeedAssets(ctx context.Context, entries []model.Asset) error

	// GetAssetBySymbol retrieves an asset by its internal symbol.
	GetAssetBySymbol(ctx context.Context, symbol string) (*model.Asset, error)

	// ListAssets returns the full asset catalog with current prices.
	ListAssets(ctx context.Context) ([]model.Asset, error)

	// UpdateAssetPrice overwrites an asset's current price. Called by the
	// feed connector on every accepted tick.
	UpdateAssetPrice(ctx context.Context, symbol string, price decimal.Decimal) error

	// --- Users ---

	// CreateUser registers a new account with the starting balance.
	CreateUser(ctx context.Context, username string) (*model.UserAccount, error)

	// GetUser retrieves an account by id.
	GetUser(ctx context.Context, id int64) (*model.UserAccount, error)

	// GetUserByUsername retrieves an account by username.
	GetUserByUsername(ctx context.Context, username string) (*model.UserAccount, error)

	// UpdateUserBalance overwrites an account balance.
	UpdateUserBalance(ctx context.Context, id int64, balance decimal.Decimal) error

	// ResetAccount restores the starting balance and clears all holdings.
	ResetAccount(ctx context.Context, id int64) error

	// --- Holdings ---

	// GetHolding returns the held quantity, zero if no row exists.
	GetHolding(ctx context.Context, userID, assetID int64) (decimal.Decimal, error)

	// GetHoldingsByUser returns all holdings for a user, including
	// zero-quantity rows left behind by full sells.
	GetHoldingsByUser(ctx context.Context, userID int64) ([]model.Holding, error)

	// --- Trades ---

	// CommitTrade atomically applies a trade: balance write, holding
	// adjustment (created on first buy, floored at zero as a backstop),
	// and the immutable transaction row. Returns the transaction id.
	// On error nothing is applied.
	CommitTrade(ctx context.Context, m *model.TradeMutation) (int64, error)

	// GetTransactionsPage returns a newest-first slice of a user's trades.
	GetTransactionsPage(ctx context.Context, userID int64, limit, offset int) ([]model.TransactionHistoryEntry, error)

	// CountTransactions returns the user's total trade count.
	CountTransactions(ctx context.Context, userID int64) (int, error)
}
