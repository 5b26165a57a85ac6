// Package model defines the core domain types shared across the trading
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TypeBuy  = "BUY"
	TypeSell = "SELL"
)

// StatusCompleted is the terminal status of an executed trade.
const StatusCompleted = "COMPLETED"

// Asset is one tradeable cryptocurrency. Seeded once at startup with a zero
// price; CurrentPrice is mutated only by the market feed connector.
type Asset struct {
	ID           int64           `json:"id" db:"id"`
	Symbol       string          `json:"symbol" db:"symbol"` // internal ticker, e.g. "BTC"
	Name         string          `json:"name" db:"name"`     // display name, e.g. "Bitcoin"
	PairID       string          `json:"pair_id" db:"pair_id"` // exchange pair, e.g. "XBT/USD"
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	LastUpdated  time.Time       `json:"last_updated" db:"last_updated"`
}

// UserAccount holds a user's virtual cash balance.
// Balance is mutated only by the trading ledger and the explicit
// deposit/withdraw/reset operations; it never goes negative.
type UserAccount struct {
	ID          int64           `json:"id" db:"id"`
	Username    string          `json:"username" db:"username"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	LastUpdated time.Time       `json:"last_updated" db:"last_updated"`
}

// Holding is a user's quantity of one asset. Unique per (user, asset).
// A row may sit at quantity 0 after a full sell; zero means "no position".
type Holding struct {
	UserID   int64           `json:"user_id" db:"user_id"`
	AssetID  int64           `json:"asset_id" db:"asset_id"`
	Symbol   string          `json:"symbol" db:"symbol"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
}

// Transaction is an immutable record of an executed trade.
// Once written these are never modified or deleted.
type Transaction struct {
	ID          int64            `json:"id" db:"id"`
	UserID      int64            `json:"user_id" db:"user_id"`
	AssetID     int64            `json:"asset_id" db:"asset_id"`
	Type        string           `json:"type" db:"type"` // BUY or SELL
	Quantity    decimal.Decimal  `json:"quantity" db:"quantity"`
	Price       decimal.Decimal  `json:"price" db:"price"`               // snapshot at execution
	TotalAmount decimal.Decimal  `json:"total_amount" db:"total_amount"` // quantity × price, recomputed
	ProfitLoss  *decimal.Decimal `json:"profit_loss,omitempty" db:"profit_loss"`
	Timestamp   time.Time        `json:"timestamp" db:"timestamp"`
	Status      string           `json:"status" db:"status"`
}

// TradeMutation is the atomic unit a trade commit applies to the store:
// the new balance, the holding delta, and the transaction row move together
// or not at all.
type TradeMutation struct {
	UserID       int64
	AssetID      int64
	NewBalance   decimal.Decimal
	HoldingDelta decimal.Decimal // positive on buy, negative on sell
	Tx           Transaction
}

// TradeConfirmation is returned to the caller after a successful trade.
type TradeConfirmation struct {
	TransactionID int64           `json:"transaction_id"`
	Symbol        string          `json:"symbol"`
	Type          string          `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        string          `json:"status"`
}

// TransactionHistoryEntry is one row of a user's paginated trade history,
// with the asset identity joined in.
type TransactionHistoryEntry struct {
	ID          int64            `json:"id"`
	Symbol      string           `json:"symbol"`
	AssetName   string           `json:"asset_name"`
	Type        string           `json:"type"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	ProfitLoss  *decimal.Decimal `json:"profit_loss,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Status      string           `json:"status"`
}

// HistoryPage is a newest-first page of a user's transactions.
type HistoryPage struct {
	Transactions []TransactionHistoryEntry `json:"transactions"`
	CurrentPage  int                       `json:"current_page"`
	TotalItems   int                       `json:"total_items"`
	TotalPages   int                       `json:"total_pages"`
}

// PriceUpdate is the event broadcast to subscribers when a price changes.
type PriceUpdate struct {
	Symbol    string          `json:"symbol"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Timestamp int64           `json:"timestamp"` // unix millis
}
