package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS assets (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(10) NOT NULL UNIQUE,
			name VARCHAR(100) NOT NULL,
			pair_id VARCHAR(20) NOT NULL UNIQUE,
			current_price NUMERIC(20,8) NOT NULL DEFAULT 0,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(50) NOT NULL UNIQUE,
			balance NUMERIC(20,8) NOT NULL CHECK (balance >= 0),
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS holdings (
			user_id BIGINT NOT NULL REFERENCES users(id),
			asset_id BIGINT NOT NULL REFERENCES assets(id),
			quantity NUMERIC(28,8) NOT NULL CHECK (quantity >= 0),
			PRIMARY KEY (user_id, asset_id)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			asset_id BIGINT NOT NULL REFERENCES assets(id),
			type VARCHAR(4) NOT NULL,
			quantity NUMERIC(28,8) NOT NULL,
			price NUMERIC(20,8) NOT NULL,
			total_amount NUMERIC(28,8) NOT NULL,
			profit_loss NUMERIC(28,8),
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
			status VARCHAR(20) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_ts
			ON transactions (user_id, timestamp DESC);
	`)
	return err
}

// --- Assets ---

func (s *PostgresStore) SeedAssets(ctx context.Context, entries []model.Asset) error {
	for _, e := range entries {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO assets (symbol, name, pair_id, current_price)
			 VALUES ($1, $2, $3, 0)
			 ON CONFLICT (symbol) DO NOTHING`,
			e.Symbol, e.Name, e.PairID,
		)
		if err != nil {
			return fmt.Errorf("seed asset %s: %w", e.Symbol, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetAssetBySymbol(ctx context.Context, symbol string) (*model.Asset, error) {
	var a model.Asset
	var price string

	err := s.pool.QueryRow(ctx,
		`SELECT id, symbol, name, pair_id, current_price::TEXT, last_updated
		 FROM assets WHERE symbol = $1`, symbol).
		Scan(&a.ID, &a.Symbol, &a.Name, &a.PairID, &price, &a.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", symbol, err)
	}

	a.CurrentPrice, _ = decimal.NewFromString(price)
	return &a, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, name, pair_id, current_price::TEXT, last_updated
		 FROM assets ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		var a model.Asset
		var price string
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Name, &a.PairID, &price, &a.LastUpdated); err != nil {
			return nil, err
		}
		a.CurrentPrice, _ = decimal.NewFromString(price)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *PostgresStore) UpdateAssetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET current_price = $2::NUMERIC, last_updated = now()
		 WHERE symbol = $1`,
		symbol, price.String(),
	)
	if err != nil {
		return fmt.Errorf("update price %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, username string) (*model.UserAccount, error) {
	var u model.UserAccount
	var balance string

	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, balance)
		 VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (username) DO NOTHING
		 RETURNING id, username, balance::TEXT, last_updated`,
		username, StartingBalance.String()).
		Scan(&u.ID, &u.Username, &balance, &u.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}

	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*model.UserAccount, error) {
	return s.getUser(ctx, `SELECT id, username, balance::TEXT, last_updated FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.UserAccount, error) {
	return s.getUser(ctx, `SELECT id, username, balance::TEXT, last_updated FROM users WHERE username = $1`, username)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (*model.UserAccount, error) {
	var u model.UserAccount
	var balance string

	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&u.ID, &u.Username, &balance, &u.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) UpdateUserBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC, last_updated = now() WHERE id = $1`,
		id, balance.String(),
	)
	if err != nil {
		return fmt.Errorf("update balance for user %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) ResetAccount(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset account: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC, last_updated = now() WHERE id = $1`,
		id, StartingBalance.String(),
	)
	if err != nil {
		return fmt.Errorf("reset account %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM holdings WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("reset holdings for user %d: %w", id, err)
	}
	return tx.Commit(ctx)
}

// --- Holdings ---

func (s *PostgresStore) GetHolding(ctx context.Context, userID, assetID int64) (decimal.Decimal, error) {
	var qty string
	err := s.pool.QueryRow(ctx,
		`SELECT quantity::TEXT FROM holdings WHERE user_id = $1 AND asset_id = $2`,
		userID, assetID).
		Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get holding %d/%d: %w", userID, assetID, err)
	}
	q, _ := decimal.NewFromString(qty)
	return q, nil
}

func (s *PostgresStore) GetHoldingsByUser(ctx context.Context, userID int64) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT h.user_id, h.asset_id, a.symbol, h.quantity::TEXT
		 FROM holdings h
		 JOIN assets a ON a.id = h.asset_id
		 WHERE h.user_id = $1
		 ORDER BY a.symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var qty string
		if err := rows.Scan(&h.UserID, &h.AssetID, &h.Symbol, &qty); err != nil {
			return nil, err
		}
		h.Quantity, _ = decimal.NewFromString(qty)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// --- Trades ---

// CommitTrade applies the balance write, holding upsert, and transaction
// insert in a single database transaction. The GREATEST(0, ...) floor is a
// backstop; the ledger rejects insufficient sells before reaching here.
func (s *PostgresStore) CommitTrade(ctx context.Context, m *model.TradeMutation) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("commit trade: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC, last_updated = now() WHERE id = $1`,
		m.UserID, m.NewBalance.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("commit trade: balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrUserNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO holdings (user_id, asset_id, quantity)
		 VALUES ($1, $2, GREATEST(0, $3::NUMERIC))
		 ON CONFLICT (user_id, asset_id)
		 DO UPDATE SET quantity = GREATEST(0, holdings.quantity + $3::NUMERIC)`,
		m.UserID, m.AssetID, m.HoldingDelta.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("commit trade: holding: %w", err)
	}

	var plArg any
	if m.Tx.ProfitLoss != nil {
		plArg = m.Tx.ProfitLoss.String()
	}

	var txID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO transactions (user_id, asset_id, type, quantity, price, total_amount, profit_loss, timestamp, status)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)
		 RETURNING id`,
		m.UserID, m.AssetID, m.Tx.Type,
		m.Tx.Quantity.String(), m.Tx.Price.String(), m.Tx.TotalAmount.String(),
		plArg, m.Tx.Timestamp, m.Tx.Status,
	).Scan(&txID)
	if err != nil {
		return 0, fmt.Errorf("commit trade: transaction row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit trade: %w", err)
	}
	return txID, nil
}

func (s *PostgresStore) GetTransactionsPage(ctx context.Context, userID int64, limit, offset int) ([]model.TransactionHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, a.symbol, a.name, t.type,
		        t.quantity::TEXT, t.price::TEXT, t.total_amount::TEXT,
		        t.profit_loss::TEXT, t.timestamp, t.status
		 FROM transactions t
		 JOIN assets a ON a.id = t.asset_id
		 WHERE t.user_id = $1
		 ORDER BY t.timestamp DESC, t.id DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.TransactionHistoryEntry
	for rows.Next() {
		var e model.TransactionHistoryEntry
		var qty, price, total string
		var pl *string

		if err := rows.Scan(&e.ID, &e.Symbol, &e.AssetName, &e.Type,
			&qty, &price, &total, &pl, &e.Timestamp, &e.Status); err != nil {
			return nil, err
		}

		e.Quantity, _ = decimal.NewFromString(qty)
		e.Price, _ = decimal.NewFromString(price)
		e.TotalAmount, _ = decimal.NewFromString(total)
		if pl != nil {
			v, _ := decimal.NewFromString(*pl)
			e.ProfitLoss = &v
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) CountTransactions(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).
		Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions for user %d: %w", userID, err)
	}
	return n, nil
}
