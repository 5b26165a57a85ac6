package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/pricecache"
	"github.com/papertrade/trading-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	svc   *ledger.Service
	store *store.MemoryStore
	cache *pricecache.Cache
	user  *model.UserAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	err := st.SeedAssets(ctx, []model.Asset{
		{Symbol: "BTC", Name: "Bitcoin", PairID: "XBT/USD"},
		{Symbol: "ETH", Name: "Ethereum", PairID: "ETH/USD"},
	})
	if err != nil {
		t.Fatalf("seed assets: %v", err)
	}

	cache := pricecache.New()
	cache.Set("BTC", d("50000.00"))
	cache.Set("ETH", d("3000.00"))

	svc := ledger.NewService(st, cache)
	user, err := svc.Register(ctx, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !user.Balance.Equal(d("10000.00")) {
		t.Fatalf("expected starting balance 10000.00, got %s", user.Balance)
	}
	return &fixture{svc: svc, store: st, cache: cache, user: user}
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	u, err := f.svc.GetAccount(context.Background(), f.user.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return u.Balance
}

func TestExecuteBuy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conf, err := f.svc.ExecuteBuy(ctx, f.user.ID, "BTC", d("0.1"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	if conf.TransactionID == 0 {
		t.Error("expected a transaction id")
	}
	if conf.Symbol != "BTC" || conf.Type != model.TypeBuy || conf.Status != model.StatusCompleted {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
	if !conf.TotalAmount.Equal(d("5000.00")) {
		t.Errorf("expected total 5000.00, got %s", conf.TotalAmount)
	}
	if !conf.NewBalance.Equal(d("5000.00")) {
		t.Errorf("expected new balance 5000.00, got %s", conf.NewBalance)
	}
	if !f.balance(t).Equal(d("5000.00")) {
		t.Errorf("stored balance not debited, got %s", f.balance(t))
	}

	holdings, err := f.svc.GetHoldings(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("holdings: %v", err)
	}
	if len(holdings) != 1 || holdings[0].Symbol != "BTC" || !holdings[0].Quantity.Equal(d("0.1")) {
		t.Errorf("expected single 0.1 BTC holding, got %+v", holdings)
	}
}

func TestExecuteBuy_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 0.3 × 50000.00 = 15000.00 > 10000.00
	_, err := f.svc.ExecuteBuy(ctx, f.user.ID, "BTC", d("0.3"))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Nothing was applied.
	if !f.balance(t).Equal(d("10000.00")) {
		t.Errorf("balance mutated on rejected buy: %s", f.balance(t))
	}
	page, err := f.svc.GetTransactionHistory(ctx, f.user.ID, 1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.TotalItems != 0 {
		t.Errorf("expected empty history, got %d items", page.TotalItems)
	}
}

func TestExecuteSell_InsufficientHoldings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ExecuteBuy(ctx, f.user.ID, "BTC", d("0.1")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	_, err := f.svc.ExecuteSell(ctx, f.user.ID, "BTC", d("0.2"))
	if !errors.Is(err, ledger.ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}

	// The position is rejected, never clamped.
	holdings, _ := f.svc.GetHoldings(ctx, f.user.ID)
	if len(holdings) != 1 || !holdings[0].Quantity.Equal(d("0.1")) {
		t.Errorf("holding changed on rejected sell: %+v", holdings)
	}
	if !f.balance(t).Equal(d("5000.00")) {
		t.Errorf("balance changed on rejected sell: %s", f.balance(t))
	}
}

func TestBuyThenSell_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ExecuteBuy(ctx, f.user.ID, "ETH", d("2")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	conf, err := f.svc.ExecuteSell(ctx, f.user.ID, "ETH", d("2"))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	// Same price both ways, so the cash round-trips exactly.
	if !conf.NewBalance.Equal(d("10000.00")) {
		t.Errorf("expected balance restored to 10000.00, got %s", conf.NewBalance)
	}

	page, err := f.svc.GetTransactionHistory(ctx, f.user.ID, 1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, e := range page.Transactions {
		if e.ProfitLoss != nil {
			t.Errorf("profit/loss must stay null, got %s", e.ProfitLoss)
		}
	}

	holdings, _ := f.svc.GetHoldings(ctx, f.user.ID)
	if len(holdings) != 1 || !holdings[0].Quantity.IsZero() {
		t.Errorf("expected zero-quantity holding row, got %+v", holdings)
	}
}

func TestTrade_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, qty := range []string{"0", "-1"} {
		if _, err := f.svc.ExecuteBuy(ctx, f.user.ID, "BTC", d(qty)); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("buy qty=%s: expected ErrValidation, got %v", qty, err)
		}
		if _, err := f.svc.ExecuteSell(ctx, f.user.ID, "BTC", d(qty)); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("sell qty=%s: expected ErrValidation, got %v", qty, err)
		}
	}
}

func TestTrade_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ExecuteBuy(ctx, 999, "BTC", d("0.1")); !errors.Is(err, ledger.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := f.svc.ExecuteBuy(ctx, f.user.ID, "DOGE", d("1")); !errors.Is(err, ledger.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestTrade_FallsBackToPersistedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No tick seen yet for this asset: the persisted price is used.
	if err := f.store.SeedAssets(ctx, []model.Asset{{Symbol: "SOL", Name: "Solana", PairID: "SOL/USD"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.store.UpdateAssetPrice(ctx, "SOL", d("150.00")); err != nil {
		t.Fatalf("update price: %v", err)
	}

	conf, err := f.svc.ExecuteBuy(ctx, f.user.ID, "SOL", d("2"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !conf.Price.Equal(d("150.00")) || !conf.TotalAmount.Equal(d("300.00")) {
		t.Errorf("expected persisted price 150.00 (total 300.00), got price=%s total=%s",
			conf.Price, conf.TotalAmount)
	}
}

func TestConcurrentBuys_NeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two concurrent 6000.00 buys against a 10000.00 balance: exactly one
	// may succeed.
	f.cache.Set("BTC", d("60000.00"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ExecuteBuy(ctx, f.user.ID, "BTC", d("0.1"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ledger.ErrInsufficientFunds) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 successful buy, got %d", succeeded)
	}
	if !f.balance(t).Equal(d("4000.00")) {
		t.Errorf("expected final balance 4000.00, got %s", f.balance(t))
	}
}

func TestGetTransactionHistory_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.ExecuteBuy(ctx, f.user.ID, "ETH", d("0.1")); err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
	}

	page, err := f.svc.GetTransactionHistory(ctx, f.user.ID, 1, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.TotalItems != 3 || page.TotalPages != 2 || page.CurrentPage != 1 {
		t.Errorf("unexpected page meta: %+v", page)
	}
	if len(page.Transactions) != 2 {
		t.Fatalf("expected 2 entries on page 1, got %d", len(page.Transactions))
	}
	// Newest first.
	if page.Transactions[0].ID <= page.Transactions[1].ID {
		t.Errorf("expected newest-first ordering, got ids %d, %d",
			page.Transactions[0].ID, page.Transactions[1].ID)
	}

	page2, err := f.svc.GetTransactionHistory(ctx, f.user.ID, 2, 2)
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	if len(page2.Transactions) != 1 {
		t.Errorf("expected 1 entry on page 2, got %d", len(page2.Transactions))
	}

	// A page past the end is valid and empty.
	page3, err := f.svc.GetTransactionHistory(ctx, f.user.ID, 3, 2)
	if err != nil {
		t.Fatalf("history page 3: %v", err)
	}
	if len(page3.Transactions) != 0 {
		t.Errorf("expected empty page past the end, got %d entries", len(page3.Transactions))
	}
}

func TestGetTransactionHistory_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct{ page, size int }{
		{0, 10}, {-1, 10}, {1, 0}, {1, 101},
	}
	for _, c := range cases {
		if _, err := f.svc.GetTransactionHistory(ctx, f.user.ID, c.page, c.size); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("page=%d size=%d: expected ErrValidation, got %v", c.page, c.size, err)
		}
	}
	if _, err := f.svc.GetTransactionHistory(ctx, 999, 1, 10); !errors.Is(err, ledger.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Deposit(ctx, f.user.ID, d("500.00"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !u.Balance.Equal(d("10500.00")) {
		t.Errorf("expected 10500.00 after deposit, got %s", u.Balance)
	}

	if _, err := f.svc.Withdraw(ctx, f.user.ID, d("10600.00")); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds on overdraft, got %v", err)
	}
	if !f.balance(t).Equal(d("10500.00")) {
		t.Errorf("balance changed on rejected withdrawal: %s", f.balance(t))
	}

	u, err = f.svc.Withdraw(ctx, f.user.ID, d("10500.00"))
	if err != nil {
		t.Fatalf("withdraw to zero: %v", err)
	}
	if !u.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", u.Balance)
	}

	if _, err := f.svc.Deposit(ctx, f.user.ID, d("-1")); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected ErrValidation on negative deposit, got %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, f.user.ID, d("0")); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected ErrValidation on zero withdrawal, got %v", err)
	}
}

func TestResetAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ExecuteBuy(ctx, f.user.ID, "BTC", d("0.1")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	u, err := f.svc.ResetAccount(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !u.Balance.Equal(d("10000.00")) {
		t.Errorf("expected balance restored to 10000.00, got %s", u.Balance)
	}
	holdings, _ := f.svc.GetHoldings(ctx, f.user.ID)
	if len(holdings) != 0 {
		t.Errorf("expected holdings cleared, got %+v", holdings)
	}

	// History survives a reset.
	page, err := f.svc.GetTransactionHistory(ctx, f.user.ID, 1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.TotalItems != 1 {
		t.Errorf("expected transaction record to survive reset, got %d", page.TotalItems)
	}

	if _, err := f.svc.ResetAccount(ctx, 999); !errors.Is(err, ledger.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "alice"); !errors.Is(err, ledger.ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := f.svc.Register(ctx, ""); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected ErrValidation for empty username, got %v", err)
	}

	u, err := f.svc.Register(ctx, "bob")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !u.Balance.Equal(d("10000.00")) {
		t.Errorf("expected starting balance 10000.00, got %s", u.Balance)
	}
}
