package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/api"
	"github.com/papertrade/trading-engine/internal/broadcast"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/pricecache"
	"github.com/papertrade/trading-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type env struct {
	router *chi.Mux
	store  *store.MemoryStore
	cache  *pricecache.Cache
	user   *model.UserAccount
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	err := st.SeedAssets(ctx, []model.Asset{
		{Symbol: "BTC", Name: "Bitcoin", PairID: "XBT/USD"},
		{Symbol: "ETH", Name: "Ethereum", PairID: "ETH/USD"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	cache := pricecache.New()
	cache.Set("BTC", d("50000.00"))

	hub := broadcast.NewHub()
	svc := ledger.NewService(st, cache)
	user, err := svc.Register(ctx, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	r := chi.NewRouter()
	api.New(svc, st, cache, hub).Register(r)
	return &env{router: r, store: st, cache: cache, user: user}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestBuyEndpoint(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/trading/buy", api.TradeRequest{
		UserID: e.user.ID, Symbol: "BTC", Quantity: d("0.1"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	conf := decodeBody[model.TradeConfirmation](t, rec)
	if conf.Symbol != "BTC" || conf.Type != model.TypeBuy {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
	if !conf.TotalAmount.Equal(d("5000.00")) || !conf.NewBalance.Equal(d("5000.00")) {
		t.Errorf("expected total 5000.00 and balance 5000.00, got %s / %s",
			conf.TotalAmount, conf.NewBalance)
	}
	if conf.Status != model.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", conf.Status)
	}
}

func TestBuyEndpoint_Errors(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name string
		body any
		want int
	}{
		{"insufficient funds", api.TradeRequest{UserID: e.user.ID, Symbol: "BTC", Quantity: d("1")}, http.StatusBadRequest},
		{"zero quantity", api.TradeRequest{UserID: e.user.ID, Symbol: "BTC", Quantity: d("0")}, http.StatusBadRequest},
		{"unknown user", api.TradeRequest{UserID: 999, Symbol: "BTC", Quantity: d("0.1")}, http.StatusNotFound},
		{"unknown asset", api.TradeRequest{UserID: e.user.ID, Symbol: "DOGE", Quantity: d("1")}, http.StatusNotFound},
		{"malformed body", "not json", http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/trading/buy", c.body)
			if rec.Code != c.want {
				t.Errorf("expected %d, got %d: %s", c.want, rec.Code, rec.Body.String())
			}
			body := decodeBody[map[string]string](t, rec)
			if body["error"] == "" {
				t.Error("expected an error message in the body")
			}
		})
	}
}

func TestSellEndpoint_InsufficientHoldings(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/trading/sell", api.TradeRequest{
		UserID: e.user.ID, Symbol: "BTC", Quantity: d("0.1"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHistoryEndpoint(t *testing.T) {
	e := newEnv(t)

	for i := 0; i < 3; i++ {
		rec := e.do(t, http.MethodPost, "/api/v1/trading/buy", api.TradeRequest{
			UserID: e.user.ID, Symbol: "BTC", Quantity: d("0.01"),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("buy %d failed: %d", i, rec.Code)
		}
	}

	rec := e.do(t, http.MethodGet, "/api/v1/trading/history/1?page=1&size=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	page := decodeBody[model.HistoryPage](t, rec)
	if page.TotalItems != 3 || page.TotalPages != 2 || len(page.Transactions) != 2 {
		t.Errorf("unexpected page: items=%d pages=%d len=%d",
			page.TotalItems, page.TotalPages, len(page.Transactions))
	}
	if page.Transactions[0].ID <= page.Transactions[1].ID {
		t.Error("expected newest-first ordering")
	}

	// Defaults apply when the query is absent.
	rec = e.do(t, http.MethodGet, "/api/v1/trading/history/1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with default paging, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/trading/history/1?page=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for page=0, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/v1/trading/history/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", rec.Code)
	}
}

func TestListAssetsEndpoint_OverlaysLivePrices(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/cryptos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	assets := decodeBody[[]model.Asset](t, rec)
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	for _, a := range assets {
		switch a.Symbol {
		case "BTC":
			// Persisted price is zero; the cached tick wins.
			if !a.CurrentPrice.Equal(d("50000.00")) {
				t.Errorf("expected live BTC price 50000.00, got %s", a.CurrentPrice)
			}
		case "ETH":
			if !a.CurrentPrice.IsZero() {
				t.Errorf("expected zero ETH price, got %s", a.CurrentPrice)
			}
		}
	}
}

func TestGetPriceEndpoint(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/cryptos/BTC/price", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]decimal.Decimal](t, rec)
	if !body["price"].Equal(d("50000.00")) {
		t.Errorf("expected price 50000.00, got %s", body["price"])
	}

	rec = e.do(t, http.MethodGet, "/api/v1/cryptos/DOGE/price", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown symbol, got %d", rec.Code)
	}
}

func TestRegisterEndpoint(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/users", api.RegisterRequest{Username: "bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	u := decodeBody[model.UserAccount](t, rec)
	if u.Username != "bob" || !u.Balance.Equal(d("10000.00")) {
		t.Errorf("unexpected account: %+v", u)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/users", api.RegisterRequest{Username: "bob"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/api/v1/users", api.RegisterRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty username, got %d", rec.Code)
	}
}

func TestAccountEndpoints(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/users/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	u := decodeBody[model.UserAccount](t, rec)
	if u.ID != e.user.ID || !u.Balance.Equal(d("10000.00")) {
		t.Errorf("unexpected account: %+v", u)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/users/1/deposit", api.AmountRequest{Amount: d("250.00")})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	u = decodeBody[model.UserAccount](t, rec)
	if !u.Balance.Equal(d("10250.00")) {
		t.Errorf("expected 10250.00 after deposit, got %s", u.Balance)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/users/1/withdraw", api.AmountRequest{Amount: d("20000.00")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on overdraft, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/users/1/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	u = decodeBody[model.UserAccount](t, rec)
	if !u.Balance.Equal(d("10000.00")) {
		t.Errorf("expected 10000.00 after reset, got %s", u.Balance)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/users/1/holdings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("holdings: expected 200, got %d", rec.Code)
	}
	holdings := decodeBody[[]model.Holding](t, rec)
	if len(holdings) != 0 {
		t.Errorf("expected no holdings after reset, got %+v", holdings)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/users/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric user id, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/v1/users/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", rec.Code)
	}
}
