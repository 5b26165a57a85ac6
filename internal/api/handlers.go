// Package api exposes the HTTP surface: trade execution, history, asset
// and account queries, and the WebSocket subscription endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/broadcast"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/pricecache"
	"github.com/papertrade/trading-engine/internal/store"
)

// Handler bundles the collaborators the HTTP layer needs.
type Handler struct {
	ledger *ledger.Service
	store  store.Store
	cache  *pricecache.Cache
	hub    *broadcast.Hub
}

// New creates the HTTP handler set.
func New(l *ledger.Service, st store.Store, cache *pricecache.Cache, hub *broadcast.Hub) *Handler {
	return &Handler{ledger: l, store: st, cache: cache, hub: hub}
}

// Register mounts all routes under /api/v1.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", h.hub.HandleWS)

		r.Get("/cryptos", h.ListAssets)
		r.Get("/cryptos/{symbol}/price", h.GetPrice)

		r.Post("/trading/buy", h.Buy)
		r.Post("/trading/sell", h.Sell)
		r.Get("/trading/history/{userID}", h.History)

		r.Post("/users", h.RegisterUser)
		r.Get("/users/{userID}", h.GetUser)
		r.Get("/users/{userID}/holdings", h.GetHoldings)
		r.Post("/users/{userID}/deposit", h.Deposit)
		r.Post("/users/{userID}/withdraw", h.Withdraw)
		r.Post("/users/{userID}/reset", h.Reset)
	})
}

// --- Request types ---

// TradeRequest is the JSON body for buy and sell.
type TradeRequest struct {
	UserID   int64           `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

// AmountRequest is the JSON body for deposit and withdraw.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// RegisterRequest is the JSON body for user registration.
type RegisterRequest struct {
	Username string `json:"username"`
}

// --- Trading ---

// Buy handles POST /api/v1/trading/buy.
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conf, err := h.ledger.ExecuteBuy(r.Context(), req.UserID, req.Symbol, req.Quantity)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

// Sell handles POST /api/v1/trading/sell.
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conf, err := h.ledger.ExecuteSell(r.Context(), req.UserID, req.Symbol, req.Quantity)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

// History handles GET /api/v1/trading/history/{userID}?page=&size=.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", 10)

	result, err := h.ledger.GetTransactionHistory(r.Context(), userID, page, size)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Assets ---

// ListAssets handles GET /api/v1/cryptos.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.store.ListAssets(r.Context())
	if err != nil {
		slog.Error("list assets failed", "err", err)
		writeError(w, "failed to list assets", http.StatusInternalServerError)
		return
	}

	// Overlay live prices; the cache is fresher than the persisted row.
	for i := range assets {
		if live, ok := h.cache.Get(assets[i].Symbol); ok {
			assets[i].CurrentPrice = live
		}
	}
	writeJSON(w, http.StatusOK, assets)
}

// GetPrice handles GET /api/v1/cryptos/{symbol}/price.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	if price, ok := h.cache.Get(symbol); ok {
		writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": price})
		return
	}

	asset, err := h.store.GetAssetBySymbol(r.Context(), symbol)
	if err != nil {
		writeError(w, "asset not found: "+symbol, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": asset.CurrentPrice})
}

// --- Accounts ---

// RegisterUser handles POST /api/v1/users.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := h.ledger.Register(r.Context(), req.Username)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetUser handles GET /api/v1/users/{userID}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	h.withUserID(w, r, func(userID int64) (any, error) {
		return h.ledger.GetAccount(r.Context(), userID)
	})
}

// GetHoldings handles GET /api/v1/users/{userID}/holdings.
func (h *Handler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	h.withUserID(w, r, func(userID int64) (any, error) {
		return h.ledger.GetHoldings(r.Context(), userID)
	})
}

// Deposit handles POST /api/v1/users/{userID}/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.ledger.Deposit)
}

// Withdraw handles POST /api/v1/users/{userID}/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.ledger.Withdraw)
}

// Reset handles POST /api/v1/users/{userID}/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.withUserID(w, r, func(userID int64) (any, error) {
		return h.ledger.ResetAccount(r.Context(), userID)
	})
}

func (h *Handler) withUserID(w http.ResponseWriter, r *http.Request, fn func(int64) (any, error)) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	result, err := fn(userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) amountOp(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, decimal.Decimal) (*model.UserAccount, error)) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	u, err := fn(r.Context(), userID, req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- Helpers ---

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// writeLedgerError maps ledger failures to HTTP statuses. Business-rule
// rejections carry their descriptive message; unexpected failures return a
// generic body while the detail is logged.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrAssetNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrUsernameTaken):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
