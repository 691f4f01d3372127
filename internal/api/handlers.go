package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"toy-exchange/internal/book"
	"toy-exchange/internal/engine"
	"toy-exchange/internal/ledger"
	"toy-exchange/internal/store"
	"toy-exchange/pkg/types"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	store    *store.Store
	engine   *engine.Engine
	hub      *Hub
	limiter  *RateLimiter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance. A nil limiter disables
// order rate limiting.
func NewHandlers(st *store.Store, eng *engine.Engine, hub *Hub, limiter *RateLimiter, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:    st,
		engine:   eng,
		hub:      hub,
		limiter:  limiter,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "api-handlers"),
	}
}

// allowOrder applies the per-key order rate limit, answering 429 on
// rejection.
func (h *Handlers) allowOrder(w http.ResponseWriter, key string) bool {
	if h.limiter == nil || h.limiter.Allow(key) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, "request", "order rate limit exceeded", "rate_limit_error")
	return false
}

// authenticate resolves "Authorization: TOKEN <api_key>" to a user.
// Missing, malformed and unknown credentials all answer 401.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	header := r.Header.Get("Authorization")
	key, ok := strings.CutPrefix(header, "TOKEN ")
	if !ok || key == "" {
		writeError(w, http.StatusUnauthorized, "authorization", "invalid or missing api key", "auth_error")
		return store.User{}, false
	}
	user, err := h.store.UserByKey(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authorization", "invalid or missing api key", "auth_error")
		return store.User{}, false
	}
	return user, true
}

// authenticateAdmin is authenticate plus the ADMIN role gate (403).
func (h *Handlers) authenticateAdmin(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return store.User{}, false
	}
	if user.Role != types.RoleAdmin {
		writeError(w, http.StatusForbidden, "authorization", "admin access required", "permission_error")
		return store.User{}, false
	}
	return user, true
}

// decodeValid decodes the JSON body into dst and runs struct validation.
func (h *Handlers) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "body", "malformed JSON body", "value_error")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// limitParam parses ?limit, answering 422 for malformed or out-of-range
// values. Returns false after writing the error.
func limitParam(w http.ResponseWriter, r *http.Request, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return book.DefaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		writeError(w, http.StatusUnprocessableEntity, "limit",
			fmt.Sprintf("limit must be an integer in 1..%d", max), "value_error")
		return 0, false
	}
	return n, true
}

// HandleRegister creates a participant and mints its bearer credential.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var body types.NewUser
	if !h.decodeValid(w, r, &body) {
		return
	}

	user := store.User{
		ID:     uuid.NewString(),
		Name:   body.Name,
		Role:   types.RoleUser,
		APIKey: "key-" + uuid.NewString(),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		writeDomainError(w, "body", err)
		return
	}

	h.logger.Info("user registered", "user_id", user.ID, "name", user.Name)
	writeJSON(w, wireUser(user))
}

// HandleListInstruments returns the instrument catalogue.
func (h *Handlers) HandleListInstruments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.Instruments(r.Context())
	if err != nil {
		writeDomainError(w, "instrument", err)
		return
	}
	out := make([]types.Instrument, len(rows))
	for i, ins := range rows {
		out[i] = types.Instrument{Name: ins.Name, Ticker: ins.Ticker}
	}
	writeJSON(w, out)
}

// HandleOrderbook returns the aggregated L2 depth for one ticker.
func (h *Handlers) HandleOrderbook(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, book.MaxDepth)
	if !ok {
		return
	}
	l2, err := book.L2(r.Context(), h.store, r.PathValue("ticker"), limit)
	if err != nil {
		writeDomainError(w, "ticker", err)
		return
	}
	writeJSON(w, l2)
}

// HandleTransactions returns recent trades for one ticker, newest first.
func (h *Handlers) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, book.MaxTrades)
	if !ok {
		return
	}
	trades, err := book.RecentTrades(r.Context(), h.store, r.PathValue("ticker"), limit)
	if err != nil {
		writeDomainError(w, "ticker", err)
		return
	}
	if trades == nil {
		trades = []types.Transaction{}
	}
	writeJSON(w, trades)
}

// HandleBalance returns the caller's ticker → amount mapping.
func (h *Handlers) HandleBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	snapshot, err := ledger.Snapshot(r.Context(), h.store, user.ID)
	if err != nil {
		writeDomainError(w, "balance", err)
		return
	}
	writeJSON(w, snapshot)
}

// HandleCreateOrder admits a limit or market order.
func (h *Handlers) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.allowOrder(w, user.APIKey) {
		return
	}
	var body types.OrderBody
	if !h.decodeValid(w, r, &body) {
		return
	}

	orderID, err := h.engine.Submit(r.Context(), user.ID, body)
	if err != nil {
		writeDomainError(w, "body", err)
		return
	}
	id, _ := uuid.Parse(orderID)
	writeJSON(w, types.CreateOrderResponse{Success: true, OrderID: id})
}

// HandleListOrders returns the caller's orders.
func (h *Handlers) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	rows, err := h.engine.Orders(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, "order", err)
		return
	}
	out := make([]types.Order, len(rows))
	for i, o := range rows {
		out[i] = wireOrder(o)
	}
	writeJSON(w, out)
}

// HandleGetOrder returns one of the caller's orders; foreign ids 404.
func (h *Handlers) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ord, err := h.engine.Order(r.Context(), user.ID, r.PathValue("order_id"))
	if err != nil {
		writeDomainError(w, "order_id", err)
		return
	}
	writeJSON(w, wireOrder(ord))
}

// HandleCancelOrder withdraws a resting limit order.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.allowOrder(w, user.APIKey) {
		return
	}
	if err := h.engine.Cancel(r.Context(), user.ID, r.PathValue("order_id")); err != nil {
		writeDomainError(w, "order_id", err)
		return
	}
	writeJSON(w, types.Ok{Success: true})
}

// HandleDeleteUser removes a user and, by cascade, their orders and
// balances. Returns the deleted user document.
func (h *Handlers) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticateAdmin(w, r); !ok {
		return
	}
	userID := r.PathValue("user_id")
	user, err := h.store.UserByID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, "user_id", err)
		return
	}
	if err := h.store.DeleteUser(r.Context(), userID); err != nil {
		writeDomainError(w, "user_id", err)
		return
	}
	h.logger.Info("user deleted", "user_id", userID)
	writeJSON(w, wireUser(user))
}

// HandleAddInstrument lists a new asset.
func (h *Handlers) HandleAddInstrument(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticateAdmin(w, r); !ok {
		return
	}
	var body types.Instrument
	if !h.decodeValid(w, r, &body) {
		return
	}
	err := h.store.CreateInstrument(r.Context(), store.Instrument{Ticker: body.Ticker, Name: body.Name})
	if err != nil {
		writeDomainError(w, "ticker", err)
		return
	}
	h.logger.Info("instrument added", "ticker", body.Ticker)
	writeJSON(w, types.Ok{Success: true})
}

// HandleDeleteInstrument delists an asset.
func (h *Handlers) HandleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticateAdmin(w, r); !ok {
		return
	}
	ticker := r.PathValue("ticker")
	if err := h.store.DeleteInstrument(r.Context(), ticker); err != nil {
		writeDomainError(w, "ticker", err)
		return
	}
	h.logger.Info("instrument deleted", "ticker", ticker)
	writeJSON(w, types.Ok{Success: true})
}

// HandleDeposit credits a user's balance.
func (h *Handlers) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticateAdmin(w, r); !ok {
		return
	}
	var body types.BalanceChange
	if !h.decodeValid(w, r, &body) {
		return
	}
	if err := h.engine.Deposit(r.Context(), body.UserID.String(), body.Ticker, body.Amount); err != nil {
		writeDomainError(w, "user_id", err)
		return
	}
	writeJSON(w, types.Ok{Success: true})
}

// HandleWithdraw debits a user's free balance.
func (h *Handlers) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticateAdmin(w, r); !ok {
		return
	}
	var body types.BalanceChange
	if !h.decodeValid(w, r, &body) {
		return
	}
	if err := h.engine.Withdraw(r.Context(), body.UserID.String(), body.Ticker, body.Amount); err != nil {
		writeDomainError(w, "amount", err)
		return
	}
	writeJSON(w, types.Ok{Success: true})
}

// HandleTradeStream upgrades the connection and subscribes the client to
// executed trades on one ticker.
func (h *Handlers) HandleTradeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn, r.PathValue("ticker"))
}
