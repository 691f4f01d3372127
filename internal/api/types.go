package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"toy-exchange/internal/book"
	"toy-exchange/internal/engine"
	"toy-exchange/internal/ledger"
	"toy-exchange/internal/store"
	"toy-exchange/pkg/types"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// writeJSON encodes v as the 200 response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError emits the error envelope {detail:[{loc,msg,type}]}.
func writeError(w http.ResponseWriter, status int, loc, msg, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(types.HTTPValidationError{
		Detail: []types.ValidationError{{Loc: []string{loc}, Msg: msg, Type: errType}},
	})
}

// writeDomainError maps engine/ledger/book/store sentinels onto the HTTP
// error table. Anything unrecognized is a 500.
func writeDomainError(w http.ResponseWriter, loc string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, loc, "not found", "value_error")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusBadRequest, loc, "already exists", "value_error")
	case errors.Is(err, engine.ErrInstrumentUnknown):
		writeError(w, http.StatusBadRequest, loc, "unknown instrument", "value_error")
	case errors.Is(err, engine.ErrOrderTooLarge):
		writeError(w, http.StatusBadRequest, loc, "order qty or price out of range", "value_error")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, loc, "insufficient balance", "value_error")
	case errors.Is(err, book.ErrInsufficientLiquidity):
		writeError(w, http.StatusBadRequest, loc, "insufficient liquidity", "value_error")
	case errors.Is(err, engine.ErrCannotCancelMarket):
		writeError(w, http.StatusBadRequest, loc, "market orders cannot be cancelled", "value_error")
	case errors.Is(err, engine.ErrCannotCancelExecuted):
		writeError(w, http.StatusBadRequest, loc, "order already executed or cancelled", "value_error")
	default:
		writeError(w, http.StatusInternalServerError, loc, "internal error", "internal_error")
	}
}

// writeValidationError reports failed struct validation as 422, one
// envelope entry per offending field.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusUnprocessableEntity, "body", err.Error(), "value_error")
		return
	}
	detail := make([]types.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		detail = append(detail, types.ValidationError{
			Loc:  []string{"body", fe.Field()},
			Msg:  "failed validation: " + fe.Tag(),
			Type: "value_error",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	json.NewEncoder(w).Encode(types.HTTPValidationError{Detail: detail})
}

// wireUser converts a store row to its API document.
func wireUser(u store.User) types.User {
	id, _ := uuid.Parse(u.ID)
	return types.User{ID: id, Name: u.Name, Role: u.Role, APIKey: u.APIKey}
}

// wireOrder converts a store row to its API document. Market orders omit
// price and filled.
func wireOrder(o store.Order) types.Order {
	id, _ := uuid.Parse(o.ID)
	userID, _ := uuid.Parse(o.UserID)

	body := types.OrderBody{
		Direction: o.Direction,
		Ticker:    o.Ticker,
		Qty:       o.Qty,
	}
	out := types.Order{
		ID:        id,
		Status:    o.Status,
		UserID:    userID,
		Timestamp: o.Time(),
		Body:      body,
	}
	if o.Price.Valid {
		price := o.Price.Int64
		filled := o.Filled
		out.Body.Price = &price
		out.Filled = &filled
	}
	return out
}
