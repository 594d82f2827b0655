package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/florin-systems/finflow/internal/aggregate"
	"github.com/florin-systems/finflow/internal/middleware"
	"github.com/florin-systems/finflow/internal/store"
)

// defaultTopCategories bounds the summary's expense category list.
const defaultTopCategories = 5

// defaultListLimit caps GET /api/transactions when no limit is given.
const defaultListLimit = 100

// APIHandler serves the read side: transactions, accounts and analytics.
type APIHandler struct {
	store store.Store
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(st store.Store) *APIHandler {
	return &APIHandler{store: st}
}

// GetTransactions handles GET /api/transactions
func (h *APIHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = defaultListLimit
	}

	transactions, err := h.store.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		slog.Error("failed to list transactions", "user_id", userID, "error", err)
		http.Error(w, "Failed to fetch transactions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

// GetTransaction handles GET /api/transactions/{id}
func (h *APIHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	txn, err := h.store.GetTransaction(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to fetch transaction", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

// PatchTransaction handles PATCH /api/transactions/{id}
func (h *APIHandler) PatchTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var patch store.TransactionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if patch.IsZero() {
		http.Error(w, "Empty patch", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	err := h.store.UpdateTransaction(r.Context(), userID, id, patch)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("failed to update transaction", "transaction_id", id, "user_id", userID, "error", err)
		http.Error(w, "Failed to update transaction", http.StatusInternalServerError)
		return
	}

	txn, err := h.store.GetTransaction(r.Context(), userID, id)
	if err != nil {
		http.Error(w, "Failed to fetch transaction", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *APIHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	err := h.store.DeleteTransaction(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to delete transaction", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetAccounts handles GET /api/accounts
func (h *APIHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accounts, err := h.store.ListAccounts(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list accounts", "user_id", userID, "error", err)
		http.Error(w, "Failed to fetch accounts", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

// GetAnalytics handles GET /api/analytics?dimension=category|month&top=N
func (h *APIHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	dimension := r.URL.Query().Get("dimension")
	if dimension == "" {
		dimension = "category"
	}
	if dimension != "category" && dimension != "month" {
		http.Error(w, "dimension must be category or month", http.StatusBadRequest)
		return
	}

	top, err := intQuery(r, "top", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	transactions, err := h.store.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		http.Error(w, "Failed to fetch transactions", http.StatusInternalServerError)
		return
	}

	var buckets []aggregate.Bucket
	if dimension == "month" {
		buckets = aggregate.ByMonth(transactions)
	} else {
		buckets = aggregate.ByCategory(transactions)
	}
	buckets = aggregate.Top(buckets, top)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dimension": dimension,
		"buckets":   buckets,
	})
}

// GetSummary handles GET /api/summary
func (h *APIHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	top, err := intQuery(r, "top", defaultTopCategories)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	transactions, err := h.store.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		http.Error(w, "Failed to fetch transactions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, aggregate.Summarize(transactions, top))
}

func filterFromQuery(r *http.Request) (store.TransactionFilter, error) {
	q := r.URL.Query()
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		return store.TransactionFilter{}, err
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		return store.TransactionFilter{}, err
	}
	minAmount, err := amountQuery(r, "min")
	if err != nil {
		return store.TransactionFilter{}, err
	}
	maxAmount, err := amountQuery(r, "max")
	if err != nil {
		return store.TransactionFilter{}, err
	}
	return store.TransactionFilter{
		AccountID: q.Get("accountId"),
		Category:  q.Get("category"),
		Type:      q.Get("type"),
		Status:    q.Get("status"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Search:    q.Get("search"),
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		Limit:     limit,
		Offset:    offset,
	}, nil
}

// amountQuery validates a decimal query parameter and returns its canonical
// string form, or "" when absent.
func amountQuery(r *http.Request, name string) (string, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return "", nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return "", errors.New(name + " must be a decimal amount")
	}
	return v.String(), nil
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
