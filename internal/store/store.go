// Package store defines the persistence contract for transactions and
// accounts. Two backends implement it: an embedded SQLite database for local
// use and Firestore for the hosted deployment.
package store

import (
	"context"
	"errors"

	"github.com/florin-systems/finflow/internal/domain"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// TransactionFilter narrows ListTransactions. Zero-valued fields are ignored.
// From and To are inclusive YYYY-MM-DD bounds; MinAmount and MaxAmount are
// inclusive decimal-string bounds compared numerically; Search matches the
// description or note case-insensitively as a substring.
type TransactionFilter struct {
	AccountID string
	Category  string
	Type      string
	Status    string
	From      string
	To        string
	Search    string
	MinAmount string
	MaxAmount string
	Limit     int
	Offset    int
}

// TransactionPatch is a partial update. Nil fields are left untouched, so a
// merge can enrich a row without clobbering what is already there.
type TransactionPatch struct {
	Category       *string   `json:"category,omitempty"`
	ParentCategory *string   `json:"parentCategory,omitempty"`
	Note           *string   `json:"note,omitempty"`
	Status         *string   `json:"status,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	Recurring      *bool     `json:"recurring,omitempty"`
	Excluded       *bool     `json:"excluded,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p TransactionPatch) IsZero() bool {
	return p.Category == nil && p.ParentCategory == nil && p.Note == nil &&
		p.Status == nil && p.Tags == nil && p.Recurring == nil && p.Excluded == nil
}

// TransactionStore persists and queries transactions.
type TransactionStore interface {
	// CreateTransactions writes a batch of new rows in one round trip.
	CreateTransactions(ctx context.Context, txns []*domain.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, id string, patch TransactionPatch) error
	DeleteTransaction(ctx context.Context, userID, id string) error
	// FindSimilar returns rows for the account whose amount equals amount
	// exactly and whose date lies in [from, to]. It backs the duplicate
	// matcher's search window.
	FindSimilar(ctx context.Context, userID, accountID, amount, from, to string) ([]*domain.Transaction, error)
}

// AccountStore persists and queries accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, acc *domain.Account) error
	GetAccount(ctx context.Context, userID, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]*domain.Account, error)
}

// Store is the full persistence surface the import pipeline and the API
// depend on.
type Store interface {
	TransactionStore
	AccountStore
	Close() error
}
