// Package firestore implements the store contract on Cloud Firestore for
// the hosted deployment. Amounts are stored as canonical decimal strings so
// the duplicate matcher's equality search behaves identically to the SQLite
// backend.
package firestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/store"
)

const (
	transactionsCollection = "finflow-transactions"
	accountsCollection     = "finflow-accounts"
)

// Store wraps a Firestore client with transaction and account operations.
type Store struct {
	client *firestore.Client
	// Auth verifies Firebase ID tokens for the HTTP middleware.
	Auth      *auth.Client
	projectID string
}

// New initializes the Firebase app and opens Firestore and Auth clients.
func New(ctx context.Context, projectID string) (*Store, error) {
	conf := &firebase.Config{ProjectID: projectID}
	app, err := firebase.NewApp(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Store{
		client:    client,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

// transactionDoc is the Firestore document shape for one transaction.
type transactionDoc struct {
	ID             string    `firestore:"id"`
	UserID         string    `firestore:"userId"`
	Date           string    `firestore:"date"`
	Description    string    `firestore:"description"`
	Amount         string    `firestore:"amount"`
	Type           string    `firestore:"type"`
	AccountID      string    `firestore:"accountId"`
	AccountMask    string    `firestore:"accountMask"`
	Status         string    `firestore:"status"`
	Category       string    `firestore:"category"`
	ParentCategory string    `firestore:"parentCategory"`
	Excluded       bool      `firestore:"excluded"`
	Tags           []string  `firestore:"tags"`
	Note           string    `firestore:"note"`
	Recurring      bool      `firestore:"recurring"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

type accountDoc struct {
	ID          string    `firestore:"id"`
	UserID      string    `firestore:"userId"`
	Name        string    `firestore:"name"`
	Type        string    `firestore:"type"`
	Mask        string    `firestore:"mask"`
	Institution string    `firestore:"institution"`
	Balance     string    `firestore:"balance"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func toTransactionDoc(t *domain.Transaction) transactionDoc {
	return transactionDoc{
		ID:             t.ID,
		UserID:         t.UserID,
		Date:           t.Date,
		Description:    t.Description,
		Amount:         t.Amount.String(),
		Type:           string(t.Type),
		AccountID:      t.AccountID,
		AccountMask:    t.AccountMask,
		Status:         t.Status,
		Category:       t.Category,
		ParentCategory: t.ParentCategory,
		Excluded:       t.Excluded,
		Tags:           t.Tags,
		Note:           t.Note,
		Recurring:      t.Recurring,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (d transactionDoc) toDomain() (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q for transaction %s: %w", d.Amount, d.ID, err)
	}
	return &domain.Transaction{
		ID:             d.ID,
		UserID:         d.UserID,
		Date:           d.Date,
		Description:    d.Description,
		Amount:         amount,
		Type:           domain.TransactionType(d.Type),
		AccountID:      d.AccountID,
		AccountMask:    d.AccountMask,
		Status:         d.Status,
		Category:       d.Category,
		ParentCategory: d.ParentCategory,
		Excluded:       d.Excluded,
		Tags:           d.Tags,
		Note:           d.Note,
		Recurring:      d.Recurring,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

// CreateTransactions writes one batch atomically inside a Firestore
// transaction, mirroring the SQLite backend's all-or-nothing batches.
func (s *Store) CreateTransactions(ctx context.Context, txns []*domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, t := range txns {
			ref := s.client.Collection(transactionsCollection).Doc(t.ID)
			if err := tx.Set(ref, toTransactionDoc(t)); err != nil {
				return fmt.Errorf("failed to write transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// GetTransaction retrieves one transaction. Documents owned by other users
// read as not found.
func (s *Store) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	doc, err := s.client.Collection(transactionsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}

	var d transactionDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if d.UserID != userID {
		return nil, store.ErrNotFound
	}
	return d.toDomain()
}

// ListTransactions retrieves a user's transactions, newest date first.
func (s *Store) ListTransactions(ctx context.Context, userID string, f store.TransactionFilter) ([]*domain.Transaction, error) {
	q := s.client.Collection(transactionsCollection).Where("userId", "==", userID)
	if f.AccountID != "" {
		q = q.Where("accountId", "==", f.AccountID)
	}
	if f.Category != "" {
		q = q.Where("category", "==", f.Category)
	}
	if f.Type != "" {
		q = q.Where("type", "==", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status", "==", f.Status)
	}
	if f.From != "" {
		q = q.Where("date", ">=", f.From)
	}
	if f.To != "" {
		q = q.Where("date", "<=", f.To)
	}
	q = q.OrderBy("date", firestore.Desc)

	// Search and amount bounds cannot be expressed over string-typed amount
	// fields, so they filter client-side; offset and limit then have to
	// apply after that pass.
	clientSide := f.Search != "" || f.MinAmount != "" || f.MaxAmount != ""
	if !clientSide {
		if f.Offset > 0 {
			q = q.Offset(f.Offset)
		}
		if f.Limit > 0 {
			q = q.Limit(f.Limit)
		}
	}

	transactions, err := s.iterate(ctx, q.Documents(ctx), userID)
	if err != nil || !clientSide {
		return transactions, err
	}

	filtered, err := applyClientFilters(transactions, f)
	if err != nil {
		return nil, err
	}
	if f.Offset > 0 {
		if f.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(filtered) {
		filtered = filtered[:f.Limit]
	}
	return filtered, nil
}

func applyClientFilters(txns []*domain.Transaction, f store.TransactionFilter) ([]*domain.Transaction, error) {
	var minAmt, maxAmt decimal.Decimal
	var err error
	if f.MinAmount != "" {
		if minAmt, err = decimal.NewFromString(f.MinAmount); err != nil {
			return nil, fmt.Errorf("invalid minimum amount %q: %w", f.MinAmount, err)
		}
	}
	if f.MaxAmount != "" {
		if maxAmt, err = decimal.NewFromString(f.MaxAmount); err != nil {
			return nil, fmt.Errorf("invalid maximum amount %q: %w", f.MaxAmount, err)
		}
	}
	search := strings.ToLower(f.Search)

	var out []*domain.Transaction
	for _, t := range txns {
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Description), search) &&
			!strings.Contains(strings.ToLower(t.Note), search) {
			continue
		}
		if f.MinAmount != "" && t.Amount.LessThan(minAmt) {
			continue
		}
		if f.MaxAmount != "" && t.Amount.GreaterThan(maxAmt) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateTransaction applies the non-nil patch fields to one transaction.
func (s *Store) UpdateTransaction(ctx context.Context, userID, id string, patch store.TransactionPatch) error {
	if patch.IsZero() {
		return nil
	}
	// Ownership check before the write; a foreign document reads as missing.
	if _, err := s.GetTransaction(ctx, userID, id); err != nil {
		return err
	}

	updates := []firestore.Update{{Path: "updatedAt", Value: time.Now().UTC()}}
	if patch.Category != nil {
		updates = append(updates, firestore.Update{Path: "category", Value: *patch.Category})
	}
	if patch.ParentCategory != nil {
		updates = append(updates, firestore.Update{Path: "parentCategory", Value: *patch.ParentCategory})
	}
	if patch.Note != nil {
		updates = append(updates, firestore.Update{Path: "note", Value: *patch.Note})
	}
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: *patch.Status})
	}
	if patch.Tags != nil {
		updates = append(updates, firestore.Update{Path: "tags", Value: *patch.Tags})
	}
	if patch.Recurring != nil {
		updates = append(updates, firestore.Update{Path: "recurring", Value: *patch.Recurring})
	}
	if patch.Excluded != nil {
		updates = append(updates, firestore.Update{Path: "excluded", Value: *patch.Excluded})
	}

	_, err := s.client.Collection(transactionsCollection).Doc(id).Update(ctx, updates)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", id, err)
	}
	return nil
}

// DeleteTransaction removes one transaction after an ownership check.
func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	if _, err := s.GetTransaction(ctx, userID, id); err != nil {
		return err
	}
	if _, err := s.client.Collection(transactionsCollection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, err)
	}
	return nil
}

// FindSimilar returns the account's rows with the exact amount inside the
// inclusive [from, to] date window.
func (s *Store) FindSimilar(ctx context.Context, userID, accountID, amount, from, to string) ([]*domain.Transaction, error) {
	q := s.client.Collection(transactionsCollection).
		Where("userId", "==", userID).
		Where("accountId", "==", accountID).
		Where("amount", "==", amount).
		Where("date", ">=", from).
		Where("date", "<=", to)

	return s.iterate(ctx, q.Documents(ctx), userID)
}

func (s *Store) iterate(ctx context.Context, iter *firestore.DocumentIterator, userID string) ([]*domain.Transaction, error) {
	var transactions []*domain.Transaction
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions for user %s: %w", userID, err)
		}

		var d transactionDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		txn, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	return transactions, nil
}

// CreateAccount creates a new account document.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	doc := accountDoc{
		ID:          acc.ID,
		UserID:      acc.UserID,
		Name:        acc.Name,
		Type:        string(acc.Type),
		Mask:        acc.Mask,
		Institution: acc.Institution,
		Balance:     acc.Balance.String(),
		CreatedAt:   acc.CreatedAt,
		UpdatedAt:   acc.UpdatedAt,
	}
	_, err := s.client.Collection(accountsCollection).Doc(acc.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", acc.ID, err)
	}
	return nil
}

// GetAccount retrieves one account.
func (s *Store) GetAccount(ctx context.Context, userID, id string) (*domain.Account, error) {
	doc, err := s.client.Collection(accountsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}

	var d accountDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to parse account: %w", err)
	}
	if d.UserID != userID {
		return nil, store.ErrNotFound
	}
	return d.toDomain()
}

// ListAccounts retrieves all accounts for a user, sorted by name.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]*domain.Account, error) {
	iter := s.client.Collection(accountsCollection).
		Where("userId", "==", userID).
		Documents(ctx)

	var accounts []*domain.Account
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate accounts for user %s: %w", userID, err)
		}

		var d accountDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse account: %w", err)
		}
		acc, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

func (d accountDoc) toDomain() (*domain.Account, error) {
	balance, err := decimal.NewFromString(d.Balance)
	if err != nil {
		return nil, fmt.Errorf("invalid stored balance %q for account %s: %w", d.Balance, d.ID, err)
	}
	return &domain.Account{
		ID:          d.ID,
		UserID:      d.UserID,
		Name:        d.Name,
		Type:        domain.AccountType(d.Type),
		Mask:        d.Mask,
		Institution: d.Institution,
		Balance:     balance,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

var _ store.Store = (*Store)(nil)
