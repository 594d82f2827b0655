package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTransaction(id, date, description, amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		UserID:      "user-1",
		Date:        date,
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Type:        domain.TypeExpense,
		AccountID:   "acct-1",
		CreatedAt:   time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestTransactionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txn := testTransaction("txn-1", "2025-01-15", "WHOLE FOODS MARKET", "-82.14")
	txn.AccountMask = "1234"
	txn.Status = "posted"
	txn.Category = "Groceries"
	txn.ParentCategory = "Food"
	txn.Excluded = true
	txn.Tags = []string{"organic", "weekly"}
	txn.Note = "stock up"
	txn.Recurring = true

	require.NoError(t, s.CreateTransactions(ctx, []*domain.Transaction{txn}))

	got, err := s.GetTransaction(ctx, "user-1", "txn-1")
	require.NoError(t, err)

	assert.Equal(t, txn.ID, got.ID)
	assert.Equal(t, txn.UserID, got.UserID)
	assert.Equal(t, txn.Date, got.Date)
	assert.Equal(t, txn.Description, got.Description)
	assert.True(t, txn.Amount.Equal(got.Amount))
	assert.Equal(t, domain.TypeExpense, got.Type)
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, "1234", got.AccountMask)
	assert.Equal(t, "posted", got.Status)
	assert.Equal(t, "Groceries", got.Category)
	assert.Equal(t, "Food", got.ParentCategory)
	assert.True(t, got.Excluded)
	assert.Equal(t, []string{"organic", "weekly"}, got.Tags)
	assert.Equal(t, "stock up", got.Note)
	assert.True(t, got.Recurring)
	assert.True(t, txn.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, txn.UpdatedAt.Equal(got.UpdatedAt))
}

func TestGetTransactionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTransaction(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetTransactionWrongUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTransactions(ctx, []*domain.Transaction{
		testTransaction("txn-1", "2025-01-15", "COFFEE", "-5.75"),
	}))

	_, err := s.GetTransaction(ctx, "user-2", "txn-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateTransactionsEmptyBatch(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.CreateTransactions(context.Background(), nil))
}

func TestCreateTransactionsBatchIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTransactions(ctx, []*domain.Transaction{
		testTransaction("txn-1", "2025-01-15", "COFFEE", "-5.75"),
	}))

	// Second row collides on the primary key; the whole batch must roll back.
	err := s.CreateTransactions(ctx, []*domain.Transaction{
		testTransaction("txn-2", "2025-01-16", "LUNCH", "-12.00"),
		testTransaction("txn-1", "2025-01-15", "COFFEE", "-5.75"),
	})
	require.Error(t, err)

	_, err = s.GetTransaction(ctx, "user-1", "txn-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	groceries := testTransaction("txn-1", "2025-01-15", "WHOLE FOODS", "-82.14")
	groceries.Category = "Groceries"
	payroll := testTransaction("txn-2", "2025-01-31", "PAYROLL", "2500.00")
	payroll.Type = domain.TypeIncome
	payroll.Status = "posted"
	payroll.Note = "January salary"
	other := testTransaction("txn-3", "2025-02-03", "COFFEE", "-5.75")
	other.AccountID = "acct-2"

	require.NoError(t, s.CreateTransactions(ctx, []*domain.Transaction{groceries, payroll, other}))

	t.Run("all ordered by date desc", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "txn-3", got[0].ID)
		assert.Equal(t, "txn-2", got[1].ID)
		assert.Equal(t, "txn-1", got[2].ID)
	})

	t.Run("by account", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{AccountID: "acct-2"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "txn-3", got[0].ID)
	})

	t.Run("by category", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{Category: "Groceries"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "txn-1", got[0].ID)
	})

	t.Run("by type and status", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{Type: "income", Status: "posted"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "txn-2", got[0].ID)
	})

	t.Run("date range inclusive", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{From: "2025-01-15", To: "2025-01-31"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("search matches description substring", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{Search: "whole"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "txn-1", got[0].ID)
	})

	t.Run("search matches note substring", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{Search: "salary"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "txn-2", got[0].ID)
	})

	t.Run("search escapes like wildcards", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{Search: "%"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("amount bounds compare numerically", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{MinAmount: "-10", MaxAmount: "0"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "txn-3", got[0].ID)
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-1", store.TransactionFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "txn-2", got[0].ID)
	})

	t.Run("other user sees nothing", func(t *testing.T) {
		got, err := s.ListTransactions(ctx, "user-2", store.TransactionFilter{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestUpdateTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txn := testTransaction("txn-1", "2025-01-15", "NETFLIX.COM", "-15.99")
	require.NoError(t, s.CreateTransactions(ctx, []*domain.Transaction{txn}))

	category := "Streaming"
	note := "family plan"
	tags := []string{"subscription"}
	recurring := true
	err := s.UpdateTransaction(ctx, "user-1", "txn-1", store.TransactionPatch{
		Category:  &category,
		Note:      &note,
		Tags:      &tags,
		Recurring: &recurring,
	})
	require.NoError(t, err)

	got, err := s.GetTransaction(ctx, "user-1", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "Streaming", got.Category)
	assert.Equal(t, "family plan", got.Note)
	assert.Equal(t, []string{"subscription"}, got.Tags)
	assert.True(t, got.Recurring)
	assert.Equal(t, "NETFLIX.COM", got.Description)
	assert.True(t, got.UpdatedAt.After(txn.UpdatedAt))
}

func TestUpdateTransactionEmptyPatchIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.UpdateTransaction(context.Background(), "user-1", "missing", store.TransactionPatch{}))
}

func TestUpdateTransactionNotFound(t *testing.T) {
	s := newTestStore(t)

	status := "posted"
	err := s.UpdateTransaction(context.Background(), "user-1", "missing", store.TransactionPatch{Status: &status})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTransactions(ctx, []*domain.Transaction{
		testTransaction("txn-1", "2025-01-15", "COFFEE", "-5.75"),
	}))

	require.NoError(t, s.DeleteTransaction(ctx, "user-1", "txn-1"))

	_, err := s.GetTransaction(ctx, "user-1", "txn-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.DeleteTransaction(ctx, "user-1", "txn-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindSimilar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	match := testTransaction("txn-1", "2025-01-15", "SHELL OIL", "-40")
	edge := testTransaction("txn-2", "2025-01-18", "SHELL OIL", "-40")
	outside := testTransaction("txn-3", "2025-01-19", "SHELL OIL", "-40")
	wrongAmount := testTransaction("txn-4", "2025-01-15", "SHELL OIL", "-40.5")
	otherAccount := testTransaction("txn-5", "2025-01-15", "SHELL OIL", "-40")
	otherAccount.AccountID = "acct-2"

	require.NoError(t, s.CreateTransactions(ctx, []*domain.Transaction{match, edge, outside, wrongAmount, otherAccount}))

	got, err := s.FindSimilar(ctx, "user-1", "acct-1", "-40", "2025-01-12", "2025-01-18")
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []string{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []string{"txn-1", "txn-2"}, ids)
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acc := &domain.Account{
		ID:          "acct-1",
		UserID:      "user-1",
		Name:        "Sapphire Card",
		Type:        domain.AccountTypeCredit,
		Mask:        "4321",
		Institution: "Chase",
		Balance:     decimal.RequireFromString("-152.40"),
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateAccount(ctx, acc))

	got, err := s.GetAccount(ctx, "user-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "Sapphire Card", got.Name)
	assert.Equal(t, domain.AccountTypeCredit, got.Type)
	assert.Equal(t, "4321", got.Mask)
	assert.Equal(t, "Chase", got.Institution)
	assert.True(t, acc.Balance.Equal(got.Balance))

	_, err = s.GetAccount(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListAccountsSortedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Savings", "Checking", "Brokerage"} {
		acc, err := domain.NewAccount("acct-"+name, "user-1", name, domain.AccountTypeChecking)
		require.NoError(t, err)
		require.NoError(t, s.CreateAccount(ctx, acc))
	}

	got, err := s.ListAccounts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Brokerage", got[0].Name)
	assert.Equal(t, "Checking", got[1].Name)
	assert.Equal(t, "Savings", got[2].Name)

	other, err := s.ListAccounts(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStoreImplementsInterface(t *testing.T) {
	var _ store.Store = (*Store)(nil)
}
