// Package sqlite implements the store on an embedded SQLite database.
// Dates are stored as YYYY-MM-DD text and amounts as canonical decimal
// strings so no precision is lost crossing the driver boundary.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	date            TEXT NOT NULL,
	description     TEXT NOT NULL,
	amount          TEXT NOT NULL,
	type            TEXT NOT NULL,
	account_id      TEXT NOT NULL,
	account_mask    TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	parent_category TEXT NOT NULL DEFAULT '',
	excluded        INTEGER NOT NULL DEFAULT 0,
	tags            TEXT NOT NULL DEFAULT '',
	note            TEXT NOT NULL DEFAULT '',
	recurring       INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_date
	ON transactions (user_id, date);

CREATE INDEX IF NOT EXISTS idx_transactions_similar
	ON transactions (user_id, account_id, amount, date);

CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	mask        TEXT NOT NULL DEFAULT '',
	institution TEXT NOT NULL DEFAULT '',
	balance     TEXT NOT NULL DEFAULT '0',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_user
	ON accounts (user_id);
`

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const txnColumns = `id, user_id, date, description, amount, type, account_id,
	account_mask, status, category, parent_category, excluded, tags, note,
	recurring, created_at, updated_at`

// CreateTransactions inserts the batch inside a single database transaction
// so a failed batch leaves no partial rows behind.
func (s *Store) CreateTransactions(ctx context.Context, txns []*domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions (`+txnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txns {
		_, err := stmt.ExecContext(ctx,
			t.ID, t.UserID, t.Date, t.Description, t.Amount.String(), string(t.Type),
			t.AccountID, t.AccountMask, t.Status, t.Category, t.ParentCategory,
			boolInt(t.Excluded), strings.Join(t.Tags, ","), t.Note, boolInt(t.Recurring),
			t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// GetTransaction fetches one row, returning store.ErrNotFound if absent.
func (s *Store) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE user_id = ? AND id = ?`, userID, id)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return t, nil
}

// ListTransactions returns rows ordered by date descending.
func (s *Store) ListTransactions(ctx context.Context, userID string, f store.TransactionFilter) ([]*domain.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE user_id = ?`
	args := []any{userID}

	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.From != "" {
		query += ` AND date >= ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		query += ` AND date <= ?`
		args = append(args, f.To)
	}
	if f.Search != "" {
		query += ` AND (description LIKE ? ESCAPE '\' OR note LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(f.Search) + "%"
		args = append(args, pattern, pattern)
	}
	// Amounts are stored as decimal text; cast for numeric comparison.
	if f.MinAmount != "" {
		query += ` AND CAST(amount AS REAL) >= CAST(? AS REAL)`
		args = append(args, f.MinAmount)
	}
	if f.MaxAmount != "" {
		query += ` AND CAST(amount AS REAL) <= CAST(? AS REAL)`
		args = append(args, f.MaxAmount)
	}

	query += ` ORDER BY date DESC, created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// UpdateTransaction applies the non-nil patch fields and bumps updated_at.
func (s *Store) UpdateTransaction(ctx context.Context, userID, id string, patch store.TransactionPatch) error {
	if patch.IsZero() {
		return nil
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *patch.Category)
	}
	if patch.ParentCategory != nil {
		sets = append(sets, "parent_category = ?")
		args = append(args, *patch.ParentCategory)
	}
	if patch.Note != nil {
		sets = append(sets, "note = ?")
		args = append(args, *patch.Note)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, strings.Join(*patch.Tags, ","))
	}
	if patch.Recurring != nil {
		sets = append(sets, "recurring = ?")
		args = append(args, boolInt(*patch.Recurring))
	}
	if patch.Excluded != nil {
		sets = append(sets, "excluded = ?")
		args = append(args, boolInt(*patch.Excluded))
	}

	args = append(args, userID, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE user_id = ? AND id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteTransaction removes one row, returning store.ErrNotFound if absent.
func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindSimilar backs the duplicate matcher: exact amount, bounded date range.
func (s *Store) FindSimilar(ctx context.Context, userID, accountID, amount, from, to string) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txnColumns+` FROM transactions
		 WHERE user_id = ? AND account_id = ? AND amount = ? AND date >= ? AND date <= ?`,
		userID, accountID, amount, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, type, mask, institution, balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.UserID, acc.Name, string(acc.Type), acc.Mask, acc.Institution,
		acc.Balance.String(),
		acc.CreatedAt.UTC().Format(time.RFC3339Nano), acc.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", acc.ID, err)
	}
	return nil
}

// GetAccount fetches one account, returning store.ErrNotFound if absent.
func (s *Store) GetAccount(ctx context.Context, userID, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, type, mask, institution, balance, created_at, updated_at
		 FROM accounts WHERE user_id = ? AND id = ?`, userID, id)

	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}
	return acc, nil
}

// ListAccounts returns the user's accounts ordered by name.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, mask, institution, balance, created_at, updated_at
		 FROM accounts WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(sc scanner) (*domain.Transaction, error) {
	var (
		t                    domain.Transaction
		amount, txnType      string
		tags                 string
		excluded, recurring  int
		createdAt, updatedAt string
	)
	err := sc.Scan(&t.ID, &t.UserID, &t.Date, &t.Description, &amount, &txnType,
		&t.AccountID, &t.AccountMask, &t.Status, &t.Category, &t.ParentCategory,
		&excluded, &tags, &t.Note, &recurring, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	t.Type = domain.TransactionType(txnType)
	t.Excluded = excluded != 0
	t.Recurring = recurring != 0
	if tags != "" {
		t.Tags = strings.Split(tags, ",")
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid stored created_at %q: %w", createdAt, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid stored updated_at %q: %w", updatedAt, err)
	}
	return &t, nil
}

func scanAccount(sc scanner) (*domain.Account, error) {
	var (
		acc                  domain.Account
		accType, balance     string
		createdAt, updatedAt string
	)
	err := sc.Scan(&acc.ID, &acc.UserID, &acc.Name, &accType, &acc.Mask,
		&acc.Institution, &balance, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	acc.Type = domain.AccountType(accType)
	if acc.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("invalid stored balance %q: %w", balance, err)
	}
	if acc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid stored created_at %q: %w", createdAt, err)
	}
	if acc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid stored updated_at %q: %w", updatedAt, err)
	}
	return &acc, nil
}

func collectTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
