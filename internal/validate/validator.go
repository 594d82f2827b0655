// Package validate performs row-level validation of import candidates.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/florin-systems/finflow/internal/domain"
)

// AccountStore is the subset of the store needed to resolve and create
// accounts during validation.
type AccountStore interface {
	ListAccounts(ctx context.Context, userID string) ([]*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
}

// Options control validation behavior.
type Options struct {
	// RequireExistingAccount rejects rows naming accounts that do not
	// already exist, instead of creating them on the fly.
	RequireExistingAccount bool
}

// Validator checks candidates row by row, resolving account references
// against the store.
type Validator struct {
	accounts AccountStore
	opts     Options
}

// New creates a validator backed by the given account store.
func New(accounts AccountStore, opts Options) *Validator {
	return &Validator{accounts: accounts, opts: opts}
}

// Verdict is the validation outcome for one candidate. When Valid is true
// the candidate's ParsedDate, ParsedAmount, and AccountID are populated.
type Verdict struct {
	Candidate   *domain.Candidate
	Valid       bool
	Issue       string // short classification, e.g. "Invalid date"
	Description string // detail for the report, may be empty
}

// Message formats the verdict for the import report.
func (v *Verdict) Message() string {
	description := v.Description
	if description == "" {
		description = "No description"
	}
	return fmt.Sprintf("Row %d: %s - %s", v.Candidate.Row, v.Issue, description)
}

// Session is a per-import validation pass. It snapshots the user's accounts
// once so per-row resolution never hits the store, and tracks accounts it
// creates mid-run.
type Session struct {
	v       *Validator
	userID  string
	byName  map[string]*domain.Account
	created []*domain.Account
}

// Begin starts a validation session for one user, loading their accounts.
func (v *Validator) Begin(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}

	accounts, err := v.accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts for validation: %w", err)
	}

	byName := make(map[string]*domain.Account, len(accounts))
	for _, a := range accounts {
		byName[normalizeAccountName(a.Name)] = a
	}

	return &Session{v: v, userID: userID, byName: byName}, nil
}

// CreatedAccounts returns accounts created during this session, in order.
func (s *Session) CreatedAccounts() []*domain.Account {
	return append([]*domain.Account(nil), s.created...)
}

// Validate checks one candidate. Invalid rows get a verdict naming the
// problem; valid rows come back with parsed date, amount, and account ID
// filled in on the candidate.
func (s *Session) Validate(ctx context.Context, c *domain.Candidate) Verdict {
	if strings.TrimSpace(c.Date) == "" {
		return Verdict{Candidate: c, Issue: "Missing date", Description: c.Description}
	}

	date, err := ParseDate(c.Date)
	if err != nil {
		return Verdict{Candidate: c, Issue: "Invalid date", Description: c.Description}
	}

	if strings.TrimSpace(c.Amount) == "" {
		return Verdict{Candidate: c, Issue: "Missing amount", Description: c.Description}
	}

	amount, err := ParseAmount(c.Amount)
	if err != nil {
		return Verdict{Candidate: c, Issue: "Invalid amount", Description: c.Description}
	}

	if strings.TrimSpace(c.Description) == "" {
		return Verdict{Candidate: c, Issue: "Missing description"}
	}

	// Ledger exports carry type values like "regular" that mean nothing
	// here; drop them so the amount sign decides the type downstream.
	if c.Type != "" && !domain.ValidateTransactionType(domain.TransactionType(c.Type)) {
		c.Type = ""
	}

	if strings.TrimSpace(c.AccountName) == "" {
		return Verdict{Candidate: c, Issue: "Missing account", Description: c.Description}
	}

	account, err := s.resolveAccount(ctx, c)
	if err != nil {
		return Verdict{Candidate: c, Issue: "Unknown account", Description: c.Description}
	}

	c.ParsedDate = date
	c.ParsedAmount = amount
	c.AccountID = account.ID
	if c.AccountMask == "" {
		c.AccountMask = account.Mask
	}

	return Verdict{Candidate: c, Valid: true}
}

func (s *Session) resolveAccount(ctx context.Context, c *domain.Candidate) (*domain.Account, error) {
	key := normalizeAccountName(c.AccountName)
	if account, ok := s.byName[key]; ok {
		return account, nil
	}

	if s.v.opts.RequireExistingAccount {
		return nil, fmt.Errorf("account %q not found", c.AccountName)
	}

	account, err := domain.NewAccount(uuid.NewString(), s.userID, strings.TrimSpace(c.AccountName), accountTypeFor(c))
	if err != nil {
		return nil, fmt.Errorf("failed to build account %q: %w", c.AccountName, err)
	}
	account.Mask = c.AccountMask

	if err := s.v.accounts.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account %q: %w", c.AccountName, err)
	}

	s.byName[key] = account
	s.created = append(s.created, account)
	return account, nil
}

// accountTypeFor guesses an account type for auto-created accounts.
// Credit rows come from card statements; everything else defaults to checking.
func accountTypeFor(c *domain.Candidate) domain.AccountType {
	name := strings.ToLower(c.AccountName)
	switch {
	case strings.Contains(name, "card") || strings.Contains(name, "credit"):
		return domain.AccountTypeCredit
	case strings.Contains(name, "saving"):
		return domain.AccountTypeSavings
	default:
		return domain.AccountTypeChecking
	}
}

func normalizeAccountName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// dateLayouts are the formats accepted in source files, probed in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// ParseDate parses a raw date cell into a UTC midnight time.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", raw)
}

// ParseAmount parses a raw amount cell into a decimal. Currency symbols and
// thousands separators are stripped; parenthesized values are negative.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}

	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unrecognized amount: %q", raw)
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}
