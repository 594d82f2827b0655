package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical storage format for transaction dates.
const DateLayout = "2006-01-02"

// TransactionType represents the transaction type enum.
// Use ValidateTransactionType to ensure validity before use.
type TransactionType string

const (
	TypeIncome     TransactionType = "income"
	TypeExpense    TransactionType = "expense"
	TypeCredit     TransactionType = "credit"
	TypeDebit      TransactionType = "debit"
	TypeTransfer   TransactionType = "transfer"
	TypeInvestment TransactionType = "investment"
)

// AccountType represents the account type enum.
// Use ValidateAccountType to ensure validity before use.
type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeLoan       AccountType = "loan"
	AccountTypeRetirement AccountType = "retirement"
)

var (
	validTransactionTypes = map[TransactionType]struct{}{
		TypeIncome: {}, TypeExpense: {}, TypeCredit: {},
		TypeDebit: {}, TypeTransfer: {}, TypeInvestment: {},
	}

	validAccountTypes = map[AccountType]struct{}{
		AccountTypeChecking: {}, AccountTypeSavings: {},
		AccountTypeCredit: {}, AccountTypeInvestment: {},
		AccountTypeLoan: {}, AccountTypeRetirement: {},
	}
)

// Transaction is the persisted ledger record.
type Transaction struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Date        string `json:"date"` // ISO format YYYY-MM-DD
	Description string `json:"description"`
	// Sign convention:
	//   Positive = income/inflow (deposits, refunds, salary)
	//   Negative = expense/outflow (charges, withdrawals)
	// Parsers must normalize to this convention regardless of source file representation.
	Amount         decimal.Decimal `json:"amount"`
	Type           TransactionType `json:"type"`
	AccountID      string          `json:"accountId"`
	AccountMask    string          `json:"accountMask,omitempty"`
	Status         string          `json:"status,omitempty"`
	Category       string          `json:"category,omitempty"`
	ParentCategory string          `json:"parentCategory,omitempty"`
	Excluded       bool            `json:"excluded"`
	Tags           []string        `json:"tags,omitempty"`
	Note           string          `json:"note,omitempty"`
	Recurring      bool            `json:"recurring"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Account is a persisted account record. Transactions resolve their
// AccountID against these by name during validation.
type Account struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	Type        AccountType     `json:"type"`
	Mask        string          `json:"mask,omitempty"`
	Institution string          `json:"institution,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Candidate is one parsed source row before validation. Date and Amount
// stay raw strings so malformed values survive parsing and surface as
// validation issues instead of parser failures. The Parsed* fields and
// AccountID are populated by the validator.
type Candidate struct {
	Row            int // 1-based data row index, excluding the header
	SourceFile     string
	Date           string
	Description    string
	Amount         string
	Type           string
	Status         string
	Category       string
	ParentCategory string
	Excluded       bool
	Tags           []string
	Note           string
	Recurring      bool
	AccountName    string
	AccountMask    string

	ParsedDate   time.Time
	ParsedAmount decimal.Decimal
	AccountID    string
}

// NewTransaction creates a validated transaction from a vetted candidate.
func NewTransaction(id, userID string, c *Candidate) (*Transaction, error) {
	if id == "" {
		return nil, fmt.Errorf("transaction ID cannot be empty")
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}
	if c.ParsedDate.IsZero() {
		return nil, fmt.Errorf("candidate date not parsed")
	}
	if c.AccountID == "" {
		return nil, fmt.Errorf("candidate account not resolved")
	}
	if strings.TrimSpace(c.Description) == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}

	txnType := TransactionType(c.Type)
	if c.Type == "" {
		txnType = DeriveType(c.ParsedAmount)
	} else if !ValidateTransactionType(txnType) {
		return nil, fmt.Errorf("invalid transaction type: %s", c.Type)
	}

	now := time.Now().UTC()
	return &Transaction{
		ID:             id,
		UserID:         userID,
		Date:           c.ParsedDate.Format(DateLayout),
		Description:    strings.TrimSpace(c.Description),
		Amount:         c.ParsedAmount,
		Type:           txnType,
		AccountID:      c.AccountID,
		AccountMask:    c.AccountMask,
		Status:         c.Status,
		Category:       c.Category,
		ParentCategory: c.ParentCategory,
		Excluded:       c.Excluded,
		Tags:           append([]string(nil), c.Tags...),
		Note:           c.Note,
		Recurring:      c.Recurring,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// NewAccount creates a validated account.
func NewAccount(id, userID, name string, accountType AccountType) (*Account, error) {
	if id == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}
	if name == "" {
		return nil, fmt.Errorf("account name cannot be empty")
	}
	if !ValidateAccountType(accountType) {
		return nil, fmt.Errorf("invalid account type: %s", accountType)
	}

	now := time.Now().UTC()
	return &Account{
		ID:        id,
		UserID:    userID,
		Name:      name,
		Type:      accountType,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DeriveType maps an amount sign to a transaction type for rows that
// carry no explicit type column.
func DeriveType(amount decimal.Decimal) TransactionType {
	if amount.Sign() > 0 {
		return TypeIncome
	}
	return TypeExpense
}

// ValidateTransactionType checks if transaction type is valid
func ValidateTransactionType(t TransactionType) bool {
	_, ok := validTransactionTypes[t]
	return ok
}

// ValidateAccountType checks if account type is valid
func ValidateAccountType(t AccountType) bool {
	_, ok := validAccountTypes[t]
	return ok
}
