package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/florin-systems/finflow/internal/domain"
)

type fakeIndex struct {
	txns []*domain.Transaction
	err  error

	lastAccountID string
	lastFrom      string
	lastTo        string
}

func (f *fakeIndex) FindSimilar(_ context.Context, _, accountID, _, from, to string) ([]*domain.Transaction, error) {
	f.lastAccountID = accountID
	f.lastFrom = from
	f.lastTo = to
	if f.err != nil {
		return nil, f.err
	}
	return f.txns, nil
}

func candidate(date, description, amount string) *domain.Candidate {
	day, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return &domain.Candidate{
		Row:          1,
		Date:         date,
		Description:  description,
		Amount:       amount,
		ParsedDate:   day,
		ParsedAmount: decimal.RequireFromString(amount),
		AccountID:    "acct-1",
	}
}

func transaction(id, date, description, amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		UserID:      "user-1",
		Date:        date,
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		AccountID:   "acct-1",
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, DefaultThreshold); err == nil {
		t.Error("expected error for nil index")
	}
	if _, err := New(&fakeIndex{}, -1); err == nil {
		t.Error("expected error for negative threshold")
	}
	if _, err := New(&fakeIndex{}, 101); err == nil {
		t.Error("expected error for threshold above 100")
	}
	m, err := New(&fakeIndex{}, DefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil matcher")
	}
}

func TestEvaluateExactDuplicateSkips(t *testing.T) {
	idx := &fakeIndex{txns: []*domain.Transaction{
		transaction("txn-1", "2025-01-15", "STARBUCKS STORE 0441", "-5.75"),
	}}
	m, _ := New(idx, DefaultThreshold)

	eval, err := m.Evaluate(context.Background(), "user-1", candidate("2025-01-15", "STARBUCKS STORE 0441", "-5.75"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Decision != Skip {
		t.Errorf("expected skip, got %s", eval.Decision)
	}
	if eval.Score != 100 {
		t.Errorf("expected score 100, got %d", eval.Score)
	}
	if eval.Existing == nil || eval.Existing.ID != "txn-1" {
		t.Error("expected match against txn-1")
	}
}

func TestEvaluateSearchWindow(t *testing.T) {
	idx := &fakeIndex{}
	m, _ := New(idx, DefaultThreshold)

	if _, err := m.Evaluate(context.Background(), "user-1", candidate("2025-01-15", "COFFEE", "-5.75"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.lastAccountID != "acct-1" {
		t.Errorf("expected account acct-1, got %q", idx.lastAccountID)
	}
	if idx.lastFrom != "2025-01-12" || idx.lastTo != "2025-01-18" {
		t.Errorf("expected window 2025-01-12..2025-01-18, got %s..%s", idx.lastFrom, idx.lastTo)
	}
}

func TestEvaluateNoMatchCreates(t *testing.T) {
	idx := &fakeIndex{txns: []*domain.Transaction{
		transaction("txn-1", "2025-01-15", "WHOLE FOODS MARKET", "-82.14"),
	}}
	m, _ := New(idx, DefaultThreshold)

	tests := []struct {
		name string
		c    *domain.Candidate
	}{
		{"different amount", candidate("2025-01-15", "WHOLE FOODS MARKET", "-82.15")},
		{"outside date window", candidate("2025-01-20", "WHOLE FOODS MARKET", "-82.14")},
		{"unrelated description", candidate("2025-01-15", "PAYROLL ACME CORP", "-82.14")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := m.Evaluate(context.Background(), "user-1", tt.c, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if eval.Decision != Create {
				t.Errorf("expected create, got %s (score %d)", eval.Decision, eval.Score)
			}
			if eval.Existing != nil {
				t.Error("expected no matched row")
			}
		})
	}
}

func TestEvaluateDateProximity(t *testing.T) {
	// Identical description contributes 50; each day of distance costs 12.
	tests := []struct {
		date      string
		wantScore int
		wantSkip  bool
	}{
		{"2025-01-15", 100, true},
		{"2025-01-16", 88, true},
		{"2025-01-13", 76, true},
		{"2025-01-12", 64, true},
		{"2025-01-11", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			idx := &fakeIndex{txns: []*domain.Transaction{
				transaction("txn-1", "2025-01-15", "SHELL OIL 57444", "-40.00"),
			}}
			m, _ := New(idx, DefaultThreshold)

			eval, err := m.Evaluate(context.Background(), "user-1", candidate(tt.date, "SHELL OIL 57444", "-40.00"), nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantSkip && eval.Decision != Skip {
				t.Errorf("expected skip, got %s", eval.Decision)
			}
			if !tt.wantSkip && eval.Decision != Create {
				t.Errorf("expected create, got %s", eval.Decision)
			}
			if eval.Score != tt.wantScore {
				t.Errorf("expected score %d, got %d", tt.wantScore, eval.Score)
			}
		})
	}
}

func TestEvaluateBelowThresholdAlwaysCreates(t *testing.T) {
	// Same day but weak description overlap: date 50 + description 25.
	// At the default threshold this would match; at 80 it must create.
	idx := &fakeIndex{txns: []*domain.Transaction{
		transaction("txn-1", "2025-01-15", "STARBUCKS COFFEE 0441", "-5.75"),
	}}

	strict, _ := New(idx, 80)
	eval, err := strict.Evaluate(context.Background(), "user-1", candidate("2025-01-15", "STARBUCKS STORE", "-5.75"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Decision != Create {
		t.Errorf("expected create at threshold 80, got %s (score %d)", eval.Decision, eval.Score)
	}

	lenient, _ := New(idx, DefaultThreshold)
	eval, err = lenient.Evaluate(context.Background(), "user-1", candidate("2025-01-15", "STARBUCKS STORE", "-5.75"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Decision != Skip {
		t.Errorf("expected skip at default threshold, got %s (score %d)", eval.Decision, eval.Score)
	}
}

func TestEvaluateMergeEnriches(t *testing.T) {
	existing := transaction("txn-1", "2025-01-15", "NETFLIX.COM", "-15.99")
	idx := &fakeIndex{txns: []*domain.Transaction{existing}}
	m, _ := New(idx, DefaultThreshold)

	c := candidate("2025-01-15", "NETFLIX.COM", "-15.99")
	c.Category = "Streaming"
	c.ParentCategory = "Entertainment"
	c.Note = "family plan"
	c.Tags = []string{"subscription"}

	eval, err := m.Evaluate(context.Background(), "user-1", c, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Decision != Merge {
		t.Fatalf("expected merge, got %s", eval.Decision)
	}
	if eval.Patch.Category != "Streaming" || eval.Patch.ParentCategory != "Entertainment" {
		t.Errorf("unexpected category patch: %+v", eval.Patch)
	}
	if eval.Patch.Note != "family plan" {
		t.Errorf("expected note patch, got %q", eval.Patch.Note)
	}
	if len(eval.Patch.Tags) != 1 || eval.Patch.Tags[0] != "subscription" {
		t.Errorf("expected tags patch, got %v", eval.Patch.Tags)
	}
}

func TestEvaluateMergeNeverOverwrites(t *testing.T) {
	existing := transaction("txn-1", "2025-01-15", "NETFLIX.COM", "-15.99")
	existing.Category = "Subscriptions"
	existing.Note = "keep me"
	existing.Tags = []string{"existing"}
	idx := &fakeIndex{txns: []*domain.Transaction{existing}}
	m, _ := New(idx, DefaultThreshold)

	c := candidate("2025-01-15", "NETFLIX.COM", "-15.99")
	c.Category = "Streaming"
	c.Note = "new note"
	c.Tags = []string{"incoming"}

	eval, err := m.Evaluate(context.Background(), "user-1", c, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Decision != Skip {
		t.Errorf("expected skip when existing row already has data, got %s", eval.Decision)
	}
	if !eval.Patch.IsZero() {
		t.Errorf("expected empty patch, got %+v", eval.Patch)
	}
}

func TestEvaluateStatusUpdate(t *testing.T) {
	existing := transaction("txn-1", "2025-01-15", "SHELL OIL 57444", "-40.00")
	existing.Status = "pending"
	idx := &fakeIndex{txns: []*domain.Transaction{existing}}
	m, _ := New(idx, DefaultThreshold)

	c := candidate("2025-01-15", "SHELL OIL 57444", "-40.00")
	c.Status = "posted"

	eval, err := m.Evaluate(context.Background(), "user-1", c, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Decision != Update {
		t.Fatalf("expected update, got %s", eval.Decision)
	}
	if eval.Patch.Status != "posted" {
		t.Errorf("expected status patch posted, got %q", eval.Patch.Status)
	}
}

func TestEvaluateTieBreak(t *testing.T) {
	older := transaction("txn-old", "2025-01-15", "UBER TRIP", "-23.40")
	older.CreatedAt = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	newer := transaction("txn-new", "2025-01-15", "UBER TRIP", "-23.40")
	newer.CreatedAt = time.Date(2025, 1, 16, 10, 0, 0, 0, time.UTC)

	// Lower-scoring but above threshold: one day off.
	offDay := transaction("txn-off", "2025-01-16", "UBER TRIP", "-23.40")

	idx := &fakeIndex{txns: []*domain.Transaction{older, offDay, newer}}
	m, _ := New(idx, DefaultThreshold)

	eval, err := m.Evaluate(context.Background(), "user-1", candidate("2025-01-15", "UBER TRIP", "-23.40"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Existing.ID != "txn-new" {
		t.Errorf("expected newest equal-score row txn-new, got %s", eval.Existing.ID)
	}
	if eval.Score != 100 {
		t.Errorf("expected score 100, got %d", eval.Score)
	}
}

func TestEvaluatePendingWindow(t *testing.T) {
	// A row created earlier in the same run is not in the store yet but
	// must still block an in-file duplicate.
	pending := transaction("txn-pending", "2025-01-15", "ATM WITHDRAWAL", "-100.00")
	m, _ := New(&fakeIndex{}, DefaultThreshold)

	eval, err := m.Evaluate(context.Background(), "user-1", candidate("2025-01-15", "ATM WITHDRAWAL", "-100.00"), []*domain.Transaction{pending})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Decision != Skip {
		t.Errorf("expected skip against pending row, got %s", eval.Decision)
	}
	if eval.Existing.ID != "txn-pending" {
		t.Errorf("expected match against pending row, got %s", eval.Existing.ID)
	}
}

func TestEvaluateUnvalidatedCandidate(t *testing.T) {
	m, _ := New(&fakeIndex{}, DefaultThreshold)

	c := candidate("2025-01-15", "COFFEE", "-5.75")
	c.ParsedDate = time.Time{}
	if _, err := m.Evaluate(context.Background(), "user-1", c, nil); err == nil {
		t.Error("expected error for candidate without parsed date")
	}

	c = candidate("2025-01-15", "COFFEE", "-5.75")
	c.AccountID = ""
	if _, err := m.Evaluate(context.Background(), "user-1", c, nil); err == nil {
		t.Error("expected error for candidate without account")
	}
}

func TestEvaluateIndexError(t *testing.T) {
	m, _ := New(&fakeIndex{err: errors.New("store unavailable")}, DefaultThreshold)

	_, err := m.Evaluate(context.Background(), "user-1", candidate("2025-01-15", "COFFEE", "-5.75"), nil)
	if err == nil {
		t.Fatal("expected error from index")
	}
}

func TestSimilarity(t *testing.T) {
	third := 2.0 / 3.0
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "STARBUCKS", "STARBUCKS", 1},
		{"case and punctuation", "Starbucks Store #0441", "STARBUCKS STORE 0441", 1},
		{"containment", "STARBUCKS", "STARBUCKS STORE 0441 SEATTLE", 1},
		{"diacritics", "Café Olé", "cafe ole", 1},
		{"partial overlap", "UBER TRIP HELP", "UBER EATS HELP", third},
		{"single shared token", "UBER TRIP", "UBER EATS", 0.5},
		{"no overlap", "PAYROLL ACME", "WHOLE FOODS", 0},
		{"empty", "", "STARBUCKS", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); got != tt.want {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}

	// Symmetry.
	a, b := "STARBUCKS STORE", "STARBUCKS STORE 0441 SEATTLE"
	if Similarity(a, b) != Similarity(b, a) {
		t.Error("similarity must be symmetric")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"STARBUCKS STORE #0441", "starbucks store 0441"},
		{"  Whole   Foods  ", "whole foods"},
		{"Café Olé", "cafe ole"},
		{"PAYPAL*NETFLIX.COM", "paypal netflix com"},
		{"---", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecisionString(t *testing.T) {
	tests := []struct {
		d    Decision
		want string
	}{
		{Create, "create"},
		{Merge, "merge"},
		{Update, "update"},
		{Skip, "skip"},
		{Decision(42), "decision(42)"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Decision(%d).String() = %q, want %q", int(tt.d), got, tt.want)
		}
	}
}
