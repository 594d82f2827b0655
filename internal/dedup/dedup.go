// Package dedup decides whether an incoming transaction candidate duplicates
// a row that already exists in the store. Matching is scored 0-100 from date
// proximity and description similarity; amount equality is a hard gate.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/florin-systems/finflow/internal/domain"
)

// Decision is the outcome of matching one candidate against the store.
type Decision int

const (
	// Create means no existing row matched; persist the candidate as new.
	Create Decision = iota
	// Merge means a match was found and the candidate carries information
	// the existing row lacks (category, note, tags); patch it in place.
	Merge
	// Update means a match was found and only the status changed.
	Update
	// Skip means a match was found and the candidate adds nothing.
	Skip
)

func (d Decision) String() string {
	switch d {
	case Create:
		return "create"
	case Merge:
		return "merge"
	case Update:
		return "update"
	case Skip:
		return "skip"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

const (
	// DefaultThreshold is the minimum combined score to treat two rows as
	// the same real-world transaction.
	DefaultThreshold = 60

	// DefaultDateWindowDays bounds how far apart two matching rows may be
	// dated.
	DefaultDateWindowDays = 3

	dateWeight        = 50
	datePenaltyPerDay = 12
	descriptionWeight = 50
)

// Index is the read-only store view the matcher searches. Implementations
// return rows for the given user and account whose amount equals amount
// exactly and whose date falls in [from, to] (inclusive, YYYY-MM-DD strings).
type Index interface {
	FindSimilar(ctx context.Context, userID, accountID, amount, from, to string) ([]*domain.Transaction, error)
}

// Patch carries the fields a Merge or Update decision writes to the existing
// row. Zero-valued fields are left untouched.
type Patch struct {
	Category       string
	ParentCategory string
	Note           string
	Tags           []string
	Status         string
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Category == "" && p.ParentCategory == "" && p.Note == "" &&
		len(p.Tags) == 0 && p.Status == ""
}

// Evaluation is the matcher's verdict for one candidate.
type Evaluation struct {
	Decision Decision
	// Existing is the matched row for Merge, Update and Skip; nil for Create.
	Existing *domain.Transaction
	// Score is the similarity score of the matched row, 0 for Create.
	Score int
	// Patch is populated for Merge and Update.
	Patch Patch
}

// Matcher scores candidates against persisted transactions. It is read-only
// against the store and safe for concurrent use.
type Matcher struct {
	index      Index
	threshold  int
	windowDays int
}

// New creates a matcher over the given index. Threshold must be in [0, 100].
func New(index Index, threshold int) (*Matcher, error) {
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("threshold must be between 0 and 100, got %d", threshold)
	}
	return &Matcher{
		index:      index,
		threshold:  threshold,
		windowDays: DefaultDateWindowDays,
	}, nil
}

// Evaluate matches one validated candidate against the store plus any rows
// created earlier in the same run (pending) that the store cannot see yet.
func (m *Matcher) Evaluate(ctx context.Context, userID string, c *domain.Candidate, pending []*domain.Transaction) (Evaluation, error) {
	if c.ParsedDate.IsZero() || c.AccountID == "" {
		return Evaluation{}, fmt.Errorf("candidate for row %d has not been validated", c.Row)
	}

	amount := c.ParsedAmount.String()
	from := c.ParsedDate.AddDate(0, 0, -m.windowDays).Format(domain.DateLayout)
	to := c.ParsedDate.AddDate(0, 0, m.windowDays).Format(domain.DateLayout)

	existing, err := m.index.FindSimilar(ctx, userID, c.AccountID, amount, from, to)
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to search for duplicates: %w", err)
	}

	best, bestScore := (*domain.Transaction)(nil), 0
	consider := func(t *domain.Transaction) {
		if t.AccountID != c.AccountID || !t.Amount.Equal(c.ParsedAmount) {
			return
		}
		score, ok := m.score(c, t)
		if !ok || score < m.threshold {
			return
		}
		if score > bestScore || (score == bestScore && best != nil && t.CreatedAt.After(best.CreatedAt)) {
			best, bestScore = t, score
		}
	}
	for _, t := range existing {
		consider(t)
	}
	for _, t := range pending {
		consider(t)
	}

	if best == nil {
		return Evaluation{Decision: Create}, nil
	}

	patch := buildPatch(c, best)
	switch {
	case patch.Category != "" || patch.ParentCategory != "" || patch.Note != "" || len(patch.Tags) > 0:
		return Evaluation{Decision: Merge, Existing: best, Score: bestScore, Patch: patch}, nil
	case patch.Status != "":
		return Evaluation{Decision: Update, Existing: best, Score: bestScore, Patch: patch}, nil
	default:
		return Evaluation{Decision: Skip, Existing: best, Score: bestScore}, nil
	}
}

// score combines date proximity and description similarity. Amount equality
// is checked by the caller and contributes no partial credit. The second
// return is false when the rows fall outside the date window.
func (m *Matcher) score(c *domain.Candidate, t *domain.Transaction) (int, bool) {
	days, err := dateDistanceDays(c.ParsedDate.Format(domain.DateLayout), t.Date)
	if err != nil || days > m.windowDays {
		return 0, false
	}

	dateScore := dateWeight - days*datePenaltyPerDay
	if dateScore < 0 {
		dateScore = 0
	}

	descScore := int(Similarity(c.Description, t.Description) * descriptionWeight)

	return dateScore + descScore, true
}

// buildPatch collects what the candidate knows that the existing row does
// not. Only absent fields are enriched; a merge never overwrites data.
func buildPatch(c *domain.Candidate, t *domain.Transaction) Patch {
	var p Patch
	if c.Category != "" && t.Category == "" {
		p.Category = c.Category
	}
	if c.ParentCategory != "" && t.ParentCategory == "" {
		p.ParentCategory = c.ParentCategory
	}
	if c.Note != "" && t.Note == "" {
		p.Note = c.Note
	}
	if len(c.Tags) > 0 && len(t.Tags) == 0 {
		p.Tags = append([]string(nil), c.Tags...)
	}
	if c.Status != "" && t.Status != c.Status {
		p.Status = c.Status
	}
	return p
}

// Similarity returns a fuzzy description match ratio in [0, 1]. It is the
// larger of the token Jaccard overlap and the containment ratio, so that
// "STARBUCKS" still matches "STARBUCKS STORE 0441 SEATTLE".
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	ta, tb := tokenSet(na), tokenSet(nb)
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}

	union := len(ta) + len(tb) - shared
	jaccard := float64(shared) / float64(union)

	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	containment := float64(shared) / float64(smaller)

	if containment > jaccard {
		return containment
	}
	return jaccard
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases a description, strips diacritics and reduces every
// non-alphanumeric run to a single space.
func Normalize(s string) string {
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		} else {
			space = true
		}
	}
	return b.String()
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		set[tok] = struct{}{}
	}
	return set
}

func dateDistanceDays(a, b string) (int, error) {
	da, err := time.Parse(domain.DateLayout, a)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", a, err)
	}
	db, err := time.Parse(domain.DateLayout, b)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", b, err)
	}
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days, nil
}
