// Package aggregate computes read-side rollups over transactions. All
// functions are pure; they never touch the store.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/florin-systems/finflow/internal/domain"
)

// Uncategorized is the bucket for rows with no category.
const Uncategorized = "Uncategorized"

// Bucket is one aggregation group: signed total and row count.
type Bucket struct {
	Key   string          `json:"key"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// Summary is the headline view of a transaction set. Income is the sum of
// positive amounts, Expenses the sum of negative amounts (itself negative),
// and NetCashflow their sum.
type Summary struct {
	Income               decimal.Decimal `json:"income"`
	Expenses             decimal.Decimal `json:"expenses"`
	NetCashflow          decimal.Decimal `json:"netCashflow"`
	TransactionCount     int             `json:"transactionCount"`
	TopExpenseCategories []Bucket        `json:"topExpenseCategories"`
}

// ByCategory groups rows by category, falling back to Uncategorized, and
// returns buckets sorted by descending absolute total.
func ByCategory(txns []*domain.Transaction) []Bucket {
	return group(txns, func(t *domain.Transaction) string {
		if t.Category == "" {
			return Uncategorized
		}
		return t.Category
	})
}

// ByMonth groups rows by the YYYY-MM prefix of their date.
func ByMonth(txns []*domain.Transaction) []Bucket {
	return group(txns, func(t *domain.Transaction) string {
		if len(t.Date) < 7 {
			return t.Date
		}
		return t.Date[:7]
	})
}

// Top truncates a sorted bucket list to its first n entries. n <= 0 returns
// the list unchanged.
func Top(buckets []Bucket, n int) []Bucket {
	if n <= 0 || n >= len(buckets) {
		return buckets
	}
	return buckets[:n]
}

// Summarize computes the headline summary. Rows flagged excluded (internal
// transfers and the like) are left out; topN bounds the expense category
// list.
func Summarize(txns []*domain.Transaction, topN int) Summary {
	income := decimal.Zero
	expenses := decimal.Zero
	var counted []*domain.Transaction
	var negatives []*domain.Transaction

	for _, t := range txns {
		if t.Excluded {
			continue
		}
		counted = append(counted, t)
		if t.Amount.IsPositive() {
			income = income.Add(t.Amount)
		} else {
			expenses = expenses.Add(t.Amount)
			negatives = append(negatives, t)
		}
	}

	return Summary{
		Income:               income,
		Expenses:             expenses,
		NetCashflow:          income.Add(expenses),
		TransactionCount:     len(counted),
		TopExpenseCategories: Top(ByCategory(negatives), topN),
	}
}

func group(txns []*domain.Transaction, key func(*domain.Transaction) string) []Bucket {
	totals := make(map[string]*Bucket)
	for _, t := range txns {
		k := key(t)
		b, ok := totals[k]
		if !ok {
			b = &Bucket{Key: k, Total: decimal.Zero}
			totals[k] = b
		}
		b.Total = b.Total.Add(t.Amount)
		b.Count++
	}

	buckets := make([]Bucket, 0, len(totals))
	for _, b := range totals {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		ai, aj := buckets[i].Total.Abs(), buckets[j].Total.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return buckets[i].Key < buckets[j].Key
	})
	return buckets
}
