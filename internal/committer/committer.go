// Package committer writes decided import items to the store in bounded
// batches. A failed batch is retried a few times and then counted as failed
// without aborting the rest of the run.
package committer

import (
	"context"
	"fmt"
	"time"

	"github.com/florin-systems/finflow/internal/dedup"
	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/store"
)

const (
	// DefaultBatchSize bounds rows per store round trip.
	DefaultBatchSize = 50
	// DefaultMaxRetries is how many times a failed batch is retried.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the pause before a batch retry.
	DefaultRetryDelay = 500 * time.Millisecond
)

// Stats accumulates outcome counts across one commit run.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Processed is the number of rows that reached the store (or were skipped).
func (s Stats) Processed() int {
	return s.Created + s.Updated + s.Merged + s.Skipped
}

// Progress is emitted after each batch and once more at completion.
type Progress struct {
	File    string `json:"file"`
	Percent int    `json:"percent"`
	Done    bool   `json:"done"`
	Stats   Stats  `json:"stats"`
}

// ProgressFunc receives progress events. It is called synchronously; keep it
// cheap.
type ProgressFunc func(Progress)

// Item is one decided row ready to commit. Create carries the new row for
// create decisions; TargetID and Patch carry the in-place change for merge
// and update decisions.
type Item struct {
	Decision dedup.Decision
	Create   *domain.Transaction
	TargetID string
	Patch    store.TransactionPatch
}

// Options tune batching and retry behavior. Zero values take the defaults
// above, except MaxRetries where zero legitimately means "no retries" and
// nil takes the default. OnProgress may be nil.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	MaxRetries *int
	RetryDelay time.Duration
	OnProgress ProgressFunc
}

// Committer flushes decided items to a transaction store.
type Committer struct {
	store   store.TransactionStore
	opts    Options
	retries int
}

// New creates a committer. The store must not be nil.
func New(ts store.TransactionStore, opts Options) (*Committer, error) {
	if ts == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("batch size cannot be negative")
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	retries := DefaultMaxRetries
	if opts.MaxRetries != nil {
		if *opts.MaxRetries < 0 {
			return nil, fmt.Errorf("max retries cannot be negative")
		}
		retries = *opts.MaxRetries
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Committer{store: ts, opts: opts, retries: retries}, nil
}

// Commit writes all items in batches and returns the accumulated stats plus
// one error per batch that exhausted its retries. A non-empty error slice
// does not mean the whole run failed; successful batches stay committed.
func (c *Committer) Commit(ctx context.Context, userID, file string, items []Item) (Stats, []error) {
	var stats Stats
	var errs []error

	total := len(items)
	if total == 0 {
		c.emit(Progress{File: file, Percent: 100, Done: true, Stats: stats})
		return stats, nil
	}

	processed := 0
	for start := 0; start < total; start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > total {
			end = total
		}
		batch := items[start:end]

		if err := c.commitBatch(ctx, userID, batch); err != nil {
			stats.Failed += writeCount(batch)
			errs = append(errs, fmt.Errorf("batch %d failed: %w", start/c.opts.BatchSize+1, err))
		} else {
			tally(&stats, batch)
		}
		// Skips count even inside a failed batch; they never touch the store.
		stats.Skipped += skipCount(batch)

		processed += len(batch)
		c.emit(Progress{File: file, Percent: processed * 100 / total, Stats: stats})

		if end < total && c.opts.BatchDelay > 0 {
			select {
			case <-time.After(c.opts.BatchDelay):
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
				c.emit(Progress{File: file, Percent: 100, Done: true, Stats: stats})
				return stats, errs
			}
		}
	}

	c.emit(Progress{File: file, Percent: 100, Done: true, Stats: stats})
	return stats, errs
}

// commitBatch performs all writes for one batch, retrying the whole batch on
// failure. Creates go to the store as a single bulk insert.
func (c *Committer) commitBatch(ctx context.Context, userID string, batch []Item) error {
	var creates []*domain.Transaction
	for _, item := range batch {
		if item.Decision == dedup.Create && item.Create != nil {
			creates = append(creates, item.Create)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.opts.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.writeBatch(ctx, userID, creates, batch)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Committer) writeBatch(ctx context.Context, userID string, creates []*domain.Transaction, batch []Item) error {
	if len(creates) > 0 {
		if err := c.store.CreateTransactions(ctx, creates); err != nil {
			return fmt.Errorf("failed to create transactions: %w", err)
		}
	}
	for _, item := range batch {
		switch item.Decision {
		case dedup.Merge, dedup.Update:
			if err := c.store.UpdateTransaction(ctx, userID, item.TargetID, item.Patch); err != nil {
				return fmt.Errorf("failed to update transaction %s: %w", item.TargetID, err)
			}
		}
	}
	return nil
}

func (c *Committer) emit(p Progress) {
	if c.opts.OnProgress != nil {
		c.opts.OnProgress(p)
	}
}

// PatchFromDedup converts a matcher patch to a store patch, mapping only the
// fields the matcher filled.
func PatchFromDedup(p dedup.Patch) store.TransactionPatch {
	var out store.TransactionPatch
	if p.Category != "" {
		out.Category = &p.Category
	}
	if p.ParentCategory != "" {
		out.ParentCategory = &p.ParentCategory
	}
	if p.Note != "" {
		out.Note = &p.Note
	}
	if p.Status != "" {
		out.Status = &p.Status
	}
	if len(p.Tags) > 0 {
		out.Tags = &p.Tags
	}
	return out
}

func tally(stats *Stats, batch []Item) {
	for _, item := range batch {
		switch item.Decision {
		case dedup.Create:
			stats.Created++
		case dedup.Merge:
			stats.Merged++
		case dedup.Update:
			stats.Updated++
		}
	}
}

func writeCount(batch []Item) int {
	n := 0
	for _, item := range batch {
		if item.Decision != dedup.Skip {
			n++
		}
	}
	return n
}

func skipCount(batch []Item) int {
	n := 0
	for _, item := range batch {
		if item.Decision == dedup.Skip {
			n++
		}
	}
	return n
}
