// Package importer orchestrates one import run: pick a parser, parse the
// upload, enrich and validate rows, match duplicates and commit the
// survivors. It always returns a renderable summary, even when the run
// fails partway.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/florin-systems/finflow/internal/committer"
	"github.com/florin-systems/finflow/internal/dedup"
	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/jobs"
	"github.com/florin-systems/finflow/internal/parser"
	"github.com/florin-systems/finflow/internal/registry"
	"github.com/florin-systems/finflow/internal/rules"
	"github.com/florin-systems/finflow/internal/store"
	"github.com/florin-systems/finflow/internal/validate"
)

// Options tune one import run. Zero values take the package defaults.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	// DeduplicateThreshold is the minimum match score treated as a
	// duplicate. Nil takes dedup.DefaultThreshold; zero is a real value
	// that matches any same-amount row inside the date window.
	DeduplicateThreshold *int
	// MaxRetries caps batch retries. Nil takes the committer default;
	// zero disables retries.
	MaxRetries *int
	RetryDelay time.Duration
	// AccountName is the fallback account for rows in files that carry no
	// account column, such as card exports. The CLI derives it from the
	// statement directory; uploads may supply it as a form field.
	AccountName            string
	DryRun                 bool
	RequireExistingAccount bool
}

func (o Options) threshold() int {
	if o.DeduplicateThreshold == nil {
		return dedup.DefaultThreshold
	}
	return *o.DeduplicateThreshold
}

// Summary is the caller-facing result of one run.
type Summary struct {
	Success                 bool     `json:"success"`
	JobID                   string   `json:"jobId"`
	Created                 int      `json:"created"`
	Updated                 int      `json:"updated"`
	Merged                  int      `json:"merged"`
	Skipped                 int      `json:"skipped"`
	Total                   int      `json:"total"`
	Invalid                 int      `json:"invalid"`
	ValidationIssues        []string `json:"validationIssues"`
	DeduplicationPercentage float64  `json:"deduplicationPercentage"`
	ProcessingTime          float64  `json:"processingTime"`
	Errors                  []string `json:"errors"`
}

// Events receives run lifecycle notifications, typically for fan-out to
// listening clients. Implementations must be safe for concurrent use.
type Events interface {
	ImportProgress(jobID string, p committer.Progress)
	ImportCompleted(jobID string, s Summary)
}

// Importer wires the pipeline stages together. One Importer serves many
// concurrent runs; per-run state lives on the stack.
type Importer struct {
	store    store.Store
	registry *registry.Registry
	rules    *rules.Engine
	jobs     *jobs.Registry
	events   Events
	log      *slog.Logger
}

// New creates an importer. The rules engine and events sink may be nil;
// everything else is required.
func New(st store.Store, reg *registry.Registry, engine *rules.Engine, jobReg *jobs.Registry, events Events, log *slog.Logger) (*Importer, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if jobReg == nil {
		return nil, fmt.Errorf("job registry cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Importer{
		store:    st,
		registry: reg,
		rules:    engine,
		jobs:     jobReg,
		events:   events,
		log:      log,
	}, nil
}

// Run executes one import over the uploaded file content. It never returns
// an error: failures are folded into the summary so callers can always
// render a result.
func (imp *Importer) Run(ctx context.Context, userID, fileName string, content []byte, opts Options) Summary {
	job := imp.jobs.Start(userID, fileName)
	return imp.run(ctx, job, userID, fileName, content, opts)
}

// Start launches a run in the background and returns its job ID right away.
// Progress and the final summary reach callers through the job registry and
// the events sink. The context must outlive the originating request.
func (imp *Importer) Start(ctx context.Context, userID, fileName string, content []byte, opts Options) string {
	job := imp.jobs.Start(userID, fileName)
	go imp.run(ctx, job, userID, fileName, content, opts)
	return job.ID
}

func (imp *Importer) run(ctx context.Context, job jobs.Job, userID, fileName string, content []byte, opts Options) (summary Summary) {
	start := time.Now()
	summary.JobID = job.ID

	var stats committer.Stats
	defer func() {
		if r := recover(); r != nil {
			imp.log.Error("import panicked",
				"jobId", job.ID, "file", fileName, "panic", r, "stack", string(debug.Stack()))
			summary.Errors = append(summary.Errors, fmt.Sprintf("internal error: %v", r))
			summary.Success = false
			summary.ProcessingTime = time.Since(start).Seconds()
			imp.jobs.Fail(job.ID, stats, fmt.Sprintf("%v", r))
			imp.completed(job.ID, summary)
		}
	}()

	fail := func(err error) Summary {
		imp.log.Error("import failed", "jobId", job.ID, "file", fileName, "error", err)
		summary.Errors = append(summary.Errors, err.Error())
		summary.ProcessingTime = time.Since(start).Seconds()
		imp.jobs.Fail(job.ID, stats, err.Error())
		imp.completed(job.ID, summary)
		return summary
	}

	if userID == "" {
		return fail(fmt.Errorf("user ID cannot be empty"))
	}

	p, err := imp.registry.FindParserForContent(fileName, content)
	if err != nil {
		return fail(err)
	}

	meta, err := parser.NewMetadata(fileName, time.Now())
	if err != nil {
		return fail(fmt.Errorf("failed to create metadata: %w", err))
	}
	if opts.AccountName != "" {
		meta.SetAccountName(opts.AccountName)
	}

	candidates, err := p.Parse(ctx, bytes.NewReader(content), meta)
	if err != nil {
		return fail(fmt.Errorf("parsing failed: %w", err))
	}
	summary.Total = len(candidates)
	imp.enrich(candidates)

	validator := validate.New(imp.store, validate.Options{
		RequireExistingAccount: opts.RequireExistingAccount || opts.DryRun,
	})
	session, err := validator.Begin(ctx, userID)
	if err != nil {
		return fail(fmt.Errorf("failed to start validation: %w", err))
	}

	matcher, err := dedup.New(imp.store, opts.threshold())
	if err != nil {
		return fail(err)
	}

	var items []committer.Item
	var pending []*domain.Transaction
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		verdict := session.Validate(ctx, c)
		if !verdict.Valid {
			summary.Invalid++
			summary.ValidationIssues = append(summary.ValidationIssues, verdict.Message())
			continue
		}
		if opts.DryRun {
			continue
		}

		eval, err := matcher.Evaluate(ctx, userID, c, pending)
		if err != nil {
			return fail(fmt.Errorf("deduplication failed at row %d: %w", c.Row, err))
		}

		switch eval.Decision {
		case dedup.Create:
			txn, err := domain.NewTransaction(uuid.NewString(), userID, c)
			if err != nil {
				summary.Invalid++
				summary.ValidationIssues = append(summary.ValidationIssues,
					fmt.Sprintf("Row %d: %s", c.Row, err))
				continue
			}
			items = append(items, committer.Item{Decision: dedup.Create, Create: txn})
			pending = append(pending, txn)
		case dedup.Merge, dedup.Update:
			items = append(items, committer.Item{
				Decision: eval.Decision,
				TargetID: eval.Existing.ID,
				Patch:    committer.PatchFromDedup(eval.Patch),
			})
		case dedup.Skip:
			items = append(items, committer.Item{Decision: dedup.Skip})
		}
	}

	if opts.DryRun {
		summary.Success = true
		summary.ProcessingTime = time.Since(start).Seconds()
		imp.jobs.Complete(job.ID, stats)
		imp.completed(job.ID, summary)
		return summary
	}

	com, err := committer.New(imp.store, committer.Options{
		BatchSize:  opts.BatchSize,
		BatchDelay: opts.BatchDelay,
		MaxRetries: opts.MaxRetries,
		RetryDelay: opts.RetryDelay,
		OnProgress: func(p committer.Progress) {
			imp.jobs.Update(job.ID, p.Percent, p.Stats)
			if imp.events != nil {
				imp.events.ImportProgress(job.ID, p)
			}
		},
	})
	if err != nil {
		return fail(err)
	}

	var commitErrs []error
	stats, commitErrs = com.Commit(ctx, userID, fileName, items)
	for _, err := range commitErrs {
		summary.Errors = append(summary.Errors, err.Error())
	}

	summary.Created = stats.Created
	summary.Updated = stats.Updated
	summary.Merged = stats.Merged
	summary.Skipped = stats.Skipped
	summary.DeduplicationPercentage = deduplicationPercentage(stats)
	summary.Success = len(summary.Errors) == 0
	summary.ProcessingTime = time.Since(start).Seconds()

	if summary.Success {
		imp.jobs.Complete(job.ID, stats)
	} else {
		imp.jobs.Fail(job.ID, stats, summary.Errors[0])
	}
	imp.completed(job.ID, summary)

	imp.log.Info("import finished",
		"jobId", job.ID, "file", fileName, "total", summary.Total,
		"created", stats.Created, "updated", stats.Updated, "merged", stats.Merged,
		"skipped", stats.Skipped, "invalid", summary.Invalid,
		"duration", time.Since(start))
	return summary
}

// enrich applies categorization rules to rows that arrived without a
// category of their own.
func (imp *Importer) enrich(candidates []*domain.Candidate) {
	if imp.rules == nil {
		return
	}
	for _, c := range candidates {
		if c.Category != "" {
			continue
		}
		match, ok := imp.rules.Match(c.Description)
		if !ok {
			continue
		}
		c.Category = match.Category
		c.ParentCategory = match.ParentCategory
		if match.Recurring {
			c.Recurring = true
		}
		if match.Excluded {
			c.Excluded = true
		}
	}
}

func (imp *Importer) completed(jobID string, s Summary) {
	if imp.events != nil {
		imp.events.ImportCompleted(jobID, s)
	}
}

// deduplicationPercentage is skipped over all rows that reached a decision,
// rounded to the nearest whole percent.
func deduplicationPercentage(stats committer.Stats) float64 {
	processed := stats.Created + stats.Updated + stats.Merged
	if stats.Skipped == 0 || processed+stats.Skipped == 0 {
		return 0
	}
	return math.Round(float64(stats.Skipped) * 100 / float64(processed+stats.Skipped))
}
