package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/florin-systems/finflow/internal/config"
	"github.com/florin-systems/finflow/internal/importer"
	"github.com/florin-systems/finflow/internal/jobs"
	"github.com/florin-systems/finflow/internal/registry"
	"github.com/florin-systems/finflow/internal/rules"
	"github.com/florin-systems/finflow/internal/scanner"
	"github.com/florin-systems/finflow/internal/server"
	"github.com/florin-systems/finflow/internal/store/sqlite"
	"github.com/florin-systems/finflow/internal/ui"
)

const (
	version = "0.1.0"
)

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")

	// Server mode
	serveFlag = flag.Bool("serve", false, "Run the HTTP API server")

	// Import mode flags
	inputDir  = flag.String("input", "", "Input directory containing statements")
	dbPath    = flag.String("db", "finflow.db", "SQLite database file for local imports")
	userID    = flag.String("user", "local", "User the imported transactions belong to")
	rulesFile = flag.String("rules", "", "Category rules file (default: embedded rules)")
	threshold = flag.Int("threshold", 60, "Deduplication score threshold (0-100)")
	dryRun    = flag.Bool("dry-run", false, "Validate without writing")
	verbose   = flag.Bool("verbose", false, "Show detailed import logs")
)

func main() {
	// Custom usage message
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `finflow - Transaction import pipeline and query API

Usage:
  finflow [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Import all statements from a directory into a local database
  finflow -input ~/statements -db finflow.db

  # Dry run with verbose output
  finflow -input ~/statements -dry-run -verbose

  # Run the HTTP API server (configured via environment)
  finflow -serve

`)
	}

	flag.Parse()

	// Handle version flag
	if *versionFlag {
		fmt.Printf("finflow version %s\n", version)
		os.Exit(0)
	}

	if !*serveFlag && *inputDir == "" {
		fmt.Fprintf(os.Stderr, "Error: either -serve or -input is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serveFlag {
		return serve(ctx)
	}
	return importDirectory(ctx)
}

// serve runs the HTTP API until the process receives an interrupt.
func serve(ctx context.Context) error {
	// Optional .env for local runs; missing file is fine.
	_ = godotenv.Load()
	cfg := config.Load()

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	srv, err := server.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Port, "backend", cfg.Backend)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// importDirectory scans a statement directory and runs every file through
// the import pipeline against a local SQLite database.
func importDirectory(ctx context.Context) error {
	if !*verbose {
		ui.Header("Importing Financial Statements")
		ui.Step(1, 3, "Scanning directory")
	} else {
		fmt.Fprintf(os.Stderr, "Scanning directory: %s\n", *inputDir)
	}

	files, err := scanner.New(*inputDir).Scan()
	if err != nil {
		return fmt.Errorf("failed to scan directory %s: %w", *inputDir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no statement files found in %s\n\nPlease check:\n  - Directory path is correct\n  - Files have supported extensions (.qfx, .ofx, .csv)\n  - You have read permissions on the directory and files", *inputDir)
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "Found %d statement files\n", len(files))
		for _, f := range files {
			fmt.Fprintf(os.Stderr, "  - %s (institution: %s, account: %s)\n",
				f.Path, f.Metadata.Institution(), f.Metadata.AccountName())
		}
	} else {
		ui.Success(fmt.Sprintf("Found %d statement files", len(files)))
	}

	if !*verbose {
		ui.Step(2, 3, "Loading category rules")
	}
	var engine *rules.Engine
	if *rulesFile != "" {
		engine, err = rules.LoadFromFile(*rulesFile)
		if err != nil {
			return fmt.Errorf("failed to load rules file: %w", err)
		}
	} else {
		engine, err = rules.LoadEmbedded()
		if err != nil {
			return fmt.Errorf("failed to load embedded rules: %w", err)
		}
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "Loaded %d rules\n", len(engine.GetRules()))
	}

	st, err := sqlite.New(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", *dbPath, err)
	}
	defer st.Close()

	reg, err := registry.New()
	if err != nil {
		return fmt.Errorf("failed to create parser registry: %w", err)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	imp, err := importer.New(st, reg, engine, jobs.New(), nil, log)
	if err != nil {
		return err
	}

	opts := importer.Options{
		DeduplicateThreshold: threshold,
		DryRun:               *dryRun,
	}

	if !*verbose {
		ui.Step(3, 3, "Importing statements")
	}

	var totals importer.Summary
	var failed int
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		content, err := os.ReadFile(file.Path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file.Path, err)
		}

		// Directory-derived account name backs files without an account column.
		fileOpts := opts
		fileOpts.AccountName = file.Metadata.AccountName()

		summary := imp.Run(ctx, *userID, file.Path, content, fileOpts)
		totals.Total += summary.Total
		totals.Created += summary.Created
		totals.Updated += summary.Updated
		totals.Merged += summary.Merged
		totals.Skipped += summary.Skipped
		totals.Invalid += summary.Invalid

		if *verbose {
			fmt.Fprintf(os.Stderr, "  %s: %d rows, %d created, %d skipped as duplicates\n",
				file.Path, summary.Total, summary.Created, summary.Skipped)
			for _, issue := range summary.ValidationIssues {
				fmt.Fprintf(os.Stderr, "    %s\n", issue)
			}
		} else {
			percentage := float64(i+1) / float64(len(files)) * 100
			fmt.Fprintf(os.Stderr, "\r  Progress: %d/%d files (%.0f%%)...", i+1, len(files), percentage)
		}

		if !summary.Success {
			failed++
			for _, msg := range summary.Errors {
				ui.Error(fmt.Sprintf("%s: %s", file.Path, msg))
			}
		}
	}
	if !*verbose {
		fmt.Fprintf(os.Stderr, "\r  Progress: %d/%d files (100%%) - Complete!\n", len(files), len(files))
	}

	if *dryRun {
		ui.Info(fmt.Sprintf("Dry run complete: %d rows across %d files, %d invalid", totals.Total, len(files), totals.Invalid))
		return nil
	}

	ui.Success(fmt.Sprintf("Imported %d rows: %d created, %d merged, %d updated, %d skipped as duplicates",
		totals.Total, totals.Created, totals.Merged, totals.Updated, totals.Skipped))
	if totals.Invalid > 0 {
		ui.Warning(fmt.Sprintf("%d rows failed validation (run with -verbose to see them)", totals.Invalid))
	}
	if failed > 0 {
		plural := ""
		if failed > 1 {
			plural = "s"
		}
		return fmt.Errorf("%d file%s failed to import", failed, plural)
	}
	return nil
}
