// Package server wires the storage backend, import pipeline and HTTP
// routes together.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/florin-systems/finflow/internal/config"
	"github.com/florin-systems/finflow/internal/handlers"
	"github.com/florin-systems/finflow/internal/importer"
	"github.com/florin-systems/finflow/internal/jobs"
	"github.com/florin-systems/finflow/internal/middleware"
	"github.com/florin-systems/finflow/internal/registry"
	"github.com/florin-systems/finflow/internal/rules"
	"github.com/florin-systems/finflow/internal/store"
	fsstore "github.com/florin-systems/finflow/internal/store/firestore"
	"github.com/florin-systems/finflow/internal/store/sqlite"
	"github.com/florin-systems/finflow/internal/streaming"
)

// Server is the transaction import and query API server.
type Server struct {
	store  store.Store
	router chi.Router
}

// New builds a server from config: opens the storage backend, loads the
// parser registry and categorization rules, and mounts all routes.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	st, verifier, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create parser registry: %w", err)
	}

	engine, err := rules.LoadEmbedded()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load embedded rules: %w", err)
	}

	hub := streaming.NewStreamHub()
	jobReg := jobs.New()

	imp, err := importer.New(st, reg, engine, jobReg, streaming.NewPublisher(hub), log)
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &Server{
		store:  st,
		router: chi.NewRouter(),
	}
	s.setupRoutes(cfg, verifier, imp, jobReg, hub)
	return s, nil
}

// openStore picks the persistence backend. Firestore also supplies the
// token verifier; SQLite runs either in dev mode or behind an external
// verifier the deployment provides.
func openStore(ctx context.Context, cfg config.Config) (store.Store, middleware.TokenVerifier, error) {
	switch cfg.Backend {
	case config.BackendFirestore:
		if cfg.GCPProjectID == "" {
			return nil, nil, fmt.Errorf("GCP_PROJECT_ID is required for the firestore backend")
		}
		st, err := fsstore.New(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Auth, nil
	case config.BackendSQLite:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func (s *Server) setupRoutes(cfg config.Config, verifier middleware.TokenVerifier, imp *importer.Importer, jobReg *jobs.Registry, hub *streaming.StreamHub) {
	var authMiddleware *middleware.AuthMiddleware
	if verifier != nil {
		authMiddleware = middleware.NewAuthMiddleware(verifier)
	} else {
		authMiddleware = middleware.NewDevAuthMiddleware(cfg.DevUserID)
	}

	apiHandler := handlers.NewAPIHandler(s.store)
	importHandler := handlers.NewImportHandlers(imp, jobReg, hub, importer.Options{
		BatchSize:            cfg.BatchSize,
		DeduplicateThreshold: &cfg.DedupThreshold,
	})

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Logger)
	s.router.Use(chimiddleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", handlers.HealthCheck)

	// Protected API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)

		r.Get("/transactions", apiHandler.GetTransactions)
		r.Get("/transactions/{id}", apiHandler.GetTransaction)
		r.Patch("/transactions/{id}", apiHandler.PatchTransaction)
		r.Delete("/transactions/{id}", apiHandler.DeleteTransaction)

		r.Get("/accounts", apiHandler.GetAccounts)
		r.Get("/analytics", apiHandler.GetAnalytics)
		r.Get("/summary", apiHandler.GetSummary)

		r.Post("/imports", importHandler.StartImport)
		r.Get("/imports", importHandler.ListImports)
		r.Get("/imports/{jobId}", importHandler.GetImport)
		r.Get("/imports/{jobId}/events", importHandler.StreamImportEvents)
	})
}

// Handler returns the HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.router)
}

// Close closes the server resources.
func (s *Server) Close() error {
	return s.store.Close()
}
