package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"specdeck/internal/auth"
	"specdeck/internal/config"
	"specdeck/internal/handler"
	"specdeck/internal/middleware"
	"specdeck/internal/repository/postgres"
	auditsvc "specdeck/internal/service/audit"
	contentsvc "specdeck/internal/service/content"
	"specdeck/internal/service/events"
	iteratesvc "specdeck/internal/service/iterate"
	llmsvc "specdeck/internal/service/llm"
	"specdeck/internal/service/materialize"
	"specdeck/internal/service/openspec"
	proposalsvc "specdeck/internal/service/proposal"
	reviewsvc "specdeck/internal/service/review"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logWriter, closeLog, err := config.OpenLogWriter(cfg.LogDir, cfg.LogMaxFiles)
	if err != nil {
		log.Fatalf("Failed to open log writer: %v", err)
	}
	defer closeLog()

	logger := slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, logger)
	if err != nil {
		log.Fatalf("Failed to create JWT verifier: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: postgres.NewTableNames(cfg.TablePrefix),
		Logger: logger,
	}
	projectRepo := postgres.NewProjectRepository(repoConfig)
	proposalRepo := postgres.NewProposalRepository(repoConfig)
	contentRepo := postgres.NewContentRepository(repoConfig)
	commentRepo := postgres.NewCommentRepository(repoConfig)
	usageRepo := postgres.NewLLMUsageRepository(repoConfig)
	auditRepo := postgres.NewAuditRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool, logger)

	// LLM stack: provider registry, tool-aware fallback chains, usage
	// accounting.
	registry := llmsvc.NewRegistry(cfg)
	resolver := llmsvc.NewResolver(registry, cfg.DefaultProvider, logger)
	usageTracker := llmsvc.NewUsageTracker(usageRepo, logger)

	// Core services
	auditService := auditsvc.NewService(auditRepo, logger)
	contentService := contentsvc.NewService(contentRepo, proposalRepo, txManager, logger)
	specCLI := openspec.NewClient(cfg.OpenSpecTimeout, logger)
	fsService := materialize.NewService(logger)
	hub := events.NewHub(logger)

	proposalService := proposalsvc.NewService(
		projectRepo, proposalRepo, commentRepo, contentService,
		specCLI, fsService, auditService, hub, logger,
	)
	generator := proposalsvc.NewGenerator(proposalService, resolver, logger)
	reviewService := reviewsvc.NewService(commentRepo, proposalRepo, auditService, logger)
	iterateEngine := iteratesvc.NewEngine(
		proposalRepo, commentRepo, contentService,
		resolver, usageTracker, hub, logger,
	)

	// Handlers
	projectHandler := handler.NewProjectHandler(proposalService, generator, logger)
	proposalHandler := handler.NewProposalHandler(proposalService, contentService, hub, logger)
	reviewHandler := handler.NewReviewHandler(reviewService, proposalService, logger)
	iterateHandler := handler.NewIterateHandler(iterateEngine, proposalService, hub, logger)
	usageHandler := handler.NewUsageHandler(usageTracker, proposalService, logger)
	auditHandler := handler.NewAuditHandler(auditService, logger)

	logger.Info("services initialized")

	// HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", projectHandler.HealthCheck)

	// Project routes
	mux.HandleFunc("GET /api/projects", projectHandler.ListProjects)
	mux.HandleFunc("POST /api/projects", projectHandler.CreateProject)
	mux.HandleFunc("GET /api/projects/{id}", projectHandler.GetProject)
	mux.HandleFunc("PATCH /api/projects/{id}", projectHandler.UpdateProject)
	mux.HandleFunc("DELETE /api/projects/{id}", projectHandler.DeleteProject)
	mux.HandleFunc("GET /api/projects/{id}/stats", projectHandler.GetProjectStats)

	// AI generation routes
	mux.HandleFunc("POST /api/projects/{id}/analyze", projectHandler.AnalyzeContext)
	mux.HandleFunc("POST /api/projects/{id}/proposals/batch", projectHandler.BatchCreateProposals)

	// Proposal lifecycle routes
	mux.HandleFunc("POST /api/projects/{id}/proposals", proposalHandler.CreateProposal)
	mux.HandleFunc("GET /api/projects/{id}/proposals", proposalHandler.ListProposals)
	mux.HandleFunc("GET /api/proposals/{id}", proposalHandler.GetProposal)
	mux.HandleFunc("DELETE /api/proposals/{id}", proposalHandler.DeleteProposal)
	mux.HandleFunc("POST /api/proposals/{id}/submit", proposalHandler.SubmitForReview)
	mux.HandleFunc("POST /api/proposals/{id}/return", proposalHandler.ReturnToDraft)
	mux.HandleFunc("POST /api/proposals/{id}/ready", proposalHandler.MarkReady)
	mux.HandleFunc("POST /api/proposals/{id}/merge", proposalHandler.Merge)
	mux.HandleFunc("POST /api/proposals/{id}/validate", proposalHandler.ValidateDraft)
	mux.HandleFunc("POST /api/proposals/{id}/validate/stream", proposalHandler.ValidateDraftStream)

	// Content routes
	mux.HandleFunc("GET /api/proposals/{id}/content", proposalHandler.ListContent)
	mux.HandleFunc("GET /api/proposals/{id}/content/file", proposalHandler.GetContent)
	mux.HandleFunc("PUT /api/proposals/{id}/content/file", proposalHandler.SaveContent)
	mux.HandleFunc("DELETE /api/proposals/{id}/content/file", proposalHandler.DeleteContent)
	mux.HandleFunc("GET /api/proposals/{id}/content/history", proposalHandler.GetHistory)
	mux.HandleFunc("GET /api/proposals/{id}/content/versions/{version}", proposalHandler.GetVersion)
	mux.HandleFunc("POST /api/proposals/{id}/content/rollback", proposalHandler.Rollback)

	// Review routes
	mux.HandleFunc("POST /api/proposals/{id}/comments", reviewHandler.CreateComment)
	mux.HandleFunc("GET /api/proposals/{id}/comments", reviewHandler.ListComments)
	mux.HandleFunc("GET /api/proposals/{id}/comments/stats", reviewHandler.CommentStats)
	mux.HandleFunc("PATCH /api/proposals/{id}/comments/{commentID}", reviewHandler.UpdateComment)
	mux.HandleFunc("DELETE /api/proposals/{id}/comments/{commentID}", reviewHandler.DeleteComment)
	mux.HandleFunc("POST /api/proposals/{id}/comments/{commentID}/resolve", reviewHandler.ResolveComment)
	mux.HandleFunc("POST /api/proposals/{id}/comments/{commentID}/reopen", reviewHandler.ReopenComment)
	mux.HandleFunc("POST /api/proposals/{id}/comments/{commentID}/select", reviewHandler.SelectComment)

	// Iteration routes
	mux.HandleFunc("POST /api/proposals/{id}/iterate", iterateHandler.Iterate)
	mux.HandleFunc("POST /api/proposals/{id}/iterate/stream", iterateHandler.IterateStream)
	mux.HandleFunc("POST /api/proposals/{id}/sections", iterateHandler.GenerateSection)
	mux.HandleFunc("GET /api/proposals/{id}/events", iterateHandler.WatchEvents)

	// Usage routes
	mux.HandleFunc("GET /api/usage", usageHandler.MyUsage)
	mux.HandleFunc("GET /api/usage/summary", usageHandler.MyUsageSummary)
	mux.HandleFunc("GET /api/proposals/{id}/usage", usageHandler.ProposalUsage)

	// Audit routes
	mux.HandleFunc("GET /api/audit/{resourceType}/{resourceID}", auditHandler.ListByResource)

	// Middleware chain, applied in reverse order.
	// Order: CORS -> Recovery -> Auth -> Routes
	var root http.Handler = mux
	root = middleware.Auth(verifier)(root)
	root = middleware.Recovery(logger)(root)

	// CORS must wrap auth so OPTIONS pre-flight requests pass through.
	root = cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	}).Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
