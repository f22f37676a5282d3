package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"arbor/internal/config"
	"arbor/internal/handler"
	"arbor/internal/middleware"
	"arbor/internal/repository/postgres"
	"arbor/internal/search"
	"arbor/internal/search/sqlite"
	"arbor/internal/service"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var logOut io.Writer = os.Stdout
	if dir := os.Getenv("LOG_DIR"); dir != "" {
		logFile, err := config.SetupLogFile(dir, 10)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger) // Set as default logger

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	// Create repositories
	tables := postgres.NewTableNames(cfg.TablePrefix)
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	dirRepo := postgres.NewDirectoryRepository(repoConfig)
	docRepo := postgres.NewDocumentRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool)

	// Load search tuning and open the index adapter
	tuning, err := search.LoadTuning()
	if err != nil {
		log.Fatalf("Failed to load search tuning: %v", err)
	}

	adapter, err := sqlite.NewAdapter(cfg.SearchIndexPath, tuning)
	if err != nil {
		log.Fatalf("Failed to open search index: %v", err)
	}
	defer adapter.Close()

	// Create services
	directoryService := service.NewDirectoryService(dirRepo, docRepo, txManager, logger)
	searchService := service.NewSearchSyncService(docRepo, dirRepo, adapter, tuning, logger)

	// Ensure the index schema; unavailability degrades, it does not abort
	status, err := searchService.Initialize(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize search service: %v", err)
	}
	logger.Info("search index initialized",
		"available", status.Available,
		"generation", status.Generation,
		"documents", status.DocumentCount,
	)

	// Create handlers
	directoryHandler := handler.NewDirectoryHandler(directoryService, searchService, logger)
	searchHandler := handler.NewSearchHandler(searchService, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", handler.HealthCheck)

	// Directory routes. The literal /stats segment wins over the {id}
	// wildcard by mux precedence.
	mux.HandleFunc("GET /api/directories", directoryHandler.ListDirectories)
	mux.HandleFunc("GET /api/directories/stats", directoryHandler.GetDirectoryStats)
	mux.HandleFunc("POST /api/directories", directoryHandler.CreateDirectory)
	mux.HandleFunc("GET /api/directories/{id}", directoryHandler.GetDirectory)
	mux.HandleFunc("PUT /api/directories/{id}", directoryHandler.UpdateDirectory)
	mux.HandleFunc("DELETE /api/directories/{id}", directoryHandler.DeleteDirectory)
	mux.HandleFunc("POST /api/directories/move", directoryHandler.MoveDirectory)
	mux.HandleFunc("POST /api/directories/reorder", directoryHandler.ReorderDirectories)

	// Search routes
	mux.HandleFunc("GET /api/search/suggestions", searchHandler.GetSuggestions)
	mux.HandleFunc("GET /api/search/status", searchHandler.GetStatus)
	mux.HandleFunc("POST /api/search/initialize", searchHandler.Initialize)
	mux.HandleFunc("POST /api/search/reindex", searchHandler.Reindex)
	mux.HandleFunc("POST /api/search/documents/{id}/index", searchHandler.IndexDocument)
	mux.HandleFunc("DELETE /api/search/documents/{id}/index", searchHandler.DeleteDocumentIndex)

	// Build middleware chain
	var h http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Logging → Routes
	h = middleware.RequestLogging(logger)(h)
	h = middleware.Recovery(logger)(h)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
