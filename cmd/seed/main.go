package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"arbor/internal/config"
	"arbor/internal/domain/services"
	"arbor/internal/repository/postgres"
	"arbor/internal/service"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Parse command-line flags
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed data")
	clearData := flag.Bool("clear-data", false, "Clear all directories and documents (keep schema)")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && (*dropTables || *clearData) {
		log.Fatalf("🚫 BLOCKED: Cannot run destructive operations (--drop-tables or --clear-data) in production environment")
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *clearData {
		log.Printf("🧹 Clearing data only (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	} else if *schemaOnly {
		log.Printf("🏗️  Setting up schema only (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	} else {
		log.Printf("🌱 Seeding database (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	}

	// Create database connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Create table names
	tables := postgres.NewTableNames(cfg.TablePrefix)

	// Drop tables if requested
	if *dropTables {
		log.Println("🗑️  Dropping all tables...")
		if err := dropAllTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✅ Tables dropped")
	}

	// Run schema to ensure tables exist
	log.Println("📋 Ensuring database schema is up to date...")
	if err := runSchema(ctx, pool, tables); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("✅ Schema ready")

	if *schemaOnly {
		log.Println("✅ Schema setup complete (schema-only mode)")
		return
	}

	if *clearData {
		log.Println("🧹 Clearing existing directories and documents...")
		if err := clearAllData(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to clear data: %v", err)
		}
		log.Println("✅ Data cleared successfully")
		return
	}

	// Create repositories and the directory service; directories go through
	// the service so paths and order indexes come out exactly like production
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	dirRepo := postgres.NewDirectoryRepository(repoConfig)
	docRepo := postgres.NewDocumentRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool)
	directoryService := service.NewDirectoryService(dirRepo, docRepo, txManager, logger)

	log.Println("⚠️  Clearing existing directories and documents...")
	if err := clearAllData(ctx, pool, tables); err != nil {
		log.Printf("Warning: Could not clear data: %v", err)
	}

	log.Println("📝 Seeding directory tree with documents...")
	if err := seedData(ctx, pool, tables, directoryService); err != nil {
		log.Fatalf("Failed to seed data: %v", err)
	}

	log.Println("🎉 Seeding complete! Run POST /api/search/reindex to build the search index.")
}

// runSchema creates tables if they don't exist
func runSchema(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	// NULLS NOT DISTINCT makes the sibling-name constraint cover root-level
	// directories (parent_id IS NULL) too
	createDirectories := `
		CREATE TABLE IF NOT EXISTS ` + tables.Directories + ` (
			id TEXT PRIMARY KEY,
			parent_id TEXT REFERENCES ` + tables.Directories + `(id),
			name TEXT NOT NULL,
			order_index BIGINT NOT NULL,
			path TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE NULLS NOT DISTINCT (parent_id, name)
		)
	`
	if _, err := pool.Exec(ctx, createDirectories); err != nil {
		return err
	}

	// Subtree queries are LIKE prefix scans over path
	createPathIndex := `
		CREATE INDEX IF NOT EXISTS idx_` + tables.Directories + `_path
		ON ` + tables.Directories + ` (path text_pattern_ops)
	`
	if _, err := pool.Exec(ctx, createPathIndex); err != nil {
		return err
	}

	createDocuments := `
		CREATE TABLE IF NOT EXISTS ` + tables.Documents + ` (
			id TEXT PRIMARY KEY,
			directory_id TEXT REFERENCES ` + tables.Directories + `(id),
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'deleted')),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createDocuments); err != nil {
		return err
	}

	createDocDirIndex := `
		CREATE INDEX IF NOT EXISTS idx_` + tables.Documents + `_directory
		ON ` + tables.Documents + ` (directory_id) WHERE status = 'active'
	`
	if _, err := pool.Exec(ctx, createDocDirIndex); err != nil {
		return err
	}

	return nil
}

// dropAllTables drops every table this service owns
func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	// Documents reference directories, so they go first
	for _, table := range []string{tables.Documents, tables.Directories} {
		if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS `+table+` CASCADE`); err != nil {
			return err
		}
	}
	return nil
}

// clearAllData removes all rows while keeping the schema
func clearAllData(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	if _, err := pool.Exec(ctx, `DELETE FROM `+tables.Documents); err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM `+tables.Directories); err != nil {
		return err
	}
	return nil
}

// seedDoc is one sample document placed in a named directory ("" = unfiled)
type seedDoc struct {
	dir     string
	title   string
	content string
}

// seedData builds a small realistic tree and fills it with documents
func seedData(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, directoryService services.DirectoryService) error {
	// name -> parent name ("" = root), in creation order
	dirSpecs := []struct {
		name   string
		parent string
	}{
		{"Projects", ""},
		{"Archive", ""},
		{"Launch Plan", "Projects"},
		{"Research", "Projects"},
		{"Meeting Notes", "Launch Plan"},
		{"2024", "Archive"},
	}

	dirIDs := make(map[string]string, len(dirSpecs))
	for _, spec := range dirSpecs {
		var parentID *string
		if spec.parent != "" {
			id := dirIDs[spec.parent]
			parentID = &id
		}

		dir, err := directoryService.CreateDirectory(ctx, &services.CreateDirectoryRequest{
			ParentID: parentID,
			Name:     spec.name,
		})
		if err != nil {
			return err
		}
		dirIDs[spec.name] = dir.ID
		log.Printf("✅ Created directory: %s (ID: %s)", spec.name, dir.ID)
	}

	docs := []seedDoc{
		{"Launch Plan", "Roadmap 2026", "Quarterly milestones for the public launch."},
		{"Launch Plan", "Pricing draft", "Tier comparison and billing notes."},
		{"Meeting Notes", "Kickoff minutes", "Decisions and action items from the kickoff."},
		{"Research", "Competitor survey", "Feature matrix across the main competitors."},
		{"2024", "Retrospective", "What went well and what we change next year."},
		{"", "Scratchpad", "Unfiled quick notes."},
	}

	insert := `
		INSERT INTO ` + tables.Documents + ` (id, directory_id, title, content, status, updated_at)
		VALUES ($1, $2, $3, $4, 'active', $5)
	`
	for _, doc := range docs {
		var dirID *string
		if doc.dir != "" {
			id := dirIDs[doc.dir]
			dirID = &id
		}

		if _, err := pool.Exec(ctx, insert, uuid.NewString(), dirID, doc.title, doc.content, time.Now()); err != nil {
			return err
		}
		log.Printf("✅ Created document: %s", doc.title)
	}

	return nil
}
