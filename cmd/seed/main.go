package main

import (
	"context"
	"flag"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"specdeck/internal/config"
	"specdeck/internal/repository/postgres"
)

// Sets up (and optionally resets) the database schema for one environment.
// The HTTP server never creates tables; run this before first start.
func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before creating the schema")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Environment == "prod" && *dropTables {
		log.Fatal("refusing to drop tables in the prod environment")
	}

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Printf("dropping tables (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
		if err := dropAllTables(ctx, pool, tables); err != nil {
			log.Fatalf("drop tables: %v", err)
		}
	}

	log.Printf("creating schema (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	if err := runSchema(ctx, pool, tables, cfg.TablePrefix); err != nil {
		log.Fatalf("create schema: %v", err)
	}
	log.Println("schema ready")
}

// dropAllTables removes every table in dependency order.
func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	ordered := []string{
		tables.AuditLog,
		tables.LLMUsage,
		tables.ReviewComments,
		tables.ContentVersions,
		tables.Contents,
		tables.Proposals,
		tables.Projects,
	}
	for _, table := range ordered {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

// runSchema creates tables and indexes if they don't exist.
func runSchema(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, tablePrefix string) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + tables.Projects + ` (
			id UUID PRIMARY KEY,
			owner_id UUID NOT NULL,
			name TEXT NOT NULL,
			local_path TEXT NOT NULL,
			compliance_standard TEXT NOT NULL,
			spec_tool TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS ` + tables.Proposals + ` (
			id UUID PRIMARY KEY,
			project_id UUID NOT NULL REFERENCES ` + tables.Projects + `(id) ON DELETE CASCADE,
			author_id UUID NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			filesystem_path TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(project_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS ` + tables.Contents + ` (
			id UUID PRIMARY KEY,
			proposal_id UUID NOT NULL REFERENCES ` + tables.Proposals + `(id) ON DELETE CASCADE,
			file_path TEXT NOT NULL,
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_by UUID NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(proposal_id, file_path)
		)`,

		`CREATE TABLE IF NOT EXISTS ` + tables.ContentVersions + ` (
			id UUID PRIMARY KEY,
			proposal_id UUID NOT NULL REFERENCES ` + tables.Proposals + `(id) ON DELETE CASCADE,
			file_path TEXT NOT NULL,
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			change_reason TEXT NOT NULL,
			UNIQUE(proposal_id, file_path, version)
		)`,

		`CREATE TABLE IF NOT EXISTS ` + tables.ReviewComments + ` (
			id UUID PRIMARY KEY,
			proposal_id UUID NOT NULL REFERENCES ` + tables.Proposals + `(id) ON DELETE CASCADE,
			reviewer_id UUID NOT NULL,
			file_path TEXT NOT NULL,
			line_start INTEGER,
			line_end INTEGER,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			author_response TEXT,
			selected_for_iteration BOOLEAN NOT NULL DEFAULT FALSE,
			parent_id UUID REFERENCES ` + tables.ReviewComments + `(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ,
			resolved_by UUID
		)`,

		`CREATE TABLE IF NOT EXISTS ` + tables.LLMUsage + ` (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			proposal_id UUID,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			operation TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS ` + tables.AuditLog + ` (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			user_id UUID NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			old_value JSONB,
			new_value JSONB,
			ip_address TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `proposals_project_status ON ` + tables.Proposals + `(project_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `contents_proposal ON ` + tables.Contents + `(proposal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `content_versions_file ON ` + tables.ContentVersions + `(proposal_id, file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `comments_proposal_status ON ` + tables.ReviewComments + `(proposal_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `llm_usage_user ON ` + tables.LLMUsage + `(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `llm_usage_proposal ON ` + tables.LLMUsage + `(proposal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `audit_resource ON ` + tables.AuditLog + `(resource_type, resource_id, timestamp)`,
	}
	for _, stmt := range indexes {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
