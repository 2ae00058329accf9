package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"specdeck/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Projects        string
	Proposals       string
	Contents        string
	ContentVersions string
	ReviewComments  string
	LLMUsage        string
	AuditLog        string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Projects:        fmt.Sprintf("%sprojects", prefix),
		Proposals:       fmt.Sprintf("%sproposals", prefix),
		Contents:        fmt.Sprintf("%sproposal_contents", prefix),
		ContentVersions: fmt.Sprintf("%scontent_versions", prefix),
		ReviewComments:  fmt.Sprintf("%sreview_comments", prefix),
		LLMUsage:        fmt.Sprintf("%sllm_usage", prefix),
		AuditLog:        fmt.Sprintf("%saudit_log", prefix),
	}
}

// CreateConnectionPool creates a new pgx connection pool.
//
// Dynamic table names: the fmt.Sprintf interpolation of table prefixes
// (dev_, test_, prod_) happens BEFORE the SQL reaches the database, so it is
// safe with prepared statements. Each environment simply gets its own set of
// prepared statements.
//
// When running behind a transaction-pooling PgBouncer (commonly port 6543),
// prepared statements break with "prepared statement already exists". In that
// case we switch to QueryExecModeCacheDescribe, which uses the extended
// protocol without server-side prepared statements. An explicit
// default_query_exec_mode in the connection string takes precedence.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	// Configure pool size
	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the appropriate query executor for the context.
// If a transaction is present in the context, it returns the transaction.
// Otherwise, it returns the provided pool.
// This enables repositories to automatically participate in transactions when they exist.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
