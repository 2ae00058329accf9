package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
)

// PostgresLLMUsageRepository implements the LLMUsageRepository interface
type PostgresLLMUsageRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewLLMUsageRepository creates a new LLM usage repository
func NewLLMUsageRepository(config *RepositoryConfig) repositories.LLMUsageRepository {
	return &PostgresLLMUsageRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

const usageColumns = `id, user_id, proposal_id, provider, model, prompt_tokens, completion_tokens,
		total_tokens, operation, success, error_message, duration_ms, created_at`

// Create inserts one usage record
func (r *PostgresLLMUsageRepository) Create(ctx context.Context, usage *models.LLMUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, proposal_id, provider, model, prompt_tokens, completion_tokens,
			total_tokens, operation, success, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.tables.LLMUsage)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		usage.ID,
		usage.UserID,
		usage.ProposalID,
		usage.Provider,
		usage.Model,
		usage.PromptTokens,
		usage.CompletionTokens,
		usage.TotalTokens,
		usage.Operation,
		usage.Success,
		usage.ErrorMessage,
		usage.DurationMs,
		usage.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("create usage record: %w", err)
	}

	return nil
}

// ListByUser retrieves a user's usage records, newest first, optionally
// limited to records at or after since
func (r *PostgresLLMUsageRepository) ListByUser(ctx context.Context, userID string, since *time.Time) ([]models.LLMUsage, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE user_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at DESC
	`, usageColumns, r.tables.LLMUsage)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list usage by user: %w", err)
	}
	defer rows.Close()

	return scanUsage(rows)
}

// ListByProposal retrieves usage records tied to a proposal, newest first
func (r *PostgresLLMUsageRepository) ListByProposal(ctx context.Context, proposalID string) ([]models.LLMUsage, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE proposal_id = $1
		ORDER BY created_at DESC
	`, usageColumns, r.tables.LLMUsage)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list usage by proposal: %w", err)
	}
	defer rows.Close()

	return scanUsage(rows)
}

func scanUsage(rows pgx.Rows) ([]models.LLMUsage, error) {
	var records []models.LLMUsage
	for rows.Next() {
		var u models.LLMUsage
		err := rows.Scan(
			&u.ID,
			&u.UserID,
			&u.ProposalID,
			&u.Provider,
			&u.Model,
			&u.PromptTokens,
			&u.CompletionTokens,
			&u.TotalTokens,
			&u.Operation,
			&u.Success,
			&u.ErrorMessage,
			&u.DurationMs,
			&u.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage records: %w", err)
	}

	if records == nil {
		records = []models.LLMUsage{}
	}

	return records, nil
}
