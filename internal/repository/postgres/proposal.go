package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
)

// PostgresProposalRepository implements the ProposalRepository interface
type PostgresProposalRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(config *RepositoryConfig) repositories.ProposalRepository {
	return &PostgresProposalRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

// Create inserts a proposal. A duplicate (project, name) pair yields a
// ConflictError carrying the existing proposal's ID.
func (r *PostgresProposalRepository) Create(ctx context.Context, proposal *models.Proposal) error {
	if proposal.ID == "" {
		proposal.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	proposal.CreatedAt = now
	proposal.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (id, project_id, author_id, name, status, filesystem_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.Proposals)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		proposal.ID,
		proposal.ProjectID,
		proposal.AuthorID,
		proposal.Name,
		proposal.Status,
		proposal.FilesystemPath,
		proposal.CreatedAt,
		proposal.UpdatedAt,
	)

	if err != nil {
		if IsPgDuplicateError(err) {
			existing, queryErr := r.GetByName(ctx, proposal.ProjectID, proposal.Name)
			if queryErr != nil {
				return fmt.Errorf("proposal '%s' already exists: %w", proposal.Name, domain.ErrConflict)
			}
			return &domain.ConflictError{
				Message:      fmt.Sprintf("proposal '%s' already exists in project", proposal.Name),
				ResourceType: "proposal",
				ResourceID:   existing.ID,
			}
		}
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("project %s: %w", proposal.ProjectID, domain.ErrNotFound)
		}
		return fmt.Errorf("create proposal: %w", err)
	}

	return nil
}

// GetByID retrieves a proposal by ID
func (r *PostgresProposalRepository) GetByID(ctx context.Context, id string) (*models.Proposal, error) {
	query := fmt.Sprintf(`
		SELECT id, project_id, author_id, name, status, filesystem_path, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Proposals)

	var proposal models.Proposal
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, id).Scan(
		&proposal.ID,
		&proposal.ProjectID,
		&proposal.AuthorID,
		&proposal.Name,
		&proposal.Status,
		&proposal.FilesystemPath,
		&proposal.CreatedAt,
		&proposal.UpdatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}

	return &proposal, nil
}

// GetByName retrieves a proposal by name within a project
func (r *PostgresProposalRepository) GetByName(ctx context.Context, projectID, name string) (*models.Proposal, error) {
	query := fmt.Sprintf(`
		SELECT id, project_id, author_id, name, status, filesystem_path, created_at, updated_at
		FROM %s
		WHERE project_id = $1 AND name = $2
	`, r.tables.Proposals)

	var proposal models.Proposal
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, projectID, name).Scan(
		&proposal.ID,
		&proposal.ProjectID,
		&proposal.AuthorID,
		&proposal.Name,
		&proposal.Status,
		&proposal.FilesystemPath,
		&proposal.CreatedAt,
		&proposal.UpdatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("proposal '%s': %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get proposal by name: %w", err)
	}

	return &proposal, nil
}

// List retrieves proposals for a project, most recently updated first
func (r *PostgresProposalRepository) List(ctx context.Context, projectID string, filter repositories.ProposalFilter) ([]models.Proposal, error) {
	query := fmt.Sprintf(`
		SELECT id, project_id, author_id, name, status, filesystem_path, created_at, updated_at
		FROM %s
		WHERE project_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3 = '' OR name ILIKE '%%' || $3 || '%%')
		ORDER BY updated_at DESC
		OFFSET $4 LIMIT $5
	`, r.tables.Proposals)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, projectID, status, filter.Search, filter.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []models.Proposal
	for rows.Next() {
		var proposal models.Proposal
		err := rows.Scan(
			&proposal.ID,
			&proposal.ProjectID,
			&proposal.AuthorID,
			&proposal.Name,
			&proposal.Status,
			&proposal.FilesystemPath,
			&proposal.CreatedAt,
			&proposal.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, proposal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}

	if proposals == nil {
		proposals = []models.Proposal{}
	}

	return proposals, nil
}

// Update persists status, filesystem path and updated-at changes
func (r *PostgresProposalRepository) Update(ctx context.Context, proposal *models.Proposal) error {
	proposal.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, filesystem_path = $2, updated_at = $3
		WHERE id = $4
	`, r.tables.Proposals)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		proposal.Status,
		proposal.FilesystemPath,
		proposal.UpdatedAt,
		proposal.ID,
	)

	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s: %w", proposal.ID, domain.ErrNotFound)
	}

	return nil
}

// Delete removes the proposal row
func (r *PostgresProposalRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id = $1
	`, r.tables.Proposals)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// CountByStatus returns proposal counts per status for a project
func (r *PostgresProposalRepository) CountByStatus(ctx context.Context, projectID string) (map[models.ProposalStatus]int, error) {
	query := fmt.Sprintf(`
		SELECT status, COUNT(*)
		FROM %s
		WHERE project_id = $1
		GROUP BY status
	`, r.tables.Proposals)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("count proposals: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ProposalStatus]int)
	for rows.Next() {
		var status models.ProposalStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan proposal count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal counts: %w", err)
	}

	return counts, nil
}
