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

// PostgresContentRepository implements the ContentRepository interface
type PostgresContentRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewContentRepository creates a new content repository
func NewContentRepository(config *RepositoryConfig) repositories.ContentRepository {
	return &PostgresContentRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

const contentColumns = "id, proposal_id, file_path, content, version, updated_by, updated_at"

// GetItem retrieves the current content row for a file
func (r *PostgresContentRepository) GetItem(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE proposal_id = $1 AND file_path = $2
	`, contentColumns, r.tables.Contents)

	return r.scanItem(ctx, query, proposalID, filePath)
}

// GetItemForUpdate retrieves the current content row with a row lock.
// Must run inside a transaction; concurrent saves on the same file
// serialize on this lock.
func (r *PostgresContentRepository) GetItemForUpdate(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE proposal_id = $1 AND file_path = $2
		FOR UPDATE
	`, contentColumns, r.tables.Contents)

	return r.scanItem(ctx, query, proposalID, filePath)
}

func (r *PostgresContentRepository) scanItem(ctx context.Context, query, proposalID, filePath string) (*models.ContentItem, error) {
	var item models.ContentItem
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, proposalID, filePath).Scan(
		&item.ID,
		&item.ProposalID,
		&item.FilePath,
		&item.Content,
		&item.Version,
		&item.UpdatedBy,
		&item.UpdatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("content '%s': %w", filePath, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get content: %w", err)
	}

	return &item, nil
}

// CreateItem inserts a new current-content row
func (r *PostgresContentRepository) CreateItem(ctx context.Context, item *models.ContentItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, proposal_id, file_path, content, version, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tables.Contents)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		item.ID,
		item.ProposalID,
		item.FilePath,
		item.Content,
		item.Version,
		item.UpdatedBy,
		item.UpdatedAt,
	)

	if err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("content '%s' already exists: %w", item.FilePath, domain.ErrConflict)
		}
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("proposal %s: %w", item.ProposalID, domain.ErrNotFound)
		}
		return fmt.Errorf("create content: %w", err)
	}

	return nil
}

// UpdateItem overwrites content, version, editor and timestamp of an existing row
func (r *PostgresContentRepository) UpdateItem(ctx context.Context, item *models.ContentItem) error {
	item.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, version = $2, updated_by = $3, updated_at = $4
		WHERE proposal_id = $5 AND file_path = $6
	`, r.tables.Contents)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		item.Content,
		item.Version,
		item.UpdatedBy,
		item.UpdatedAt,
		item.ProposalID,
		item.FilePath,
	)

	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("content '%s': %w", item.FilePath, domain.ErrNotFound)
	}

	return nil
}

// ListItems retrieves all current content for a proposal ordered by file path
func (r *PostgresContentRepository) ListItems(ctx context.Context, proposalID string) ([]models.ContentItem, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE proposal_id = $1
		ORDER BY file_path
	`, contentColumns, r.tables.Contents)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var items []models.ContentItem
	for rows.Next() {
		var item models.ContentItem
		err := rows.Scan(
			&item.ID,
			&item.ProposalID,
			&item.FilePath,
			&item.Content,
			&item.Version,
			&item.UpdatedBy,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}

	if items == nil {
		items = []models.ContentItem{}
	}

	return items, nil
}

// DeleteItem removes the current row, reporting whether a row existed
func (r *PostgresContentRepository) DeleteItem(ctx context.Context, proposalID, filePath string) (bool, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE proposal_id = $1 AND file_path = $2
	`, r.tables.Contents)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, proposalID, filePath)
	if err != nil {
		return false, fmt.Errorf("delete content: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// CreateVersion appends an immutable history snapshot
func (r *PostgresContentRepository) CreateVersion(ctx context.Context, version *models.ContentVersion) error {
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, proposal_id, file_path, content, version, created_by, created_at, change_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.ContentVersions)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		version.ID,
		version.ProposalID,
		version.FilePath,
		version.Content,
		version.Version,
		version.CreatedBy,
		version.CreatedAt,
		version.ChangeReason,
	)

	if err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("version %d of '%s' already recorded: %w", version.Version, version.FilePath, domain.ErrConflict)
		}
		return fmt.Errorf("create version: %w", err)
	}

	return nil
}

// ListVersions retrieves history for a file ordered by version descending
func (r *PostgresContentRepository) ListVersions(ctx context.Context, proposalID, filePath string) ([]models.ContentVersion, error) {
	query := fmt.Sprintf(`
		SELECT id, proposal_id, file_path, content, version, created_by, created_at, change_reason
		FROM %s
		WHERE proposal_id = $1 AND file_path = $2
		ORDER BY version DESC
	`, r.tables.ContentVersions)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, proposalID, filePath)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []models.ContentVersion
	for rows.Next() {
		var v models.ContentVersion
		err := rows.Scan(
			&v.ID,
			&v.ProposalID,
			&v.FilePath,
			&v.Content,
			&v.Version,
			&v.CreatedBy,
			&v.CreatedAt,
			&v.ChangeReason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}

	if versions == nil {
		versions = []models.ContentVersion{}
	}

	return versions, nil
}

// GetVersion retrieves one historical snapshot
func (r *PostgresContentRepository) GetVersion(ctx context.Context, proposalID, filePath string, version int) (*models.ContentVersion, error) {
	query := fmt.Sprintf(`
		SELECT id, proposal_id, file_path, content, version, created_by, created_at, change_reason
		FROM %s
		WHERE proposal_id = $1 AND file_path = $2 AND version = $3
	`, r.tables.ContentVersions)

	var v models.ContentVersion
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, proposalID, filePath, version).Scan(
		&v.ID,
		&v.ProposalID,
		&v.FilePath,
		&v.Content,
		&v.Version,
		&v.CreatedBy,
		&v.CreatedAt,
		&v.ChangeReason,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("version %d of '%s': %w", version, filePath, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get version: %w", err)
	}

	return &v, nil
}

// DeleteVersions removes all history for a file, returning the count removed
func (r *PostgresContentRepository) DeleteVersions(ctx context.Context, proposalID, filePath string) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE proposal_id = $1 AND file_path = $2
	`, r.tables.ContentVersions)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, proposalID, filePath)
	if err != nil {
		return 0, fmt.Errorf("delete versions: %w", err)
	}

	return int(result.RowsAffected()), nil
}
