package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
)

// PostgresCommentRepository implements the CommentRepository interface
type PostgresCommentRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(config *RepositoryConfig) repositories.CommentRepository {
	return &PostgresCommentRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

const commentColumns = `id, proposal_id, reviewer_id, file_path, line_start, line_end, content,
		status, author_response, selected_for_iteration, parent_id, created_at, resolved_at, resolved_by`

// Create inserts a review comment
func (r *PostgresCommentRepository) Create(ctx context.Context, comment *models.ReviewComment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	comment.CreatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, proposal_id, reviewer_id, file_path, line_start, line_end, content,
			status, author_response, selected_for_iteration, parent_id, created_at, resolved_at, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, r.tables.ReviewComments)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		comment.ID,
		comment.ProposalID,
		comment.ReviewerID,
		comment.FilePath,
		comment.LineStart,
		comment.LineEnd,
		comment.Content,
		comment.Status,
		comment.AuthorResponse,
		comment.SelectedForIteration,
		comment.ParentID,
		comment.CreatedAt,
		comment.ResolvedAt,
		comment.ResolvedBy,
	)

	if err != nil {
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("proposal %s: %w", comment.ProposalID, domain.ErrNotFound)
		}
		return fmt.Errorf("create comment: %w", err)
	}

	return nil
}

// GetByID retrieves a comment scoped to a proposal
func (r *PostgresCommentRepository) GetByID(ctx context.Context, id, proposalID string) (*models.ReviewComment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1 AND proposal_id = $2
	`, commentColumns, r.tables.ReviewComments)

	var comment models.ReviewComment
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, id, proposalID).Scan(
		&comment.ID,
		&comment.ProposalID,
		&comment.ReviewerID,
		&comment.FilePath,
		&comment.LineStart,
		&comment.LineEnd,
		&comment.Content,
		&comment.Status,
		&comment.AuthorResponse,
		&comment.SelectedForIteration,
		&comment.ParentID,
		&comment.CreatedAt,
		&comment.ResolvedAt,
		&comment.ResolvedBy,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}

	return &comment, nil
}

// List retrieves comments for a proposal, top-level comments before replies,
// then by creation time
func (r *PostgresCommentRepository) List(ctx context.Context, proposalID string, filter repositories.CommentFilter) ([]models.ReviewComment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE proposal_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3 = '' OR file_path = $3)
		ORDER BY (parent_id IS NOT NULL), created_at
		OFFSET $4 LIMIT $5
	`, commentColumns, r.tables.ReviewComments)

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, proposalID, status, filter.FilePath, filter.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	return scanComments(rows)
}

// Update persists mutable comment fields
func (r *PostgresCommentRepository) Update(ctx context.Context, comment *models.ReviewComment) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, status = $2, author_response = $3, selected_for_iteration = $4,
			resolved_at = $5, resolved_by = $6
		WHERE id = $7
	`, r.tables.ReviewComments)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		comment.Content,
		comment.Status,
		comment.AuthorResponse,
		comment.SelectedForIteration,
		comment.ResolvedAt,
		comment.ResolvedBy,
		comment.ID,
	)

	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("comment %s: %w", comment.ID, domain.ErrNotFound)
	}

	return nil
}

// Delete removes a comment
func (r *PostgresCommentRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id = $1
	`, r.tables.ReviewComments)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// HasReplies reports whether any comment references id as its parent
func (r *PostgresCommentRepository) HasReplies(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s WHERE parent_id = $1
		)
	`, r.tables.ReviewComments)

	var exists bool
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check replies: %w", err)
	}

	return exists, nil
}

// CountByStatus returns comment counts per status for a proposal
func (r *PostgresCommentRepository) CountByStatus(ctx context.Context, proposalID string) (map[models.CommentStatus]int, error) {
	query := fmt.Sprintf(`
		SELECT status, COUNT(*)
		FROM %s
		WHERE proposal_id = $1
		GROUP BY status
	`, r.tables.ReviewComments)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("count comments: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.CommentStatus]int)
	for rows.Next() {
		var status models.CommentStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan comment count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment counts: %w", err)
	}

	return counts, nil
}

// ListSelected retrieves ACCEPTED comments flagged for iteration, optionally
// narrowed to one file path
func (r *PostgresCommentRepository) ListSelected(ctx context.Context, proposalID, filePath string) ([]models.ReviewComment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE proposal_id = $1
		  AND status = $2
		  AND selected_for_iteration = TRUE
		  AND ($3 = '' OR file_path = $3)
		ORDER BY created_at
	`, commentColumns, r.tables.ReviewComments)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, proposalID, models.CommentAccepted, filePath)
	if err != nil {
		return nil, fmt.Errorf("list selected comments: %w", err)
	}
	defer rows.Close()

	return scanComments(rows)
}

// ClearSelection unsets selected_for_iteration on every currently selected
// comment in scope, returning how many were cleared
func (r *PostgresCommentRepository) ClearSelection(ctx context.Context, proposalID, filePath string) (int, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET selected_for_iteration = FALSE
		WHERE proposal_id = $1
		  AND selected_for_iteration = TRUE
		  AND ($2 = '' OR file_path = $2)
	`, r.tables.ReviewComments)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, proposalID, filePath)
	if err != nil {
		return 0, fmt.Errorf("clear selection: %w", err)
	}

	return int(result.RowsAffected()), nil
}

func scanComments(rows pgx.Rows) ([]models.ReviewComment, error) {
	var comments []models.ReviewComment
	for rows.Next() {
		var comment models.ReviewComment
		err := rows.Scan(
			&comment.ID,
			&comment.ProposalID,
			&comment.ReviewerID,
			&comment.FilePath,
			&comment.LineStart,
			&comment.LineEnd,
			&comment.Content,
			&comment.Status,
			&comment.AuthorResponse,
			&comment.SelectedForIteration,
			&comment.ParentID,
			&comment.CreatedAt,
			&comment.ResolvedAt,
			&comment.ResolvedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	if comments == nil {
		comments = []models.ReviewComment{}
	}

	return comments, nil
}
