package repositories

import (
	"context"

	"specdeck/internal/domain/models"
)

// CommentFilter narrows comment listings.
type CommentFilter struct {
	Status   *models.CommentStatus
	FilePath string
	Offset   int
	Limit    int
}

// CommentRepository persists review comments. Threads are reconstructed by
// query over the nullable parent_id column; no owning tree is ever built.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.ReviewComment) error

	// GetByID returns the comment scoped to a proposal, or domain.ErrNotFound.
	GetByID(ctx context.Context, id, proposalID string) (*models.ReviewComment, error)

	// List returns comments for a proposal, threads grouped (parents first)
	// then by creation time.
	List(ctx context.Context, proposalID string, filter CommentFilter) ([]models.ReviewComment, error)

	Update(ctx context.Context, comment *models.ReviewComment) error

	Delete(ctx context.Context, id string) error

	// HasReplies reports whether any comment references id as its parent.
	HasReplies(ctx context.Context, id string) (bool, error)

	// CountByStatus returns comment counts per status for a proposal.
	CountByStatus(ctx context.Context, proposalID string) (map[models.CommentStatus]int, error)

	// ListSelected returns ACCEPTED comments flagged for iteration,
	// optionally narrowed to one file path.
	ListSelected(ctx context.Context, proposalID, filePath string) ([]models.ReviewComment, error)

	// ClearSelection unsets selected_for_iteration on every currently
	// selected comment in scope, returning how many were cleared.
	ClearSelection(ctx context.Context, proposalID, filePath string) (int, error)
}
