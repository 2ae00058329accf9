package repositories

import (
	"context"

	"specdeck/internal/domain/models"
)

// ContentRepository persists current content rows and their immutable
// version history. The snapshot-then-update sequence performed by the
// versioning service runs inside one transaction; GetForUpdate gives it a
// row lock so concurrent saves on the same (proposal, filePath) key
// serialize instead of both reading version N.
type ContentRepository interface {
	// GetItem returns the current content row or domain.ErrNotFound.
	GetItem(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error)

	// GetItemForUpdate is GetItem with SELECT ... FOR UPDATE semantics.
	// Must be called inside a transaction. Returns domain.ErrNotFound when
	// no row exists yet.
	GetItemForUpdate(ctx context.Context, proposalID, filePath string) (*models.ContentItem, error)

	// CreateItem inserts a new current-content row at version 1.
	CreateItem(ctx context.Context, item *models.ContentItem) error

	// UpdateItem overwrites content/version/editor/timestamp of an existing row.
	UpdateItem(ctx context.Context, item *models.ContentItem) error

	// ListItems returns all current content for a proposal ordered by file path.
	ListItems(ctx context.Context, proposalID string) ([]models.ContentItem, error)

	// DeleteItem removes the current row; reports whether a row existed.
	DeleteItem(ctx context.Context, proposalID, filePath string) (bool, error)

	// CreateVersion appends an immutable history snapshot.
	CreateVersion(ctx context.Context, version *models.ContentVersion) error

	// ListVersions returns history for a file ordered by version descending.
	ListVersions(ctx context.Context, proposalID, filePath string) ([]models.ContentVersion, error)

	// GetVersion returns one historical snapshot or domain.ErrNotFound.
	GetVersion(ctx context.Context, proposalID, filePath string, version int) (*models.ContentVersion, error)

	// DeleteVersions removes all history for a file, returning the count removed.
	DeleteVersions(ctx context.Context, proposalID, filePath string) (int, error)
}
