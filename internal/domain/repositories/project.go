package repositories

import (
	"context"

	"specdeck/internal/domain/models"
)

// ProjectRepository persists compliance projects. Soft-deleted projects are
// invisible to every method except Update-after-delete, which fails NotFound.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error

	// GetByID returns the project, scoped to ownerID unless ownerID is empty
	// (admin access). Returns domain.ErrNotFound when absent or soft-deleted.
	GetByID(ctx context.Context, id, ownerID string) (*models.Project, error)

	// GetByName returns the live project with the given name, or ErrNotFound.
	GetByName(ctx context.Context, name string) (*models.Project, error)

	// List returns projects owned by ownerID, or all live projects when
	// ownerID is empty, newest first.
	List(ctx context.Context, ownerID string, offset, limit int) ([]models.Project, error)

	Update(ctx context.Context, project *models.Project) error

	// SoftDelete marks the project deleted without removing rows.
	SoftDelete(ctx context.Context, id string) error
}
