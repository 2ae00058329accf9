package repositories

import (
	"context"

	"specdeck/internal/domain/models"
)

// ProposalFilter narrows proposal listings.
type ProposalFilter struct {
	Status *models.ProposalStatus
	Search string // substring match on name
	Offset int
	Limit  int
}

// ProposalRepository persists change proposals.
type ProposalRepository interface {
	// Create inserts the proposal. A duplicate (project, name) pair yields
	// a domain.ConflictError carrying the existing proposal's ID.
	Create(ctx context.Context, proposal *models.Proposal) error

	// GetByID returns the proposal or domain.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Proposal, error)

	// GetByName returns the proposal with the given name within a project,
	// or domain.ErrNotFound.
	GetByName(ctx context.Context, projectID, name string) (*models.Proposal, error)

	// List returns proposals for a project, most recently updated first.
	List(ctx context.Context, projectID string, filter ProposalFilter) ([]models.Proposal, error)

	// Update persists status, filesystem path and updated-at changes.
	Update(ctx context.Context, proposal *models.Proposal) error

	// Delete removes the proposal row. Content rows are deleted separately
	// by the caller before this (lifecycle-bound ownership).
	Delete(ctx context.Context, id string) error

	// CountByStatus returns proposal counts per status for a project.
	CountByStatus(ctx context.Context, projectID string) (map[models.ProposalStatus]int, error)
}
