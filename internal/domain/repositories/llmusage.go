package repositories

import (
	"context"
	"time"

	"specdeck/internal/domain/models"
)

// LLMUsageRepository persists per-request LLM usage records.
type LLMUsageRepository interface {
	Create(ctx context.Context, usage *models.LLMUsage) error

	// ListByUser returns a user's usage records, newest first, optionally
	// limited to records at or after since.
	ListByUser(ctx context.Context, userID string, since *time.Time) ([]models.LLMUsage, error)

	// ListByProposal returns usage records tied to a proposal, newest first.
	ListByProposal(ctx context.Context, proposalID string) ([]models.LLMUsage, error)
}
