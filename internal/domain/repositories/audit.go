package repositories

import (
	"context"

	"specdeck/internal/domain/models"
)

// AuditRepository appends to the audit trail. Entries are never updated or
// deleted; the table is the compliance record of who did what, when.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error

	// ListByResource returns the trail for one resource, newest first.
	ListByResource(ctx context.Context, resourceType, resourceID string, offset, limit int) ([]models.AuditEntry, error)
}
