package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
)

// PostgresAuditRepository implements the AuditRepository interface.
// The audit trail is append-only; there is no update or delete path.
type PostgresAuditRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(config *RepositoryConfig) repositories.AuditRepository {
	return &PostgresAuditRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

// Create appends one audit entry
func (r *PostgresAuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, timestamp, user_id, action, resource_type, resource_id, old_value, new_value, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.tables.AuditLog)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.UserID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.OldValue,
		entry.NewValue,
		entry.IPAddress,
	)

	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}

	return nil
}

// ListByResource retrieves the trail for one resource, newest first
func (r *PostgresAuditRepository) ListByResource(ctx context.Context, resourceType, resourceID string, offset, limit int) ([]models.AuditEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, timestamp, user_id, action, resource_type, resource_id, old_value, new_value, ip_address
		FROM %s
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY timestamp DESC
		OFFSET $3 LIMIT $4
	`, r.tables.AuditLog)

	if limit <= 0 {
		limit = 100
	}

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, resourceType, resourceID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		err := rows.Scan(
			&e.ID,
			&e.Timestamp,
			&e.UserID,
			&e.Action,
			&e.ResourceType,
			&e.ResourceID,
			&e.OldValue,
			&e.NewValue,
			&e.IPAddress,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	if entries == nil {
		entries = []models.AuditEntry{}
	}

	return entries, nil
}
