package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
)

// Service records audit events. Recording is best-effort: a failed audit
// write is logged but never fails the operation that triggered it, so the
// trail can lag but user-facing work keeps going.
type Service struct {
	repo   repositories.AuditRepository
	logger *slog.Logger
}

// NewService creates a new audit service
func NewService(repo repositories.AuditRepository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record writes one audit entry. Old and new values are JSON-encoded.
func (s *Service) Record(ctx context.Context, userID, action, resourceType, resourceID string, oldValue, newValue any) {
	entry := &models.AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValue:     encode(oldValue),
		NewValue:     encode(newValue),
	}

	if ip := IPFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("audit write failed",
			"action", action,
			"resource_type", resourceType,
			"resource_id", resourceID,
			"error", err,
		)
	}
}

// StatusChanged records a proposal status transition.
func (s *Service) StatusChanged(ctx context.Context, userID, proposalID string, oldStatus, newStatus models.ProposalStatus) {
	s.Record(ctx, userID, models.AuditStatusChanged, "proposal", proposalID,
		map[string]string{"status": string(oldStatus)},
		map[string]string{"status": string(newStatus)},
	)
}

// ContentModified records a content save.
func (s *Service) ContentModified(ctx context.Context, userID, proposalID, filePath string, version int) {
	s.Record(ctx, userID, models.AuditContentModified, "proposal", proposalID,
		nil,
		map[string]any{"file_path": filePath, "version": version},
	)
}

// CommentResolved records a comment resolution.
func (s *Service) CommentResolved(ctx context.Context, userID, commentID, proposalID string, status models.CommentStatus, response *string) {
	s.Record(ctx, userID, models.AuditCommentResolved, "comment", commentID,
		nil,
		map[string]any{"proposal_id": proposalID, "status": string(status), "response": response},
	)
}

// ListByResource returns the trail for one resource, newest first.
func (s *Service) ListByResource(ctx context.Context, resourceType, resourceID string, offset, limit int) ([]models.AuditEntry, error) {
	return s.repo.ListByResource(ctx, resourceType, resourceID, offset, limit)
}

func encode(v any) *string {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

type ipContextKey struct{}

// WithIP attaches the client IP to the context for audit attribution.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipContextKey{}, ip)
}

// IPFromContext returns the client IP previously attached with WithIP,
// or "" when absent.
func IPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipContextKey{}).(string)
	return ip
}
