package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	domainllm "specdeck/internal/domain/services/llm"
)

// UsageTracker writes one usage record per LLM invocation, success or
// failure. Recording is best effort: a failed insert is logged, never
// surfaced to the caller.
type UsageTracker struct {
	repo   repositories.LLMUsageRepository
	logger *slog.Logger
}

// NewUsageTracker creates a new usage tracker.
func NewUsageTracker(repo repositories.LLMUsageRepository, logger *slog.Logger) *UsageTracker {
	return &UsageTracker{repo: repo, logger: logger}
}

// Invocation carries the facts of one LLM call for recording.
type Invocation struct {
	UserID     string
	ProposalID *string
	Provider   string
	Model      string
	Operation  string
	Usage      domainllm.TokenUsage
	Started    time.Time
	Err        error
}

// Record persists one usage row for the invocation.
func (t *UsageTracker) Record(ctx context.Context, inv Invocation) {
	record := &models.LLMUsage{
		ID:               uuid.New().String(),
		UserID:           inv.UserID,
		ProposalID:       inv.ProposalID,
		Provider:         inv.Provider,
		Model:            inv.Model,
		PromptTokens:     inv.Usage.PromptTokens,
		CompletionTokens: inv.Usage.CompletionTokens,
		TotalTokens:      inv.Usage.TotalTokens,
		Operation:        inv.Operation,
		Success:          inv.Err == nil,
		CreatedAt:        time.Now().UTC(),
	}
	if inv.Err != nil {
		msg := inv.Err.Error()
		record.ErrorMessage = &msg
	}
	if !inv.Started.IsZero() {
		ms := int(time.Since(inv.Started).Milliseconds())
		record.DurationMs = &ms
	}

	if err := t.repo.Create(ctx, record); err != nil {
		t.logger.Error("failed to record LLM usage",
			"provider", inv.Provider, "operation", inv.Operation, "error", err)
	}
}

// ListByUser returns a user's usage records, optionally limited to
// records at or after since.
func (t *UsageTracker) ListByUser(ctx context.Context, userID string, since *time.Time) ([]models.LLMUsage, error) {
	return t.repo.ListByUser(ctx, userID, since)
}

// ListByProposal returns usage records tied to a proposal.
func (t *UsageTracker) ListByProposal(ctx context.Context, proposalID string) ([]models.LLMUsage, error) {
	return t.repo.ListByProposal(ctx, proposalID)
}

// Summarize aggregates a set of usage records for reporting.
func Summarize(records []models.LLMUsage) models.LLMUsageSummary {
	summary := models.LLMUsageSummary{
		Providers:  make(map[string]int),
		Operations: make(map[string]int),
	}

	successes := 0
	for _, rec := range records {
		summary.TotalRequests++
		summary.TotalTokens += rec.TotalTokens
		summary.TotalPromptTokens += rec.PromptTokens
		summary.TotalCompletionTokens += rec.CompletionTokens
		summary.Providers[rec.Provider]++
		summary.Operations[rec.Operation]++
		if rec.Success {
			successes++
		}
	}
	if summary.TotalRequests > 0 {
		summary.SuccessRate = float64(successes) / float64(summary.TotalRequests)
	}
	return summary
}
