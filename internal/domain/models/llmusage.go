package models

import (
	"time"
)

// LLMUsage records one LLM API invocation for cost monitoring. Exactly one
// row is written per engine invocation, success or failure.
type LLMUsage struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	ProposalID       *string   `json:"proposal_id,omitempty" db:"proposal_id"`
	Provider         string    `json:"provider" db:"provider"`
	Model            string    `json:"model" db:"model"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens" db:"total_tokens"`
	Operation        string    `json:"operation" db:"operation"` // e.g. "iterate", "generate_section"
	Success          bool      `json:"success" db:"success"`
	ErrorMessage     *string   `json:"error_message,omitempty" db:"error_message"`
	DurationMs       *int      `json:"duration_ms,omitempty" db:"duration_ms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// LLMUsageSummary aggregates usage records for reporting.
type LLMUsageSummary struct {
	TotalRequests         int            `json:"total_requests"`
	TotalTokens           int            `json:"total_tokens"`
	TotalPromptTokens     int            `json:"total_prompt_tokens"`
	TotalCompletionTokens int            `json:"total_completion_tokens"`
	SuccessRate           float64        `json:"success_rate"`
	Providers             map[string]int `json:"providers"`
	Operations            map[string]int `json:"operations"`
}
