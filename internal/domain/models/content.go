package models

import (
	"time"
)

// ContentItem is the current text of one file within a proposal.
// Exactly one row exists per (proposal, file path) pair; Version counts
// up from 1 and is never reused.
type ContentItem struct {
	ID         string    `json:"id" db:"id"`
	ProposalID string    `json:"proposal_id" db:"proposal_id"`
	FilePath   string    `json:"file_path" db:"file_path"` // e.g. "proposal.md", "specs/auth/spec.md"
	Content    string    `json:"content" db:"content"`
	Version    int       `json:"version" db:"version"`
	UpdatedBy  string    `json:"updated_by" db:"updated_by"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ContentVersion is an immutable snapshot of a ContentItem at a prior
// version number, captured just before the current row was overwritten.
// The union of all versions plus the current item forms a gap-free
// sequence 1..N per file.
type ContentVersion struct {
	ID           string    `json:"id" db:"id"`
	ProposalID   string    `json:"proposal_id" db:"proposal_id"`
	FilePath     string    `json:"file_path" db:"file_path"`
	Content      string    `json:"content" db:"content"`
	Version      int       `json:"version" db:"version"`
	CreatedBy    string    `json:"created_by" db:"created_by"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ChangeReason *string   `json:"change_reason,omitempty" db:"change_reason"`
}
