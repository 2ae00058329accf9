package models

import (
	"time"
)

// ProposalStatus is the lifecycle state of a change proposal.
//
// The workflow is fixed:
//
//	DRAFT --submit--> REVIEW --mark_ready--> READY --merge--> MERGED
//	  ^                  |
//	  |--return_to_draft-|
//
// MERGED is terminal: no further transitions, no further content edits.
type ProposalStatus string

const (
	StatusDraft  ProposalStatus = "draft"
	StatusReview ProposalStatus = "review"
	StatusReady  ProposalStatus = "ready"
	StatusMerged ProposalStatus = "merged"
)

// Mutable reports whether proposal content may still be edited.
func (s ProposalStatus) Mutable() bool {
	return s == StatusDraft || s == StatusReview
}

// Proposal is a unit of documented change moving through the review
// workflow. FilesystemPath is nil until the proposal enters READY, at
// which point it records where the content was materialized on disk.
type Proposal struct {
	ID             string         `json:"id" db:"id"`
	ProjectID      string         `json:"project_id" db:"project_id"`
	AuthorID       string         `json:"author_id" db:"author_id"`
	Name           string         `json:"name" db:"name"` // kebab-case slug
	Status         ProposalStatus `json:"status" db:"status"`
	FilesystemPath *string        `json:"filesystem_path,omitempty" db:"filesystem_path"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}
