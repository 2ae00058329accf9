package models

import (
	"time"
)

// CommentStatus is the resolution state of a review comment.
//
//	       create                resolve(accepted/rejected/deferred)
//	(none) ------> OPEN ----------------------------------------> resolved
//	                 ^                                                |
//	                 |------------------- reopen ---------------------|
type CommentStatus string

const (
	CommentOpen     CommentStatus = "open"
	CommentAccepted CommentStatus = "accepted"
	CommentRejected CommentStatus = "rejected"
	CommentDeferred CommentStatus = "deferred"
)

// Resolved reports whether the comment has left the OPEN state.
func (s CommentStatus) Resolved() bool {
	return s != CommentOpen
}

// ValidCommentStatus reports whether s names a known status.
func ValidCommentStatus(s string) bool {
	switch CommentStatus(s) {
	case CommentOpen, CommentAccepted, CommentRejected, CommentDeferred:
		return true
	}
	return false
}

// ReviewComment is reviewer feedback attached to a file (and optional line
// range) within a proposal. ParentID is a non-owning self-reference giving
// single-level threading; replies never own their parent.
//
// SelectedForIteration marks an ACCEPTED comment as queued for the next
// LLM iteration round. Resolving to ACCEPTED sets it automatically.
type ReviewComment struct {
	ID                   string        `json:"id" db:"id"`
	ProposalID           string        `json:"proposal_id" db:"proposal_id"`
	ReviewerID           string        `json:"reviewer_id" db:"reviewer_id"`
	FilePath             string        `json:"file_path" db:"file_path"`
	LineStart            *int          `json:"line_start,omitempty" db:"line_start"`
	LineEnd              *int          `json:"line_end,omitempty" db:"line_end"`
	Content              string        `json:"content" db:"content"`
	Status               CommentStatus `json:"status" db:"status"`
	AuthorResponse       *string       `json:"author_response,omitempty" db:"author_response"`
	SelectedForIteration bool          `json:"selected_for_iteration" db:"selected_for_iteration"`
	ParentID             *string       `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
	ResolvedAt           *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy           *string       `json:"resolved_by,omitempty" db:"resolved_by"`
}

// CommentStats summarizes the review state of one proposal.
type CommentStats struct {
	ProposalID           string         `json:"proposal_id"`
	Total                int            `json:"total"`
	ByStatus             map[string]int `json:"by_status"`
	SelectedForIteration int            `json:"selected_for_iteration"`
	AllResolved          bool           `json:"all_resolved"`
}
