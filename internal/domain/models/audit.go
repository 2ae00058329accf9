package models

import (
	"time"
)

// Audit actions recorded by the system. Values are stable identifiers and
// end up in compliance exports, so they never change once shipped.
const (
	AuditProjectCreated    = "PROJECT_CREATED"
	AuditProjectUpdated    = "PROJECT_UPDATED"
	AuditProjectDeleted    = "PROJECT_DELETED"
	AuditProposalCreated   = "PROPOSAL_CREATED"
	AuditProposalCreatedAI = "PROPOSAL_CREATED_VIA_AI"
	AuditProposalDeleted   = "PROPOSAL_DELETED"
	AuditStatusChanged     = "STATUS_CHANGED"
	AuditContentModified   = "CONTENT_MODIFIED"
	AuditCommentCreated    = "COMMENT_CREATED"
	AuditCommentResolved   = "COMMENT_RESOLVED"
)

// AuditEntry is one append-only audit-trail record. Old/new values are
// JSON-encoded snapshots of whatever changed.
type AuditEntry struct {
	ID           string    `json:"id" db:"id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	UserID       string    `json:"user_id" db:"user_id"`
	Action       string    `json:"action" db:"action"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   string    `json:"resource_id" db:"resource_id"`
	OldValue     *string   `json:"old_value,omitempty" db:"old_value"`
	NewValue     *string   `json:"new_value,omitempty" db:"new_value"`
	IPAddress    *string   `json:"ip_address,omitempty" db:"ip_address"`
}
