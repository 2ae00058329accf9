package handler

import (
	"log/slog"
	"net/http"

	"specdeck/internal/httputil"
	auditsvc "specdeck/internal/service/audit"
)

var auditResourceTypes = map[string]bool{
	"project":  true,
	"proposal": true,
	"comment":  true,
	"content":  true,
}

// AuditHandler handles audit trail HTTP requests.
type AuditHandler struct {
	svc    *auditsvc.Service
	logger *slog.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(svc *auditsvc.Service, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

// ListByResource returns the audit trail of one resource, newest first.
// Admin only; the trail exposes actions of every user.
// GET /api/audit/{resourceType}/{resourceID}
func (h *AuditHandler) ListByResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		httputil.RespondError(w, http.StatusForbidden, "admin access required")
		return
	}

	resourceType, ok := pathID(w, r, "resourceType")
	if !ok {
		return
	}
	if !auditResourceTypes[resourceType] {
		httputil.RespondError(w, http.StatusBadRequest, "unknown resource type")
		return
	}
	resourceID, ok := pathID(w, r, "resourceID")
	if !ok {
		return
	}

	offset, limit := httputil.Pagination(r, 100, 500)
	entries, err := h.svc.ListByResource(r.Context(), resourceType, resourceID, offset, limit)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
