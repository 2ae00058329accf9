package handler

import (
	"log/slog"
	"net/http"
	"time"

	"specdeck/internal/httputil"
	llmsvc "specdeck/internal/service/llm"
	proposalsvc "specdeck/internal/service/proposal"
)

// UsageHandler handles LLM usage reporting HTTP requests.
type UsageHandler struct {
	usage     *llmsvc.UsageTracker
	proposals *proposalsvc.Service
	logger    *slog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(usage *llmsvc.UsageTracker, proposals *proposalsvc.Service, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{usage: usage, proposals: proposals, logger: logger}
}

// sinceParam parses an optional RFC 3339 "since" query parameter.
func sinceParam(r *http.Request) (*time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MyUsage returns the caller's own usage records.
// GET /api/usage?since=2026-08-01T00:00:00Z
func (h *UsageHandler) MyUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	since, err := sinceParam(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		return
	}

	records, err := h.usage.ListByUser(r.Context(), actor.UserID, since)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"records": records})
}

// MyUsageSummary returns aggregate counters over the caller's records.
// GET /api/usage/summary?since=...
func (h *UsageHandler) MyUsageSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	since, err := sinceParam(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		return
	}

	records, err := h.usage.ListByUser(r.Context(), actor.UserID, since)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, llmsvc.Summarize(records))
}

// ProposalUsage returns usage records tied to one proposal.
// GET /api/proposals/{id}/usage
func (h *UsageHandler) ProposalUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.proposals.Get(r.Context(), actor, id); err != nil {
		handleError(w, err)
		return
	}

	records, err := h.usage.ListByProposal(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"summary": llmsvc.Summarize(records),
	})
}
