package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	"specdeck/internal/handler/sse"
	"specdeck/internal/httputil"
	contentsvc "specdeck/internal/service/content"
	"specdeck/internal/service/events"
	proposalsvc "specdeck/internal/service/proposal"
)

// ProposalHandler handles proposal lifecycle and content HTTP requests.
type ProposalHandler struct {
	svc      *proposalsvc.Service
	contents *contentsvc.Service
	hub      *events.Hub
	logger   *slog.Logger
}

// NewProposalHandler creates a new proposal handler.
func NewProposalHandler(svc *proposalsvc.Service, contents *contentsvc.Service, hub *events.Hub, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{svc: svc, contents: contents, hub: hub, logger: logger}
}

// CreateProposal creates a DRAFT proposal with template content.
// POST /api/projects/{id}/proposals
func (h *ProposalHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	proposal, err := h.svc.Create(r.Context(), actor, proposalsvc.CreateRequest{
		ProjectID: projectID,
		Name:      req.Name,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, proposal)
}

// ListProposals lists a project's proposals with optional status and
// search filters.
// GET /api/projects/{id}/proposals
func (h *ProposalHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	filter := repositories.ProposalFilter{
		Search: r.URL.Query().Get("search"),
	}
	filter.Offset, filter.Limit = httputil.Pagination(r, 50, 200)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.ProposalStatus(raw)
		filter.Status = &status
	}

	proposals, err := h.svc.List(r.Context(), actor, projectID, filter)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

// GetProposal returns one proposal.
// GET /api/proposals/{id}
func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	proposal, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, proposal)
}

// DeleteProposal removes a DRAFT proposal and its content.
// DELETE /api/proposals/{id}
func (h *ProposalHandler) DeleteProposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), actor, id); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SubmitForReview moves DRAFT to REVIEW.
// POST /api/proposals/{id}/submit
func (h *ProposalHandler) SubmitForReview(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.SubmitForReview)
}

// ReturnToDraft moves REVIEW back to DRAFT.
// POST /api/proposals/{id}/return
func (h *ProposalHandler) ReturnToDraft(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.ReturnToDraft)
}

// MarkReady moves REVIEW to READY, materializing and validating the
// change on disk.
// POST /api/proposals/{id}/ready
func (h *ProposalHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkReady)
}

// Merge archives a READY proposal. Admin only.
// POST /api/proposals/{id}/merge
func (h *ProposalHandler) Merge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Merge)
}

func (h *ProposalHandler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, actor models.Actor, proposalID string) (*models.Proposal, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	proposal, err := fn(r.Context(), actor, id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, proposal)
}

// ValidateDraft runs a strict validation of the proposal content in an
// isolated temp tree without touching the project directory.
// POST /api/proposals/{id}/validate
func (h *ProposalHandler) ValidateDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.svc.ValidateDraft(r.Context(), actor, id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

// ValidateDraftStream runs the same validation but streams CLI output as
// SSE, ending with a complete event carrying the classified result.
// POST /api/proposals/{id}/validate/stream
func (h *ProposalHandler) ValidateDraftStream(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	// Subscribe before starting so the first status event is not missed.
	eventCh, cancel := h.hub.Subscribe(id)
	defer cancel()

	writer, err := sse.NewWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Sharing the request context lets a client disconnect cancel the CLI
	// run and release its per-path lock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := h.svc.ValidateDraftStream(r.Context(), actor, id); err != nil {
			h.logger.Warn("streamed validation failed", "proposal_id", id, "error", err)
		}
	}()

	ticker := sse.KeepAliveTicker()
	defer ticker.Stop()

	for {
		select {
		case event := <-eventCh:
			if err := writer.WriteEvent(event); err != nil {
				h.logger.Debug("SSE client gone", "proposal_id", id, "error", err)
				return
			}
			if event.Type == events.TypeComplete || event.Type == events.TypeError {
				return
			}
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.logger.Debug("SSE keepalive failed", "proposal_id", id, "error", err)
				return
			}
		case <-r.Context().Done():
			<-done
			return
		}
	}
}

// authorizeContent checks proposal-level access before any content
// operation. The content service itself has no actor concept.
func (h *ProposalHandler) authorizeContent(w http.ResponseWriter, r *http.Request) (models.Actor, string, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return models.Actor{}, "", false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return models.Actor{}, "", false
	}
	if _, err := h.svc.Get(r.Context(), actor, id); err != nil {
		handleError(w, err)
		return models.Actor{}, "", false
	}
	return actor, id, true
}

// ListContent returns all current content files of a proposal.
// GET /api/proposals/{id}/content
func (h *ProposalHandler) ListContent(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.authorizeContent(w, r)
	if !ok {
		return
	}

	items, err := h.contents.ListAll(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetContent returns the current version of one file.
// GET /api/proposals/{id}/content/file?path=proposal.md
func (h *ProposalHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.authorizeContent(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.RespondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	item, err := h.contents.Get(r.Context(), id, path)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, item)
}

// SaveContent writes a new version of one file.
// PUT /api/proposals/{id}/content/file
func (h *ProposalHandler) SaveContent(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.authorizeContent(w, r)
	if !ok {
		return
	}

	var req struct {
		FilePath     string  `json:"file_path"`
		Content      string  `json:"content"`
		ChangeReason *string `json:"change_reason"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.contents.Save(r.Context(), actor, contentsvc.SaveRequest{
		ProposalID:   id,
		FilePath:     req.FilePath,
		Content:      req.Content,
		ChangeReason: req.ChangeReason,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, item)
}

// DeleteContent removes one file and its history.
// DELETE /api/proposals/{id}/content/file?path=specs/x/spec.md
func (h *ProposalHandler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.authorizeContent(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.RespondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	existed, err := h.contents.Delete(r.Context(), id, path)
	if err != nil {
		handleError(w, err)
		return
	}
	if !existed {
		httputil.RespondError(w, http.StatusNotFound, "content not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetHistory returns the version history of one file, newest first.
// GET /api/proposals/{id}/content/history?path=proposal.md
func (h *ProposalHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.authorizeContent(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.RespondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	versions, err := h.contents.History(r.Context(), id, path)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// GetVersion returns one historical snapshot.
// GET /api/proposals/{id}/content/versions/{version}?path=proposal.md
func (h *ProposalHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.authorizeContent(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.RespondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		httputil.RespondError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}

	snapshot, err := h.contents.GetVersion(r.Context(), id, path, version)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, snapshot)
}

// Rollback restores a file to a historical version as a new version.
// POST /api/proposals/{id}/content/rollback
func (h *ProposalHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.authorizeContent(w, r)
	if !ok {
		return
	}

	var req struct {
		FilePath string `json:"file_path"`
		Version  int    `json:"version"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.contents.Rollback(r.Context(), actor, id, req.FilePath, req.Version)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, item)
}
