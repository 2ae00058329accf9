package handler

import (
	"log/slog"
	"net/http"

	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	"specdeck/internal/httputil"
	proposalsvc "specdeck/internal/service/proposal"
	reviewsvc "specdeck/internal/service/review"
)

// ReviewHandler handles review comment HTTP requests.
type ReviewHandler struct {
	svc       *reviewsvc.Service
	proposals *proposalsvc.Service
	logger    *slog.Logger
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(svc *reviewsvc.Service, proposals *proposalsvc.Service, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{svc: svc, proposals: proposals, logger: logger}
}

// authorize checks the caller can see the proposal before touching its
// comments.
func (h *ReviewHandler) authorize(w http.ResponseWriter, r *http.Request) (models.Actor, string, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return models.Actor{}, "", false
	}
	proposalID, ok := pathID(w, r, "id")
	if !ok {
		return models.Actor{}, "", false
	}
	if _, err := h.proposals.Get(r.Context(), actor, proposalID); err != nil {
		handleError(w, err)
		return models.Actor{}, "", false
	}
	return actor, proposalID, true
}

// CreateComment adds a comment or reply to a proposal under review.
// POST /api/proposals/{id}/comments
func (h *ReviewHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req struct {
		FilePath  string  `json:"file_path"`
		LineStart *int    `json:"line_start"`
		LineEnd   *int    `json:"line_end"`
		Content   string  `json:"content"`
		ParentID  *string `json:"parent_id"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	comment, err := h.svc.Create(r.Context(), actor, reviewsvc.CreateRequest{
		ProposalID: proposalID,
		FilePath:   req.FilePath,
		LineStart:  req.LineStart,
		LineEnd:    req.LineEnd,
		Content:    req.Content,
		ParentID:   req.ParentID,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, comment)
}

// ListComments lists a proposal's comments with optional status and file
// filters.
// GET /api/proposals/{id}/comments
func (h *ReviewHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	_, proposalID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	filter := repositories.CommentFilter{
		FilePath: r.URL.Query().Get("file_path"),
	}
	filter.Offset, filter.Limit = httputil.Pagination(r, 100, 500)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.CommentStatus(raw)
		filter.Status = &status
	}

	comments, err := h.svc.List(r.Context(), proposalID, filter)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// UpdateComment edits an open comment's text or anchor.
// PATCH /api/proposals/{id}/comments/{commentID}
func (h *ReviewHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}

	var req struct {
		Content   *string `json:"content"`
		LineStart *int    `json:"line_start"`
		LineEnd   *int    `json:"line_end"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	comment, err := h.svc.Update(r.Context(), actor, proposalID, commentID, reviewsvc.UpdateRequest{
		Content:   req.Content,
		LineStart: req.LineStart,
		LineEnd:   req.LineEnd,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, comment)
}

// DeleteComment removes an open comment without replies.
// DELETE /api/proposals/{id}/comments/{commentID}
func (h *ReviewHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), actor, proposalID, commentID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResolveComment moves an open comment to accepted, rejected or deferred.
// POST /api/proposals/{id}/comments/{commentID}/resolve
func (h *ReviewHandler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}

	var req struct {
		Status         string  `json:"status"`
		AuthorResponse *string `json:"author_response"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	comment, err := h.svc.Resolve(r.Context(), actor, proposalID, commentID,
		models.CommentStatus(req.Status), req.AuthorResponse)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, comment)
}

// ReopenComment returns a resolved comment to open.
// POST /api/proposals/{id}/comments/{commentID}/reopen
func (h *ReviewHandler) ReopenComment(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}

	comment, err := h.svc.Reopen(r.Context(), actor, proposalID, commentID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, comment)
}

// SelectComment flags or unflags an accepted comment for the next LLM
// iteration.
// POST /api/proposals/{id}/comments/{commentID}/select
func (h *ReviewHandler) SelectComment(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}

	var req struct {
		Selected bool `json:"selected"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	comment, err := h.svc.SetSelection(r.Context(), actor, proposalID, commentID, req.Selected)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, comment)
}

// CommentStats returns comment counts per status for a proposal.
// GET /api/proposals/{id}/comments/stats
func (h *ReviewHandler) CommentStats(w http.ResponseWriter, r *http.Request) {
	_, proposalID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(r.Context(), proposalID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, stats)
}
