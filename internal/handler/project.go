package handler

import (
	"log/slog"
	"net/http"

	"specdeck/internal/domain/models"
	"specdeck/internal/httputil"
	proposalsvc "specdeck/internal/service/proposal"
)

// ProjectHandler handles project HTTP requests.
type ProjectHandler struct {
	svc       *proposalsvc.Service
	generator *proposalsvc.Generator
	logger    *slog.Logger
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(svc *proposalsvc.Service, generator *proposalsvc.Generator, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{svc: svc, generator: generator, logger: logger}
}

// HealthCheck responds 200 for load balancer probes.
// GET /health
func (h *ProjectHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateProject registers a project over an existing directory.
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req struct {
		Name               string `json:"name"`
		LocalPath          string `json:"local_path"`
		ComplianceStandard string `json:"compliance_standard"`
		SpecTool           string `json:"spec_tool"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.svc.CreateProject(r.Context(), actor, proposalsvc.ProjectCreateRequest{
		Name:               req.Name,
		LocalPath:          req.LocalPath,
		ComplianceStandard: models.ComplianceStandard(req.ComplianceStandard),
		SpecTool:           req.SpecTool,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, project)
}

// ListProjects lists projects visible to the caller.
// GET /api/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	offset, limit := httputil.Pagination(r, 50, 200)
	projects, err := h.svc.ListProjects(r.Context(), actor, offset, limit)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// GetProject returns one project.
// GET /api/projects/{id}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	project, err := h.svc.GetProject(r.Context(), actor, id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, project)
}

// UpdateProject renames a project.
// PATCH /api/projects/{id}
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
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

	project, err := h.svc.UpdateProject(r.Context(), actor, id, req.Name)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, project)
}

// DeleteProject soft-deletes a project. Admin only.
// DELETE /api/projects/{id}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteProject(r.Context(), actor, id); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetProjectStats returns proposal counts per status.
// GET /api/projects/{id}/stats
func (h *ProjectHandler) GetProjectStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	stats, err := h.svc.GetProjectStats(r.Context(), actor, id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, stats)
}

// AnalyzeContext asks the LLM to break a system description into
// proposal suggestions.
// POST /api/projects/{id}/analyze
func (h *ProjectHandler) AnalyzeContext(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Context string `json:"context"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.generator.AnalyzeContext(r.Context(), actor, id, req.Context)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

// BatchCreateProposals creates multiple proposals with generated content.
// POST /api/projects/{id}/proposals/batch
func (h *ProjectHandler) BatchCreateProposals(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Proposals       []proposalsvc.BatchItem `json:"proposals"`
		OriginalContext string                  `json:"original_context"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.generator.BatchCreate(r.Context(), actor, id, req.Proposals, req.OriginalContext)
	if err != nil {
		handleError(w, err)
		return
	}

	status := http.StatusCreated
	if len(result.Created) == 0 {
		status = http.StatusOK
	}
	httputil.RespondJSON(w, status, result)
}
