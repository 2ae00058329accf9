package handler

import (
	"log/slog"
	"net/http"

	"specdeck/internal/handler/sse"
	"specdeck/internal/httputil"
	"specdeck/internal/service/events"
	iteratesvc "specdeck/internal/service/iterate"
	proposalsvc "specdeck/internal/service/proposal"
)

// IterateHandler handles LLM iteration HTTP requests.
type IterateHandler struct {
	engine    *iteratesvc.Engine
	proposals *proposalsvc.Service
	hub       *events.Hub
	logger    *slog.Logger
}

// NewIterateHandler creates a new iteration handler.
func NewIterateHandler(engine *iteratesvc.Engine, proposals *proposalsvc.Service, hub *events.Hub, logger *slog.Logger) *IterateHandler {
	return &IterateHandler{engine: engine, proposals: proposals, hub: hub, logger: logger}
}

type iterateRequest struct {
	FilePath     string  `json:"file_path"`
	Instructions string  `json:"instructions"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
}

// Iterate runs one synchronous LLM iteration on a content file.
// POST /api/proposals/{id}/iterate
func (h *IterateHandler) Iterate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req iterateRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Iterate(r.Context(), actor, iteratesvc.Request{
		ProposalID:   id,
		FilePath:     req.FilePath,
		Instructions: req.Instructions,
		Model:        req.Model,
		Temperature:  req.Temperature,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

// IterateStream runs an iteration and streams its progress as SSE. The
// response carries status, chunk and finally complete or error events;
// the new version is persisted before complete is sent.
// POST /api/proposals/{id}/iterate/stream
func (h *IterateHandler) IterateStream(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req iterateRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Subscribe before starting the run so no event is missed.
	eventCh, cancel := h.hub.Subscribe(id)
	defer cancel()

	writer, err := sse.NewWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The run shares the request context: a client disconnect cancels the
	// stream, and a cancelled stream is abandoned without persisting.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := h.engine.IterateStream(r.Context(), actor, iteratesvc.Request{
			ProposalID:   id,
			FilePath:     req.FilePath,
			Instructions: req.Instructions,
			Model:        req.Model,
			Temperature:  req.Temperature,
		}); err != nil {
			h.logger.Warn("streamed iteration failed", "proposal_id", id, "error", err)
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
			// Client disconnected; cancellation reaches the run through
			// the shared context and nothing is persisted.
			<-done
			return
		}
	}
}

// GenerateSection drafts a section without persisting it.
// POST /api/proposals/{id}/sections
func (h *IterateHandler) GenerateSection(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		SectionType  string `json:"section_type"`
		Requirements string `json:"requirements"`
		Instructions string `json:"instructions"`
		Model        string `json:"model"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.GenerateSection(r.Context(), actor, iteratesvc.SectionRequest{
		ProposalID:   id,
		SectionType:  req.SectionType,
		Requirements: req.Requirements,
		Instructions: req.Instructions,
		Model:        req.Model,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

// WatchEvents streams a proposal's realtime events to any subscriber,
// e.g. a second browser tab following a running iteration.
// GET /api/proposals/{id}/events
func (h *IterateHandler) WatchEvents(w http.ResponseWriter, r *http.Request) {
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

	eventCh, cancel := h.hub.Subscribe(id)
	defer cancel()

	writer, err := sse.NewWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := sse.KeepAliveTicker()
	defer ticker.Stop()

	for {
		select {
		case event := <-eventCh:
			if err := writer.WriteEvent(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
