package iterate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"specdeck/internal/config"
	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	"specdeck/internal/domain/repositories"
	domainllm "specdeck/internal/domain/services/llm"
	contentsvc "specdeck/internal/service/content"
	"specdeck/internal/service/events"
	llmsvc "specdeck/internal/service/llm"
)

const iterateMaxTokens = 8192

// ProviderResolver yields the LLM backend chain iterations run against.
type ProviderResolver interface {
	Default() (domainllm.Provider, error)
}

const metaPrompt = `You are an expert technical writer helping to improve compliance documentation.

## Context
You are working on a change proposal for a compliance-critical system.

## Current Content
The current draft of the document is below:

` + "```" + `
%s
` + "```" + `

## Reviewer Feedback
The following comments have been accepted by the author and should be addressed:

%s

## Instructions from Author
%s

## Task
Please revise the document to address all the accepted reviewer feedback while following the author's instructions.

Maintain the same format and structure unless changes are specifically requested.
Be precise and thorough. Ensure all feedback points are addressed.

Return ONLY the revised document content, without any explanatory text or markdown code blocks.`

// Engine drives LLM-powered content revision. It folds the accepted
// reviewer feedback for a file into a prompt, generates a revised draft,
// and persists it as a new content version.
type Engine struct {
	proposals repositories.ProposalRepository
	comments  repositories.CommentRepository
	contents  *contentsvc.Service
	resolver  ProviderResolver
	usage     *llmsvc.UsageTracker
	hub       *events.Hub
	logger    *slog.Logger
}

// NewEngine creates a new iteration engine.
func NewEngine(
	proposals repositories.ProposalRepository,
	comments repositories.CommentRepository,
	contents *contentsvc.Service,
	resolver ProviderResolver,
	usage *llmsvc.UsageTracker,
	hub *events.Hub,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		proposals: proposals,
		comments:  comments,
		contents:  contents,
		resolver:  resolver,
		usage:     usage,
		hub:       hub,
		logger:    logger,
	}
}

// Request carries the parameters for one iteration run.
type Request struct {
	ProposalID   string
	FilePath     string
	Instructions string
	Model        string
	Temperature  float64
}

// Result is the outcome of a successful iteration.
type Result struct {
	Content  string               `json:"content"`
	FilePath string               `json:"file_path"`
	Version  int                  `json:"version"`
	Response *domainllm.Response  `json:"llm_response,omitempty"`
	Usage    domainllm.TokenUsage `json:"usage"`
}

// iterationContext holds the validated inputs an iteration needs.
type iterationContext struct {
	proposal *models.Proposal
	item     *models.ContentItem
	selected []models.ReviewComment
	prompt   string
	provider domainllm.Provider
	model    string
}

// prepare validates preconditions and assembles the prompt. Order matters:
// proposal existence, then status, then authorship, then content, then
// the feedback requirement.
func (e *Engine) prepare(ctx context.Context, actor models.Actor, req Request) (*iterationContext, error) {
	if req.Temperature < 0 || req.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature must be between 0 and 2", domain.ErrValidation)
	}
	if len(req.Instructions) > config.MaxInstructionsLength {
		return nil, fmt.Errorf("%w: instructions exceed %d characters", domain.ErrValidation, config.MaxInstructionsLength)
	}

	proposal, err := e.proposals.GetByID(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if !proposal.Status.Mutable() {
		return nil, &domain.InvalidStateError{
			Message: fmt.Sprintf("cannot iterate on proposal in %s status", proposal.Status),
			State:   string(proposal.Status),
		}
	}
	if proposal.AuthorID != actor.UserID {
		return nil, fmt.Errorf("%w: only the proposal author can trigger iteration", domain.ErrForbidden)
	}

	item, err := e.contents.Get(ctx, req.ProposalID, req.FilePath)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: content not found for file %s", domain.ErrNotFound, req.FilePath)
		}
		return nil, err
	}

	selected, err := e.comments.ListSelected(ctx, req.ProposalID, req.FilePath)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 && strings.TrimSpace(req.Instructions) == "" {
		return nil, fmt.Errorf("%w: no accepted comments or instructions provided for iteration", domain.ErrValidation)
	}

	provider, err := e.resolver.Default()
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = "gpt-4"
	}

	return &iterationContext{
		proposal: proposal,
		item:     item,
		selected: selected,
		prompt:   buildPrompt(item.Content, selected, req.Instructions),
		provider: provider,
		model:    model,
	}, nil
}

// Iterate runs one blocking revision: generate, persist, clear the
// processed selection flags. Exactly one usage record is written whether
// generation succeeds or fails.
func (e *Engine) Iterate(ctx context.Context, actor models.Actor, req Request) (*Result, error) {
	ic, err := e.prepare(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, genErr := ic.provider.Generate(ctx, &domainllm.GenerateRequest{
		Messages:    []domainllm.Message{{Role: "user", Content: ic.prompt}},
		Model:       req.Model,
		MaxTokens:   iterateMaxTokens,
		Temperature: req.Temperature,
	})

	inv := llmsvc.Invocation{
		UserID:     actor.UserID,
		ProposalID: &req.ProposalID,
		Provider:   ic.provider.Name(),
		Model:      ic.model,
		Operation:  "iterate",
		Started:    started,
		Err:        genErr,
	}
	if resp != nil {
		inv.Usage = resp.Usage
		if resp.Model != "" {
			inv.Model = resp.Model
		}
		// A fallback chain answers with the backend that actually served
		// the call; the record must name that backend, not the chain.
		if resp.Provider != "" {
			inv.Provider = resp.Provider
		}
	}
	e.usage.Record(ctx, inv)

	if genErr != nil {
		e.logger.Error("LLM iteration failed", "proposal_id", req.ProposalID, "error", genErr)
		return nil, fmt.Errorf("LLM generation failed: %w", genErr)
	}

	return e.persist(ctx, actor, req, strings.TrimSpace(resp.Content), resp)
}

// IterateStream runs one streaming revision. Chunks are published to the
// event hub as they arrive; the revised draft is persisted only after the
// stream completes. Cancellation before completion persists nothing.
func (e *Engine) IterateStream(ctx context.Context, actor models.Actor, req Request) (*Result, error) {
	ic, err := e.prepare(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	e.hub.Status(req.ProposalID, fmt.Sprintf("Generating revision with %s", ic.provider.Name()))

	started := time.Now()
	chunks, err := ic.provider.GenerateStream(ctx, &domainllm.GenerateRequest{
		Messages:    []domainllm.Message{{Role: "user", Content: ic.prompt}},
		Model:       req.Model,
		MaxTokens:   iterateMaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		e.usage.Record(ctx, llmsvc.Invocation{
			UserID:     actor.UserID,
			ProposalID: &req.ProposalID,
			Provider:   ic.provider.Name(),
			Model:      ic.model,
			Operation:  "iterate",
			Started:    started,
			Err:        err,
		})
		e.hub.Error(req.ProposalID, err.Error())
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}

	var sb strings.Builder
	var streamErr error
	providerName := ic.provider.Name()
	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		if chunk.Provider != "" {
			providerName = chunk.Provider
		}
		sb.WriteString(chunk.Text)
		e.hub.Chunk(req.ProposalID, chunk.Text)
	}

	inv := llmsvc.Invocation{
		UserID:     actor.UserID,
		ProposalID: &req.ProposalID,
		Provider:   providerName,
		Model:      ic.model,
		Operation:  "iterate",
		Started:    started,
		Err:        streamErr,
	}
	// Streaming responses carry no token accounting; approximate from
	// whitespace-delimited words.
	inv.Usage = domainllm.TokenUsage{
		PromptTokens:     len(strings.Fields(ic.prompt)),
		CompletionTokens: len(strings.Fields(sb.String())),
	}
	inv.Usage.TotalTokens = inv.Usage.PromptTokens + inv.Usage.CompletionTokens
	e.usage.Record(ctx, inv)

	if streamErr != nil {
		e.logger.Error("LLM streaming iteration failed", "proposal_id", req.ProposalID, "error", streamErr)
		e.hub.Error(req.ProposalID, streamErr.Error())
		return nil, fmt.Errorf("LLM generation failed: %w", streamErr)
	}

	result, err := e.persist(ctx, actor, req, strings.TrimSpace(sb.String()), nil)
	if err != nil {
		e.hub.Error(req.ProposalID, err.Error())
		return nil, err
	}

	e.hub.Complete(req.ProposalID, map[string]any{
		"version":   result.Version,
		"file_path": result.FilePath,
	})
	return result, nil
}

func (e *Engine) persist(ctx context.Context, actor models.Actor, req Request, content string, resp *domainllm.Response) (*Result, error) {
	reason := changeReason(req.Instructions)
	item, err := e.contents.Save(ctx, actor, contentsvc.SaveRequest{
		ProposalID:   req.ProposalID,
		FilePath:     req.FilePath,
		Content:      content,
		ChangeReason: &reason,
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.comments.ClearSelection(ctx, req.ProposalID, req.FilePath); err != nil {
		e.logger.Warn("failed to clear processed comment selection",
			"proposal_id", req.ProposalID, "file_path", req.FilePath, "error", err)
	}

	result := &Result{
		Content:  content,
		FilePath: req.FilePath,
		Version:  item.Version,
		Response: resp,
	}
	if resp != nil {
		result.Usage = resp.Usage
	}
	return result, nil
}

func changeReason(instructions string) string {
	summary := strings.TrimSpace(instructions)
	if summary == "" {
		summary = "Addressed reviewer feedback"
	} else if len(summary) > 100 {
		summary = summary[:100]
	}
	return "LLM iteration: " + summary
}

// buildPrompt fills the revision prompt. Each selected comment is rendered
// as "[filePath:lineStart] text", with "general" standing in for comments
// not anchored to a line, followed by the author's response when present.
func buildPrompt(currentContent string, comments []models.ReviewComment, instructions string) string {
	commentsText := "No specific comments to address."
	if len(comments) > 0 {
		lines := make([]string, 0, len(comments))
		for _, c := range comments {
			anchor := "general"
			if c.LineStart != nil {
				anchor = fmt.Sprintf("%d", *c.LineStart)
			}
			line := fmt.Sprintf("- [%s:%s] %s", c.FilePath, anchor, c.Content)
			if c.AuthorResponse != nil && *c.AuthorResponse != "" {
				line += "\n  Author response: " + *c.AuthorResponse
			}
			lines = append(lines, line)
		}
		commentsText = strings.Join(lines, "\n")
	}

	authorInstructions := strings.TrimSpace(instructions)
	if authorInstructions == "" {
		authorInstructions = "No additional instructions."
	}

	return fmt.Sprintf(metaPrompt, currentContent, commentsText, authorInstructions)
}
