package iterate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	domainllm "specdeck/internal/domain/services/llm"
	llmsvc "specdeck/internal/service/llm"
)

const sectionMaxTokens = 4096

const sectionPrompt = `You are an expert technical writer creating compliance documentation.

## Task
Generate a %[1]s section for a change proposal with the following details:

## Proposal Context
- Name: %[2]s

## Requirements
%[3]s

## Instructions
%[4]s

Generate a well-structured %[1]s section that is:
- Clear and precise
- Technically accurate
- Compliant with documentation standards

Return ONLY the section content, without any explanatory text.`

// SectionRequest carries the parameters for one section generation.
type SectionRequest struct {
	ProposalID   string
	SectionType  string // e.g. "design", "implementation", "testing"
	Requirements string
	Instructions string
	Model        string
}

// SectionResult is the generated section text with its usage accounting.
type SectionResult struct {
	Content string               `json:"content"`
	Usage   domainllm.TokenUsage `json:"usage"`
}

// GenerateSection drafts a new section for a proposal without persisting
// anything; the author decides whether and where to save it.
func (e *Engine) GenerateSection(ctx context.Context, actor models.Actor, req SectionRequest) (*SectionResult, error) {
	if strings.TrimSpace(req.SectionType) == "" {
		return nil, fmt.Errorf("%w: section type is required", domain.ErrValidation)
	}

	proposal, err := e.proposals.GetByID(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if proposal.AuthorID != actor.UserID {
		return nil, fmt.Errorf("%w: only the proposal author can generate sections", domain.ErrForbidden)
	}

	requirements := strings.TrimSpace(req.Requirements)
	if requirements == "" {
		requirements = "No specific requirements"
	}
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = "Follow standard documentation practices"
	}

	prompt := fmt.Sprintf(sectionPrompt, req.SectionType, proposal.Name, requirements, instructions)

	provider, err := e.resolver.Default()
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = "gpt-4"
	}

	started := time.Now()
	resp, genErr := provider.Generate(ctx, &domainllm.GenerateRequest{
		Messages:    []domainllm.Message{{Role: "user", Content: prompt}},
		Model:       req.Model,
		MaxTokens:   sectionMaxTokens,
		Temperature: 0.7,
	})

	inv := llmsvc.Invocation{
		UserID:     actor.UserID,
		ProposalID: &req.ProposalID,
		Provider:   provider.Name(),
		Model:      model,
		Operation:  "generate_section",
		Started:    started,
		Err:        genErr,
	}
	if resp != nil {
		inv.Usage = resp.Usage
		if resp.Model != "" {
			inv.Model = resp.Model
		}
		if resp.Provider != "" {
			inv.Provider = resp.Provider
		}
	}
	e.usage.Record(ctx, inv)

	if genErr != nil {
		return nil, fmt.Errorf("generation failed: %w", genErr)
	}

	return &SectionResult{
		Content: strings.TrimSpace(resp.Content),
		Usage:   resp.Usage,
	}, nil
}
