package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	domainllm "specdeck/internal/domain/services/llm"
	contentsvc "specdeck/internal/service/content"
)

const analysisSystemPrompt = `You are a software architect analyzing system requirements for compliance-critical software development.

Given the detailed context below, identify distinct change proposals that should be created separately. Each proposal should be:
- Focused on a single capability or concern
- Independently implementable and testable
- Named in kebab-case (e.g., add-user-authentication)

Context categories to consider:
- Authentication & Authorization
- Data integrations
- User interface components
- Backend services
- Security & compliance requirements

Return ONLY valid JSON with this exact structure (no markdown, no explanation):
{
  "suggestions": [
    {"name": "kebab-case-name", "description": "Brief description of the proposal", "category": "category"}
  ],
  "analysis_summary": "Brief summary of the analysis"
}`

const generationSystemPrompt = `You are an AI assistant helping to create spec change proposals for compliance-critical software development.

Generate well-structured proposal content following OpenSpec conventions.

Return ONLY valid JSON with this exact structure (no markdown, no explanation):
{
  "proposal.md": "# Change: proposal-name\n\n## Why\n\nExplanation of why this change is needed.\n\n## What Changes\n\n### Component/Area\n\n- Change description\n\n## Impact\n\n- Impact description",
  "tasks.md": "# Tasks: proposal-name\n\n## 1. Section Name\n\n- [ ] 1.1 Task description\n- [ ] 1.2 Task description",
  "spec.md": "# Capability: Capability Name\n\n## ADDED Requirements\n\n### Requirement: Requirement name\n\nThe system SHALL do something.\n\n#### Scenario: Scenario name\n\n- **Given** some precondition\n- **When** some action\n- **Then** some outcome"
}

Be concise but thorough. Follow OpenSpec conventions for requirement language (SHALL, MUST, etc.).
Use \n for newlines in the JSON values.`

const (
	minAnalysisContext = 100
	batchItemDelay     = time.Second
	generatedReason    = "Generated via AI from project context"
)

var (
	codeBlockRe = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*\\})\\s*```")
	rawJSONRe   = regexp.MustCompile(`\{[\s\S]*\}`)
	separatorRe = regexp.MustCompile(`---\s*([\w.]+)\s*---`)
	headerRe    = regexp.MustCompile(`(?im)^#+\s*(proposal\.md|tasks\.md|spec\.md)\s*$`)
	fenceOpenRe = regexp.MustCompile("^```(?:json|markdown)?\\s*\\n?")
	fenceEndRe  = regexp.MustCompile("\\n?```\\s*$")
)

// ToolResolver yields the provider chain preferred by a project's spec tool.
type ToolResolver interface {
	ForTool(tool string) (domainllm.Provider, error)
}

// Generator produces proposal suggestions and full proposal content from
// free-form project context. Parsing of model output is layered: strict
// JSON, JSON in a code fence, raw JSON with newline repair, markdown
// sections, and finally deterministic templates, so generation never hard
// fails on a malformed response.
type Generator struct {
	svc      *Service
	resolver ToolResolver
	logger   *slog.Logger
}

// NewGenerator creates a proposal generator on top of the lifecycle service.
func NewGenerator(svc *Service, resolver ToolResolver, logger *slog.Logger) *Generator {
	return &Generator{svc: svc, resolver: resolver, logger: logger}
}

// Suggestion is one proposed change from context analysis.
type Suggestion struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// AnalysisResult is the outcome of context analysis.
type AnalysisResult struct {
	Suggestions     []Suggestion `json:"suggestions"`
	AnalysisSummary string       `json:"analysis_summary"`
	TokensUsed      int          `json:"tokens_used"`
}

// AnalyzeContext asks the project's preferred model to break a system
// description into distinct change proposals. The context must carry at
// least 100 characters to be worth analyzing.
func (g *Generator) AnalyzeContext(ctx context.Context, actor models.Actor, projectID, contextText string) (*AnalysisResult, error) {
	project, err := g.svc.projectForActor(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(contextText)) < minAnalysisContext {
		return nil, fmt.Errorf("%w: context must be at least %d characters for meaningful analysis",
			domain.ErrValidation, minAnalysisContext)
	}

	provider, err := g.resolver.ForTool(string(project.SpecTool))
	if err != nil {
		return nil, err
	}

	userMessage := fmt.Sprintf(`Analyze the following system context and suggest distinct change proposals.

Compliance Standard: %s

Context:
%s

Return the suggestions as JSON.`, project.ComplianceStandard, contextText)

	resp, err := provider.Generate(ctx, &domainllm.GenerateRequest{
		Messages: []domainllm.Message{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   4096,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}

	parsed := extractJSON(resp.Content)
	if parsed == nil {
		return nil, fmt.Errorf("%w: failed to parse LLM response as JSON", domain.ErrValidation)
	}

	result := &AnalysisResult{TokensUsed: resp.Usage.TotalTokens}
	if summary, ok := parsed["analysis_summary"].(string); ok {
		result.AnalysisSummary = summary
	}
	if raw, ok := parsed["suggestions"].([]any); ok {
		for _, entry := range raw {
			item, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			name, _ := item["name"].(string)
			description, _ := item["description"].(string)
			if name == "" || description == "" {
				continue
			}
			category, _ := item["category"].(string)
			if category == "" {
				category = "general"
			}
			result.Suggestions = append(result.Suggestions, Suggestion{
				Name:        name,
				Description: description,
				Category:    category,
			})
		}
	}
	return result, nil
}

// GeneratedContent is the full file set for one generated proposal.
type GeneratedContent struct {
	ProposalMD string
	TasksMD    string
	SpecMD     string
	TokensUsed int
}

// GenerateContent produces proposal.md, tasks.md and spec.md for one
// suggestion. Parse failures degrade to deterministic templates instead
// of erroring; only provider failures surface.
func (g *Generator) GenerateContent(ctx context.Context, provider domainllm.Provider, name, description, standard, originalContext string) (*GeneratedContent, error) {
	contextSection := ""
	if originalContext != "" {
		contextSection = "\n\nOriginal System Context:\n" + originalContext
	}

	userMessage := fmt.Sprintf(`Create a spec change proposal for: %s

Proposal name: %s
Compliance standard: %s
%s

Generate the proposal content (proposal.md, tasks.md, spec.md) as JSON.`,
		description, name, standard, contextSection)

	resp, err := provider.Generate(ctx, &domainllm.GenerateRequest{
		Messages: []domainllm.Message{
			{Role: "system", Content: generationSystemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   4096,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}

	parsed := extractJSON(resp.Content)
	if parsed == nil {
		g.logger.Info("JSON parsing failed, trying markdown extraction", "proposal", name)
		parsed = extractMarkdownSections(resp.Content)
	}
	if parsed == nil {
		g.logger.Warn("using fallback content, response unparseable", "proposal", name)
		parsed = map[string]any{}
	}

	content := &GeneratedContent{TokensUsed: resp.Usage.TotalTokens}
	content.ProposalMD = cleanContent(stringField(parsed, "proposal.md"))
	content.TasksMD = cleanContent(stringField(parsed, "tasks.md"))
	content.SpecMD = cleanContent(stringField(parsed, "spec.md"))

	if content.ProposalMD == "" {
		content.ProposalMD = fallbackProposalMD(name, description)
	}
	if content.TasksMD == "" {
		content.TasksMD = fallbackTasksMD(name)
	}
	if content.SpecMD == "" {
		content.SpecMD = fallbackSpecMD(name, description)
	}
	return content, nil
}

// BatchItem is one proposal requested in a batch creation.
type BatchItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreatedProposal describes one successfully created proposal.
type CreatedProposal struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	FilesCreated []string `json:"files_created"`
}

// FailedProposal describes one proposal that could not be created.
type FailedProposal struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BatchResult is the outcome of a batch creation. Failures are isolated
// per item; a bad entry never aborts the remainder.
type BatchResult struct {
	Created         []CreatedProposal `json:"created"`
	Failed          []FailedProposal  `json:"failed"`
	TotalTokensUsed int               `json:"total_tokens_used"`
}

// BatchCreate creates multiple proposals with generated content,
// serialized with a short delay between items to avoid hammering the
// provider.
func (g *Generator) BatchCreate(ctx context.Context, actor models.Actor, projectID string, items []BatchItem, originalContext string) (*BatchResult, error) {
	if len(items) == 0 || len(items) > 20 {
		return nil, fmt.Errorf("%w: between 1 and 20 proposals per batch", domain.ErrValidation)
	}

	project, err := g.svc.projectForActor(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}

	provider, err := g.resolver.ForTool(string(project.SpecTool))
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Created: []CreatedProposal{},
		Failed:  []FailedProposal{},
	}

	for idx, item := range items {
		if idx > 0 {
			select {
			case <-time.After(batchItemDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		g.logger.Info("processing batch proposal",
			"index", idx+1, "total", len(items), "name", item.Name)

		created, tokens, err := g.createOne(ctx, actor, provider, project, item, originalContext)
		result.TotalTokensUsed += tokens
		if err != nil {
			g.logger.Error("failed to create proposal", "name", item.Name, "error", err)
			result.Failed = append(result.Failed, FailedProposal{Name: item.Name, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, *created)
	}

	g.logger.Info("batch proposal creation complete",
		"created", len(result.Created), "failed", len(result.Failed),
		"tokens", result.TotalTokensUsed)
	return result, nil
}

func (g *Generator) createOne(ctx context.Context, actor models.Actor, provider domainllm.Provider, project *models.Project, item BatchItem, originalContext string) (*CreatedProposal, int, error) {
	if !nameRe.MatchString(item.Name) {
		return nil, 0, fmt.Errorf("name must be kebab-case (e.g., add-user-authentication)")
	}
	if _, err := g.svc.proposals.GetByName(ctx, project.ID, item.Name); err == nil {
		return nil, 0, fmt.Errorf("proposal %q already exists", item.Name)
	}

	content, err := g.GenerateContent(ctx, provider, item.Name, item.Description,
		string(project.ComplianceStandard), originalContext)
	if err != nil {
		return nil, 0, err
	}

	// The row is created bare; generated files below land as version 1,
	// unlike interactive creation which seeds templates first.
	now := time.Now().UTC()
	proposal := &models.Proposal{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		AuthorID:  actor.UserID,
		Name:      item.Name,
		Status:    models.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.svc.proposals.Create(ctx, proposal); err != nil {
		return nil, content.TokensUsed, err
	}

	specPath := fmt.Sprintf("specs/%s/spec.md", strings.ReplaceAll(item.Name, "-", "_"))
	files := []struct {
		path string
		body string
	}{
		{"proposal.md", content.ProposalMD},
		{"tasks.md", content.TasksMD},
		{specPath, content.SpecMD},
	}

	reason := generatedReason
	filesCreated := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := g.svc.contents.Save(ctx, actor, contentsvc.SaveRequest{
			ProposalID:   proposal.ID,
			FilePath:     f.path,
			Content:      f.body,
			ChangeReason: &reason,
		}); err != nil {
			return nil, content.TokensUsed, fmt.Errorf("saving %s: %w", f.path, err)
		}
		filesCreated = append(filesCreated, f.path)
	}

	g.svc.audit.Record(ctx, actor.UserID, models.AuditProposalCreatedAI, "proposal", proposal.ID,
		nil, map[string]any{
			"name":               proposal.Name,
			"files_created":      filesCreated,
			"description_length": len(item.Description),
		})

	return &CreatedProposal{
		ID:           proposal.ID,
		Name:         proposal.Name,
		Status:       string(proposal.Status),
		FilesCreated: filesCreated,
	}, content.TokensUsed, nil
}

// extractJSON pulls a JSON object out of model output: direct parse, then
// a fenced code block, then the outermost brace span with literal-newline
// repair.
func extractJSON(text string) map[string]any {
	clean := strings.TrimSpace(text)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(clean), &parsed); err == nil {
		return parsed
	}

	if m := codeBlockRe.FindStringSubmatch(clean); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &parsed); err == nil {
			return parsed
		}
	}

	if m := rawJSONRe.FindString(clean); m != "" {
		if err := json.Unmarshal([]byte(m), &parsed); err == nil {
			return parsed
		}
		// Models sometimes emit literal newlines inside JSON strings.
		if err := json.Unmarshal([]byte(escapeBareNewlines(m)), &parsed); err == nil {
			return parsed
		}
	}
	return nil
}

// escapeBareNewlines replaces unescaped newline bytes with the two-byte
// sequence \n.
func escapeBareNewlines(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' && (i == 0 || s[i-1] != '\\') {
			sb.WriteString(`\n`)
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// extractMarkdownSections recovers per-file content when the model wrote
// markdown instead of JSON, in either of two shapes:
//
//	--- proposal.md ---
//	content
//
// or headers like "## proposal.md" followed by the content.
func extractMarkdownSections(text string) map[string]any {
	if result := splitBySeparators(text); len(result) > 0 {
		return result
	}
	if result := splitByHeaders(text); len(result) > 0 {
		return result
	}
	return nil
}

func splitBySeparators(text string) map[string]any {
	matches := separatorRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	result := map[string]any{}
	for i, m := range matches {
		filename := text[m[2]:m[3]]
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(text[start:end])
		if filename != "" && content != "" {
			result[filename] = content
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func splitByHeaders(text string) map[string]any {
	matches := headerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	result := map[string]any{}
	for i, m := range matches {
		filename := strings.ToLower(text[m[2]:m[3]])
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(text[start:end])
		if content != "" {
			result[filename] = content
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// cleanContent unescapes newline sequences and strips a wrapping code fence.
func cleanContent(content string) string {
	clean := strings.ReplaceAll(content, `\n`, "\n")
	trimmed := strings.TrimSpace(clean)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = fenceOpenRe.ReplaceAllString(trimmed, "")
		trimmed = fenceEndRe.ReplaceAllString(trimmed, "")
	}
	return strings.TrimSpace(trimmed)
}

func stringField(parsed map[string]any, key string) string {
	if v, ok := parsed[key].(string); ok {
		return v
	}
	return ""
}

func fallbackProposalMD(name, description string) string {
	return fmt.Sprintf(`# Change: %s

## Why

%s

## What Changes

This proposal implements the changes described above. Implementation details to be added.

## Impact

- Functional impact: Adds new capability as described
- Testing: Unit and integration tests required
`, name, description)
}

func fallbackTasksMD(name string) string {
	return fmt.Sprintf(`# Tasks: %s

## 1. Analysis & Design

- [ ] 1.1 Review requirements and acceptance criteria
- [ ] 1.2 Design technical approach

## 2. Implementation

- [ ] 2.1 Implement core functionality
- [ ] 2.2 Add error handling and validation
- [ ] 2.3 Write unit tests

## 3. Testing & Documentation

- [ ] 3.1 Verify all acceptance criteria
- [ ] 3.2 Update documentation
`, name)
}

func fallbackSpecMD(name, description string) string {
	title := titleCase(strings.ReplaceAll(name, "-", " "))
	capability := strings.ReplaceAll(title, " ", "")
	return fmt.Sprintf(`# Capability: %s

## ADDED Requirements

### Requirement: %s

The system SHALL implement %s.

#### Scenario: Basic functionality

- **Given** the system is operational
- **When** the feature is invoked
- **Then** the expected behavior occurs
`, capability, title, strings.ToLower(description))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
