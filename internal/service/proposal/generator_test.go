package proposal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
	domainllm "specdeck/internal/domain/services/llm"
)

type stubProvider struct {
	response string
	err      error
	calls    int
}

func (s *stubProvider) Name() string      { return "stub" }
func (s *stubProvider) IsAvailable() bool { return true }
func (s *stubProvider) Generate(ctx context.Context, req *domainllm.GenerateRequest) (*domainllm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domainllm.Response{
		Content:   s.response,
		Model:     "stub-model",
		Provider:  "stub",
		Usage:     domainllm.TokenUsage{PromptTokens: 10, CompletionTokens: 32, TotalTokens: 42},
		CreatedAt: time.Now(),
	}, nil
}
func (s *stubProvider) GenerateStream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamChunk, error) {
	ch := make(chan domainllm.StreamChunk, 1)
	ch <- domainllm.StreamChunk{Text: s.response}
	close(ch)
	return ch, nil
}

type stubToolResolver struct {
	provider domainllm.Provider
	tool     string
}

func (s *stubToolResolver) ForTool(tool string) (domainllm.Provider, error) {
	s.tool = tool
	return s.provider, nil
}

func newGenerator(fx *fixture, provider domainllm.Provider) (*Generator, *stubToolResolver) {
	resolver := &stubToolResolver{provider: provider}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGenerator(fx.svc, resolver, logger), resolver
}

func longContext() string {
	return strings.Repeat("The system needs user authentication and audit trails. ", 4)
}

func TestAnalyzeContextParsesSuggestions(t *testing.T) {
	fx := newFixture(t)
	provider := &stubProvider{response: `{
		"suggestions": [
			{"name": "add-user-auth", "description": "Login and sessions", "category": "security"},
			{"name": "add-audit-trail", "description": "Immutable event log"}
		],
		"analysis_summary": "Two changes identified"
	}`}
	gen, resolver := newGenerator(fx, provider)

	result, err := gen.AnalyzeContext(context.Background(), owner(), "proj-1", longContext())
	if err != nil {
		t.Fatalf("AnalyzeContext: %v", err)
	}

	if resolver.tool != "claude" {
		t.Errorf("resolved tool = %q, want claude (project setting)", resolver.tool)
	}
	if len(result.Suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2", len(result.Suggestions))
	}
	if result.Suggestions[0].Category != "security" {
		t.Errorf("category = %q", result.Suggestions[0].Category)
	}
	if result.Suggestions[1].Category != "general" {
		t.Errorf("missing category should default to general, got %q", result.Suggestions[1].Category)
	}
	if result.AnalysisSummary != "Two changes identified" {
		t.Errorf("summary = %q", result.AnalysisSummary)
	}
	if result.TokensUsed != 42 {
		t.Errorf("tokens = %d", result.TokensUsed)
	}
}

func TestAnalyzeContextRequiresMinimumLength(t *testing.T) {
	fx := newFixture(t)
	gen, _ := newGenerator(fx, &stubProvider{response: "{}"})

	_, err := gen.AnalyzeContext(context.Background(), owner(), "proj-1", "too short")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAnalyzeContextRejectsUnparseableResponse(t *testing.T) {
	fx := newFixture(t)
	gen, _ := newGenerator(fx, &stubProvider{response: "I could not produce JSON, sorry."})

	_, err := gen.AnalyzeContext(context.Background(), owner(), "proj-1", longContext())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		key  string
		want string
	}{
		{
			name: "strict",
			in:   `{"proposal.md": "# Change"}`,
			key:  "proposal.md",
			want: "# Change",
		},
		{
			name: "code fence",
			in:   "Here you go:\n```json\n{\"tasks.md\": \"# Tasks\"}\n```\nDone.",
			key:  "tasks.md",
			want: "# Tasks",
		},
		{
			name: "raw braces with prose around",
			in:   `Sure! {"spec.md": "# Capability"} hope that helps`,
			key:  "spec.md",
			want: "# Capability",
		},
		{
			name: "bare newlines inside strings",
			in:   "{\"proposal.md\": \"# Change\nmore\"}",
			key:  "proposal.md",
			want: "# Change\nmore",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := extractJSON(tt.in)
			if parsed == nil {
				t.Fatal("extractJSON returned nil")
			}
			got, _ := parsed[tt.key].(string)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if extractJSON("no json here at all") != nil {
		t.Error("expected nil for non-JSON text")
	}
}

func TestExtractMarkdownSections(t *testing.T) {
	separated := `--- proposal.md ---
# Change: x

--- tasks.md ---
# Tasks: x`
	parsed := extractMarkdownSections(separated)
	if parsed == nil {
		t.Fatal("separator shape not recognized")
	}
	if got, _ := parsed["proposal.md"].(string); !strings.Contains(got, "# Change: x") {
		t.Errorf("proposal.md = %q", got)
	}
	if got, _ := parsed["tasks.md"].(string); !strings.Contains(got, "# Tasks: x") {
		t.Errorf("tasks.md = %q", got)
	}

	headed := `## proposal.md
# Change: y

## tasks.md
# Tasks: y

## spec.md
# Capability: Y`
	parsed = extractMarkdownSections(headed)
	if parsed == nil {
		t.Fatal("header shape not recognized")
	}
	if len(parsed) != 3 {
		t.Errorf("sections = %d, want 3", len(parsed))
	}

	if extractMarkdownSections("just plain text") != nil {
		t.Error("expected nil for unstructured text")
	}
}

func TestCleanContent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`# Title\n\nBody`, "# Title\n\nBody"},
		{"```markdown\n# Title\n```", "# Title"},
		{"  # Title  ", "# Title"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanContent(tt.in); got != tt.want {
			t.Errorf("cleanContent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerateContentFallsBackToTemplates(t *testing.T) {
	fx := newFixture(t)
	provider := &stubProvider{response: "completely unstructured model output"}
	gen, _ := newGenerator(fx, provider)

	content, err := gen.GenerateContent(context.Background(), provider,
		"add-data-export", "Export records as CSV", "IEC_62304", "")
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	if !strings.Contains(content.ProposalMD, "# Change: add-data-export") ||
		!strings.Contains(content.ProposalMD, "Export records as CSV") {
		t.Errorf("proposal fallback = %q", content.ProposalMD)
	}
	if !strings.Contains(content.TasksMD, "# Tasks: add-data-export") {
		t.Errorf("tasks fallback = %q", content.TasksMD)
	}
	if !strings.Contains(content.SpecMD, "# Capability: AddDataExport") {
		t.Errorf("spec fallback = %q", content.SpecMD)
	}
}

func TestGenerateContentPropagatesProviderError(t *testing.T) {
	fx := newFixture(t)
	provider := &stubProvider{err: errors.New("rate limited")}
	gen, _ := newGenerator(fx, provider)

	_, err := gen.GenerateContent(context.Background(), provider, "x-y", "desc", "CUSTOM", "")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("error = %v", err)
	}
}

func TestBatchCreate(t *testing.T) {
	fx := newFixture(t)
	fx.proposals.proposals["existing"] = &models.Proposal{
		ID: "existing", ProjectID: "proj-1", AuthorID: "owner-1",
		Name: "already-there", Status: models.StatusDraft,
	}
	provider := &stubProvider{response: `{"proposal.md": "# Change: gen", "tasks.md": "# Tasks: gen", "spec.md": "# Capability: Gen"}`}
	gen, _ := newGenerator(fx, provider)

	result, err := gen.BatchCreate(context.Background(), owner(), "proj-1", []BatchItem{
		{Name: "add-export", Description: "CSV export"},
		{Name: "Bad Name", Description: "not kebab"},
		{Name: "already-there", Description: "duplicate"},
	}, "")
	if err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}

	if len(result.Created) != 1 {
		t.Fatalf("created = %d, want 1", len(result.Created))
	}
	if len(result.Failed) != 2 {
		t.Fatalf("failed = %d, want 2", len(result.Failed))
	}

	created := result.Created[0]
	wantFiles := []string{"proposal.md", "tasks.md", "specs/add_export/spec.md"}
	if len(created.FilesCreated) != len(wantFiles) {
		t.Fatalf("files = %v", created.FilesCreated)
	}
	for i, f := range wantFiles {
		if created.FilesCreated[i] != f {
			t.Errorf("files[%d] = %q, want %q", i, created.FilesCreated[i], f)
		}
	}

	// Generated files land at version 1; no template seeding beforehand.
	item, err := fx.contents.GetItem(context.Background(), created.ID, "proposal.md")
	if err != nil {
		t.Fatalf("generated proposal.md missing: %v", err)
	}
	if item.Version != 1 {
		t.Errorf("version = %d, want 1", item.Version)
	}
	if item.Content != "# Change: gen" {
		t.Errorf("content = %q", item.Content)
	}

	var aiAudits int
	for _, e := range fx.auditRepo.entries {
		if e.Action == models.AuditProposalCreatedAI {
			aiAudits++
		}
	}
	if aiAudits != 1 {
		t.Errorf("AI creation audit entries = %d, want 1", aiAudits)
	}
}

func TestBatchCreateSizeBounds(t *testing.T) {
	fx := newFixture(t)
	gen, _ := newGenerator(fx, &stubProvider{response: "{}"})

	if _, err := gen.BatchCreate(context.Background(), owner(), "proj-1", nil, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty batch: error = %v", err)
	}

	big := make([]BatchItem, 21)
	for i := range big {
		big[i] = BatchItem{Name: "item", Description: "d"}
	}
	if _, err := gen.BatchCreate(context.Background(), owner(), "proj-1", big, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("oversized batch: error = %v", err)
	}
}
