package lorem

import (
	"context"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	domainllm "specdeck/internal/domain/services/llm"
)

const (
	providerName = "lorem"
	defaultModel = "lorem-fast"

	defaultMaxTokens = 4096
)

// Provider is a mock backend that generates lorem ipsum text. Used for
// development and tests without real API keys. Model names tune the
// simulated streaming speed: lorem-fast, lorem-medium, lorem-slow.
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{generator: loremgen.New()}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsAvailable always reports true; the generator is local.
func (p *Provider) IsAvailable() bool {
	return true
}

// Generate produces a block of lorem ipsum sized to the token budget.
func (p *Provider) Generate(ctx context.Context, req *domainllm.GenerateRequest) (*domainllm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := resolveModel(req)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	text := p.generateWords(maxTokens)
	return &domainllm.Response{
		Content:  text,
		Model:    model,
		Provider: providerName,
		Usage: domainllm.TokenUsage{
			PromptTokens:     estimateTokens(req.Messages),
			CompletionTokens: len(strings.Fields(text)),
			TotalTokens:      estimateTokens(req.Messages) + len(strings.Fields(text)),
		},
		FinishReason: "end_turn",
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GenerateStream emits lorem ipsum word by word at a model-dependent pace.
func (p *Provider) GenerateStream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamChunk, error) {
	model := resolveModel(req)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	text := p.generateWords(maxTokens)
	words := strings.Fields(text)
	delay := streamDelay(model)

	chunks := make(chan domainllm.StreamChunk, 10)
	go func() {
		defer close(chunks)
		for _, word := range words {
			select {
			case <-ctx.Done():
				chunks <- domainllm.StreamChunk{Err: ctx.Err()}
				return
			case <-time.After(delay):
			}
			chunks <- domainllm.StreamChunk{Text: word + " "}
		}
	}()

	return chunks, nil
}

// streamDelay returns the per-word delay for a model name.
// lorem-slow: 2 words/s, lorem-fast: 30 words/s, otherwise 10 words/s.
func streamDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

func resolveModel(req *domainllm.GenerateRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return defaultModel
}

// generateWords builds lorem ipsum text with roughly targetWords words,
// with a paragraph break every ~50 words.
func (p *Provider) generateWords(targetWords int) string {
	var sb strings.Builder
	wordCount := 0
	sinceBreak := 0

	for wordCount < targetWords {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")

		n := len(strings.Fields(sentence))
		wordCount += n
		sinceBreak += n
		if sinceBreak >= 50 {
			sb.WriteString("\n\n")
			sinceBreak = 0
		}
	}

	return strings.TrimSpace(sb.String())
}

func estimateTokens(messages []domainllm.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(strings.Fields(msg.Content))
	}
	return total
}
