package anthropic

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	domainllm "specdeck/internal/domain/services/llm"
)

const (
	providerName     = "anthropic"
	defaultModel     = "claude-3-5-sonnet-latest"
	defaultMaxTokens = 4096
)

// Provider implements the LLM provider contract for Anthropic (Claude) models.
type Provider struct {
	client     *anthropic.Client
	model      string
	configured bool
}

// NewProvider creates a new Anthropic provider. An empty API key yields a
// provider that reports unavailable, letting the fallback chain skip it.
func NewProvider(apiKey, model string) *Provider {
	if model == "" {
		model = defaultModel
	}
	p := &Provider{model: model}
	if apiKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		p.client = &client
		p.configured = true
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsAvailable reports whether an API key was configured.
func (p *Provider) IsAvailable() bool {
	return p.configured
}

// Generate produces a complete response from Claude.
func (p *Provider) Generate(ctx context.Context, req *domainllm.GenerateRequest) (*domainllm.Response, error) {
	if !p.configured {
		return nil, domainllm.NewAuthenticationError(providerName, "API key not configured")
	}

	params, model := p.buildParams(req)

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(model, err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := domainllm.TokenUsage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &domainllm.Response{
		Content:      text.String(),
		Model:        string(message.Model),
		Provider:     providerName,
		Usage:        usage,
		FinishReason: string(message.StopReason),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GenerateStream produces text chunks as Claude emits them.
func (p *Provider) GenerateStream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamChunk, error) {
	if !p.configured {
		return nil, domainllm.NewAuthenticationError(providerName, "API key not configured")
	}

	params, model := p.buildParams(req)

	chunks := make(chan domainllm.StreamChunk, 10)
	go func() {
		defer close(chunks)

		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()

			deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok || deltaEvent.Delta.Type != "text_delta" || deltaEvent.Delta.Text == "" {
				continue
			}

			select {
			case chunks <- domainllm.StreamChunk{Text: deltaEvent.Delta.Text}:
			case <-ctx.Done():
				chunks <- domainllm.StreamChunk{Err: ctx.Err()}
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- domainllm.StreamChunk{Err: p.wrapError(model, err)}
		}
	}()

	return chunks, nil
}

// buildParams converts a domain request to SDK parameters. System messages
// become the Anthropic system prompt; remaining turns map positionally.
func (p *Provider) buildParams(req *domainllm.GenerateRequest) (anthropic.MessageNewParams, string) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var system strings.Builder
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if system.Len() > 0 {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system.String()}}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	return params, model
}

// wrapError maps SDK failures to the typed provider error taxonomy.
func (p *Provider) wrapError(model string, err error) *domainllm.ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return domainllm.NewAuthenticationError(providerName, "authentication failed")
		case 404:
			return domainllm.NewModelNotFoundError(providerName, model)
		case 429:
			var retryAfter *time.Duration
			if apiErr.Response != nil {
				if secs, parseErr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); parseErr == nil {
					d := time.Duration(secs) * time.Second
					retryAfter = &d
				}
			}
			rlErr := domainllm.NewRateLimitError(providerName, retryAfter)
			rlErr.Cause = err
			return rlErr
		}
	}
	return domainllm.NewProviderError(providerName, err.Error(), err)
}
