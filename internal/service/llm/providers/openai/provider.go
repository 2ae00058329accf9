package openai

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	domainllm "specdeck/internal/domain/services/llm"
)

const (
	providerName     = "openai"
	defaultModel     = "gpt-4"
	defaultMaxTokens = 4096
)

// Provider implements the LLM provider contract for OpenAI models.
type Provider struct {
	client     *openai.Client
	model      string
	configured bool
}

// NewProvider creates a new OpenAI provider. An empty API key yields a
// provider that reports unavailable.
func NewProvider(apiKey, model string) *Provider {
	if model == "" {
		model = defaultModel
	}
	p := &Provider{model: model}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
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

// Generate produces a complete chat completion.
func (p *Provider) Generate(ctx context.Context, req *domainllm.GenerateRequest) (*domainllm.Response, error) {
	if !p.configured {
		return nil, domainllm.NewAuthenticationError(providerName, "API key not configured")
	}

	apiReq, model := p.buildRequest(req)

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, wrapError(providerName, model, err)
	}

	if len(resp.Choices) == 0 {
		return nil, domainllm.NewProviderError(providerName, "empty completion response", nil)
	}

	return &domainllm.Response{
		Content:  resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: providerName,
		Usage: domainllm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(resp.Choices[0].FinishReason),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GenerateStream produces text chunks as the completion streams.
func (p *Provider) GenerateStream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamChunk, error) {
	if !p.configured {
		return nil, domainllm.NewAuthenticationError(providerName, "API key not configured")
	}

	apiReq, model := p.buildRequest(req)
	apiReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, wrapError(providerName, model, err)
	}

	chunks := make(chan domainllm.StreamChunk, 10)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				chunks <- domainllm.StreamChunk{Err: wrapError(providerName, model, err)}
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}

			select {
			case chunks <- domainllm.StreamChunk{Text: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				chunks <- domainllm.StreamChunk{Err: ctx.Err()}
				return
			}
		}
	}()

	return chunks, nil
}

func (p *Provider) buildRequest(req *domainllm.GenerateRequest) (openai.ChatCompletionRequest, string) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		apiReq.Temperature = float32(req.Temperature)
	}

	return apiReq, model
}

// wrapError maps go-openai failures to the typed provider error taxonomy.
// Shared with the vLLM provider, which speaks the same protocol.
func wrapError(provider, model string, err error) *domainllm.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return domainllm.NewAuthenticationError(provider, "authentication failed")
		case 404:
			return domainllm.NewModelNotFoundError(provider, model)
		case 429:
			rlErr := domainllm.NewRateLimitError(provider, nil)
			rlErr.Cause = err
			return rlErr
		}
	}
	return domainllm.NewProviderError(provider, err.Error(), err)
}

// WrapError exposes the error mapping for OpenAI-compatible providers.
func WrapError(provider, model string, err error) *domainllm.ProviderError {
	return wrapError(provider, model, err)
}
