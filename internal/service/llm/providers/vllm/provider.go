package vllm

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	domainllm "specdeck/internal/domain/services/llm"
	openaiprov "specdeck/internal/service/llm/providers/openai"
)

const (
	providerName     = "vllm"
	defaultBaseURL   = "http://localhost:8000"
	defaultModel     = "default"
	defaultMaxTokens = 4096
)

// Provider talks to a vLLM server through its OpenAI-compatible API.
type Provider struct {
	client  *goopenai.Client
	baseURL string
	model   string
}

// NewProvider creates a vLLM provider. apiKey is optional; most vLLM
// deployments do not require one.
func NewProvider(baseURL, apiKey, model string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"

	return &Provider{
		client:  goopenai.NewClientWithConfig(cfg),
		baseURL: baseURL,
		model:   model,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsAvailable reports whether a server address is configured. Reachability
// is only known once a call is made.
func (p *Provider) IsAvailable() bool {
	return p.baseURL != ""
}

// ListModels queries the server for its served model IDs.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	resp, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.wrapError(p.model, err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.ID)
	}
	return names, nil
}

// Generate produces a complete chat completion.
func (p *Provider) Generate(ctx context.Context, req *domainllm.GenerateRequest) (*domainllm.Response, error) {
	apiReq, model := p.buildRequest(req)

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, p.wrapError(model, err)
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
	apiReq, model := p.buildRequest(req)
	apiReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, p.wrapError(model, err)
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
				chunks <- domainllm.StreamChunk{Err: p.wrapError(model, err)}
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

func (p *Provider) buildRequest(req *domainllm.GenerateRequest) (goopenai.ChatCompletionRequest, string) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	apiReq := goopenai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		apiReq.Temperature = float32(req.Temperature)
	}

	return apiReq, model
}

func (p *Provider) wrapError(model string, err error) *domainllm.ProviderError {
	perr := openaiprov.WrapError(providerName, model, err)
	if perr.Kind == domainllm.ErrKindGeneric && isConnectError(err) {
		return domainllm.NewProviderError(providerName,
			"cannot connect to vLLM server at "+p.baseURL, err)
	}
	return perr
}

func isConnectError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}
