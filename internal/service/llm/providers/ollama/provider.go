package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainllm "specdeck/internal/domain/services/llm"
)

const (
	providerName   = "ollama"
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"

	probeTimeout = 5 * time.Second
)

// Provider talks to a local Ollama server through its native chat API.
// Ollama exposes no OpenAI-compatible token accounting, so this speaks
// /api/chat directly.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewProvider creates an Ollama provider pointed at baseURL.
func NewProvider(baseURL, model string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsAvailable reports whether the provider is configured. A local server
// needs no credentials, so this is always true; reachability surfaces as
// a connect error on first use.
func (p *Provider) IsAvailable() bool {
	return true
}

// Ping probes the server's tag listing to check it is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return p.connectError(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domainllm.NewProviderError(providerName,
			fmt.Sprintf("unexpected status %d from %s/api/tags", resp.StatusCode, p.baseURL), nil)
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	// Token counts arrive only on the final response of a stream.
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	DoneReason      string `json:"done_reason"`
	Error           string `json:"error"`
}

// Generate produces a complete chat response.
func (p *Provider) Generate(ctx context.Context, req *domainllm.GenerateRequest) (*domainllm.Response, error) {
	model := p.resolveModel(req)

	body, err := p.doChat(ctx, req, model, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, domainllm.NewProviderError(providerName, "decoding chat response: "+err.Error(), err)
	}

	return &domainllm.Response{
		Content:  resp.Message.Content,
		Model:    resp.Model,
		Provider: providerName,
		Usage: domainllm.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		FinishReason: resp.DoneReason,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GenerateStream produces text chunks from the newline-delimited JSON
// stream Ollama emits.
func (p *Provider) GenerateStream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamChunk, error) {
	model := p.resolveModel(req)

	body, err := p.doChat(ctx, req, model, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan domainllm.StreamChunk, 10)
	go func() {
		defer close(chunks)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var resp chatResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				chunks <- domainllm.StreamChunk{Err: domainllm.NewProviderError(
					providerName, "decoding stream chunk: "+err.Error(), err)}
				return
			}
			if resp.Error != "" {
				chunks <- domainllm.StreamChunk{Err: domainllm.NewProviderError(providerName, resp.Error, nil)}
				return
			}
			if resp.Done {
				return
			}
			if resp.Message.Content == "" {
				continue
			}

			select {
			case chunks <- domainllm.StreamChunk{Text: resp.Message.Content}:
			case <-ctx.Done():
				chunks <- domainllm.StreamChunk{Err: ctx.Err()}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- domainllm.StreamChunk{Err: domainllm.NewProviderError(
				providerName, "reading stream: "+err.Error(), err)}
		}
	}()

	return chunks, nil
}

func (p *Provider) doChat(ctx context.Context, req *domainllm.GenerateRequest, model string, stream bool) (io.ReadCloser, error) {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	apiReq := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if len(options) > 0 {
		apiReq.Options = options
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, domainllm.NewProviderError(providerName, "encoding chat request: "+err.Error(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, domainllm.NewProviderError(providerName, err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.connectError(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, domainllm.NewModelNotFoundError(providerName, model)
	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		resp.Body.Close()
		msg := apiErr.Error
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return nil, domainllm.NewProviderError(providerName, msg, nil)
	}
}

func (p *Provider) resolveModel(req *domainllm.GenerateRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func (p *Provider) connectError(err error) *domainllm.ProviderError {
	return domainllm.NewProviderError(providerName,
		"cannot connect to Ollama at "+p.baseURL, err)
}
