package llm

import (
	"context"
	"fmt"
	"time"
)

// Message is one turn of conversation context sent to a provider.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// TokenUsage holds token accounting for one generation call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed generation from a provider.
type Response struct {
	Content      string     `json:"content"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// GenerateRequest carries the parameters for one generation call.
// Model may be empty, in which case the provider uses its configured default.
type GenerateRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider is the uniform capability contract every vendor backend
// implements. The fallback chain composes values of this interface; it is
// a closed set of concrete variants, never an inheritance hierarchy.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// IsAvailable is a cheap local check for whether the backend is
	// configured (API key present, base URL set). It must not hit the
	// network in the common case.
	IsAvailable() bool

	// Generate produces a complete response, or a *ProviderError.
	Generate(ctx context.Context, req *GenerateRequest) (*Response, error)

	// GenerateStream produces a lazy sequence of text chunks on the
	// returned channel. The channel closes when the underlying stream
	// ends. Errors raised before the first chunk are returned directly;
	// mid-stream errors arrive as the terminal StreamChunk. Streams are
	// not restartable.
	GenerateStream(ctx context.Context, req *GenerateRequest) (<-chan StreamChunk, error)
}

// StreamChunk is one element of a streamed generation: either a piece of
// text or a terminal error. Provider names the backend that produced the
// chunk; fallback chains stamp it so consumers can attribute the call to
// the backend that actually served it.
type StreamChunk struct {
	Text     string
	Provider string
	Err      error
}

// ErrorKind categorizes provider failures.
type ErrorKind string

const (
	ErrKindAuthentication ErrorKind = "authentication"
	ErrKindRateLimit      ErrorKind = "rate_limit"
	ErrKindModelNotFound  ErrorKind = "model_not_found"
	ErrKindGeneric        ErrorKind = "generic"
)

// ProviderError is the typed failure every backend raises. RetryAfter is
// populated only for rate-limit errors when the vendor reported one.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	Message    string
	RetryAfter *time.Duration
	Cause      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError builds a generic provider error wrapping cause.
func NewProviderError(provider, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrKindGeneric, Message: message, Cause: cause}
}

// NewRateLimitError builds a rate-limit error with an optional retry-after hint.
func NewRateLimitError(provider string, retryAfter *time.Duration) *ProviderError {
	msg := "rate limit exceeded"
	if retryAfter != nil {
		msg = fmt.Sprintf("rate limit exceeded (retry after %s)", *retryAfter)
	}
	return &ProviderError{Provider: provider, Kind: ErrKindRateLimit, Message: msg, RetryAfter: retryAfter}
}

// NewAuthenticationError builds an authentication failure.
func NewAuthenticationError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrKindAuthentication, Message: message}
}

// NewModelNotFoundError builds a model-not-found failure.
func NewModelNotFoundError(provider, model string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     ErrKindModelNotFound,
		Message:  fmt.Sprintf("model %q not found", model),
	}
}
