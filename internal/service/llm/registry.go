package llm

import (
	"fmt"
	"sync"

	"specdeck/internal/config"
	domainllm "specdeck/internal/domain/services/llm"
	"specdeck/internal/service/llm/providers/anthropic"
	"specdeck/internal/service/llm/providers/lorem"
	"specdeck/internal/service/llm/providers/ollama"
	"specdeck/internal/service/llm/providers/openai"
	"specdeck/internal/service/llm/providers/vllm"
)

// Registry creates provider instances on demand and caches them for reuse.
// Providers are stateless beyond their HTTP clients, so one instance per
// backend is enough for the process lifetime.
type Registry struct {
	cfg   *config.Config
	cache map[string]domainllm.Provider
	mu    sync.RWMutex
}

// NewRegistry creates a new provider registry backed by cfg.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:   cfg,
		cache: make(map[string]domainllm.Provider),
	}
}

// GetProvider returns the provider instance for the given name, creating
// and caching it on first use.
//
// Supported names: "openai", "anthropic", "ollama", "vllm", "lorem".
func (r *Registry) GetProvider(name string) (domainllm.Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}

	r.mu.RLock()
	if cached, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created the provider while we waited
	// for the write lock.
	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}

	provider, err := r.create(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
	}
	r.cache[name] = provider
	return provider, nil
}

func (r *Registry) create(name string) (domainllm.Provider, error) {
	switch name {
	case "openai":
		return openai.NewProvider(r.cfg.OpenAIAPIKey, r.cfg.DefaultModel), nil
	case "anthropic":
		return anthropic.NewProvider(r.cfg.AnthropicAPIKey, ""), nil
	case "ollama":
		return ollama.NewProvider(r.cfg.OllamaBaseURL, ""), nil
	case "vllm":
		return vllm.NewProvider(r.cfg.VLLMBaseURL, r.cfg.VLLMAPIKey, ""), nil
	case "lorem":
		return lorem.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// Reset clears the provider cache. Useful in tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]domainllm.Provider)
}
