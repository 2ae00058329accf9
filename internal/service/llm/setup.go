package llm

import (
	"fmt"
	"log/slog"

	domainllm "specdeck/internal/domain/services/llm"
)

// toolProviders maps a project's spec tool to the provider that backs it.
// Tools absent from this map, and "none", use the global default chain.
var toolProviders = map[string]string{
	"claude":         "anthropic",
	"cursor":         "openai",
	"github-copilot": "openai",
	"windsurf":       "openai",
	"cline":          "anthropic",
	"amazon-q":       "openai",
	"gemini":         "openai",
	"opencode":       "openai",
	"qoder":          "openai",
	"roocode":        "anthropic",
}

// fallbackOrder lists, per primary provider, the full chain to try.
// Local backends prefer each other before reaching for hosted APIs.
var fallbackOrder = map[string][]string{
	"openai":    {"openai", "anthropic", "ollama", "vllm"},
	"anthropic": {"anthropic", "openai", "ollama", "vllm"},
	"ollama":    {"ollama", "vllm", "openai", "anthropic"},
	"vllm":      {"vllm", "ollama", "openai", "anthropic"},
}

// ProviderForTool returns the provider name a spec tool prefers, or ""
// when the tool uses the global default.
func ProviderForTool(tool string) string {
	return toolProviders[tool]
}

// Resolver builds fallback chains from the registry.
type Resolver struct {
	registry        *Registry
	defaultProvider string
	logger          *slog.Logger
}

// NewResolver creates a Resolver. defaultProvider is the primary backend
// used when no tool preference applies.
func NewResolver(registry *Registry, defaultProvider string, logger *slog.Logger) *Resolver {
	return &Resolver{
		registry:        registry,
		defaultProvider: defaultProvider,
		logger:          logger,
	}
}

// Default returns the chain for the globally configured primary provider.
func (r *Resolver) Default() (domainllm.Provider, error) {
	return r.chainFor(r.defaultProvider)
}

// ForTool returns the chain for a project's spec tool. Tools with no
// preferred provider fall back to the default chain.
func (r *Resolver) ForTool(tool string) (domainllm.Provider, error) {
	if tool == "" || tool == "none" {
		return r.Default()
	}
	primary := ProviderForTool(tool)
	if primary == "" {
		return r.Default()
	}
	return r.chainFor(primary)
}

func (r *Resolver) chainFor(primary string) (domainllm.Provider, error) {
	order, ok := fallbackOrder[primary]
	if !ok {
		// A non-chain provider name, like "lorem", is used as-is.
		return r.registry.GetProvider(primary)
	}

	providers := make([]domainllm.Provider, 0, len(order))
	for _, name := range order {
		provider, err := r.registry.GetProvider(name)
		if err != nil {
			r.logger.Debug("could not create provider", "provider", name, "error", err)
			continue
		}
		providers = append(providers, provider)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM providers available")
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewFallbackProvider(providers, r.logger)
}
