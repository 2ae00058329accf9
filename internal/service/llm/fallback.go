package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	domainllm "specdeck/internal/domain/services/llm"
)

// FallbackProvider tries a list of providers in priority order, moving to
// the next one when a provider is unavailable or fails. One generation
// call never mixes output from two providers; a failure after the stream
// has started is terminal.
type FallbackProvider struct {
	providers []domainllm.Provider
	logger    *slog.Logger
}

// NewFallbackProvider builds a fallback chain from providers in priority
// order. At least one provider is required.
func NewFallbackProvider(providers []domainllm.Provider, logger *slog.Logger) (*FallbackProvider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	return &FallbackProvider{providers: providers, logger: logger}, nil
}

// Name returns a composite identifier listing the chain members.
func (f *FallbackProvider) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return fmt.Sprintf("fallback(%s)", strings.Join(names, ","))
}

// IsAvailable reports whether any chain member is available.
func (f *FallbackProvider) IsAvailable() bool {
	for _, p := range f.providers {
		if p.IsAvailable() {
			return true
		}
	}
	return false
}

// Generate tries each provider in order until one succeeds.
func (f *FallbackProvider) Generate(ctx context.Context, req *domainllm.GenerateRequest) (*domainllm.Response, error) {
	var lastErr error

	for _, provider := range f.providers {
		if !provider.IsAvailable() {
			f.logger.Debug("skipping unavailable provider", "provider", provider.Name())
			continue
		}

		f.logger.Info("attempting generation", "provider", provider.Name())
		resp, err := provider.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		f.logger.Warn("provider failed", "provider", provider.Name(), "error", err)
		lastErr = err
	}

	return nil, domainllm.NewProviderError("fallback",
		fmt.Sprintf("all providers failed, last error: %v", lastErr), lastErr)
}

// GenerateStream tries each provider in order until one completes a
// stream. A provider failing mid-stream falls through to the next one;
// chunks already yielded are not retracted, so the consumer may see a seam
// where the backend switched.
func (f *FallbackProvider) GenerateStream(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamChunk, error) {
	available := make([]domainllm.Provider, 0, len(f.providers))
	for _, p := range f.providers {
		if p.IsAvailable() {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return nil, domainllm.NewProviderError("fallback", "no providers available for streaming", nil)
	}

	out := make(chan domainllm.StreamChunk, 10)
	go func() {
		defer close(out)
		var lastErr error

		for _, provider := range available {
			if ctx.Err() != nil {
				out <- domainllm.StreamChunk{Err: ctx.Err()}
				return
			}

			f.logger.Info("attempting streaming", "provider", provider.Name())
			chunks, err := provider.GenerateStream(ctx, req)
			if err != nil {
				f.logger.Warn("provider streaming failed", "provider", provider.Name(), "error", err)
				lastErr = err
				continue
			}

			failed := false
			for chunk := range chunks {
				if chunk.Err != nil {
					f.logger.Warn("provider failed mid-stream", "provider", provider.Name(), "error", chunk.Err)
					lastErr = chunk.Err
					failed = true
					break
				}
				chunk.Provider = provider.Name()
				select {
				case out <- chunk:
				case <-ctx.Done():
					out <- domainllm.StreamChunk{Err: ctx.Err()}
					return
				}
			}
			if !failed {
				return
			}
		}

		out <- domainllm.StreamChunk{Err: domainllm.NewProviderError("fallback",
			fmt.Sprintf("all providers failed for streaming, last error: %v", lastErr), lastErr)}
	}()

	return out, nil
}
