package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/chorus/internal/config"
	chorusErrors "github.com/harunnryd/chorus/internal/errors"
	"github.com/harunnryd/chorus/internal/logger"
	"github.com/harunnryd/chorus/internal/model/contract"
	anthropicProvider "github.com/harunnryd/chorus/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/chorus/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/chorus/internal/model/providers/openai"
)

// Router resolves model names from the registry to providers. It implements
// Client and Embedder.
type Router struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

func NewRouter(cfg config.ModelsConfig) (*Router, error) {
	router := &Router{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}

	if err := router.initProviders(); err != nil {
		return nil, err
	}

	return router, nil
}

// NewRouterWithProviders builds a router over already constructed providers.
func NewRouterWithProviders(cfg config.ModelsConfig, providers map[string]Provider) *Router {
	r := &Router{cfg: cfg, providers: make(map[string]Provider, len(providers))}
	for name, p := range providers {
		r.providers[name] = p
	}
	return r
}

func (r *Router) Create(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return r.Route(ctx, r.modelFor(req), req)
}

func (r *Router) Continue(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return r.Route(ctx, r.modelFor(req), req)
}

func (r *Router) modelFor(req contract.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return r.cfg.Default
}

// Route sends one completion request to the provider registered under model.
// Failures are returned as ErrModelCall; there is no retry and no fallback.
func (r *Router) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	log := logger.From(ctx)

	if err := ctx.Err(); err != nil {
		return nil, chorusErrors.Wrap(err, "completion request cancelled")
	}

	r.mu.RLock()
	provider, exists := r.providers[model]
	r.mu.RUnlock()
	if !exists {
		return nil, chorusErrors.WrapWithCategory(chorusErrors.NotFound(fmt.Sprintf("model %s not found", model)), "provider request failed", chorusErrors.ErrModelCall)
	}

	// The registry name is an alias; the provider knows its API model id.
	req.Model = ""

	log.Debug("Routing completion request", "model", model, "messages", len(req.Messages), "tools", len(req.Tools))

	resp, err := provider.Generate(ctx, req)
	if err != nil {
		log.Error("Provider request failed", "model", model, "error", err)
		return nil, chorusErrors.WrapWithCategory(err, "provider request failed", chorusErrors.ErrModelCall)
	}
	if resp == nil {
		return nil, chorusErrors.InvalidModelOutput(fmt.Sprintf("model %s returned no response", model))
	}
	if resp.StopReason == "" {
		resp.StopReason = contract.StopEndTurn
	}

	log.Debug("Request completed", "model", model, "stop_reason", resp.StopReason, "tool_calls", len(resp.ToolCalls))
	return resp, nil
}

// Embed uses the configured embedding model, then any other registered model
// that supports embeddings.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.RouteEmbedding(ctx, r.cfg.Embedding, text)
}

func (r *Router) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	log := logger.From(ctx)

	var lastErr error
	for _, tryModel := range r.embeddingTryOrder(model) {
		if err := ctx.Err(); err != nil {
			return nil, chorusErrors.Wrap(err, "embedding request cancelled")
		}

		r.mu.RLock()
		provider, exists := r.providers[tryModel]
		r.mu.RUnlock()
		if !exists {
			continue
		}

		embedding, err := provider.Embed(ctx, text)
		if err == nil {
			return embedding, nil
		}
		if isEmbeddingUnsupported(err) {
			log.Debug("Embedding unsupported by provider, trying next model", "model", tryModel)
			continue
		}

		lastErr = err
		break
	}

	if lastErr != nil {
		return nil, chorusErrors.WrapWithCategory(lastErr, "embedding failed", chorusErrors.ErrInternal)
	}

	return nil, chorusErrors.NotFound("no embedding-capable model configured")
}

func (r *Router) embeddingTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.providers)+1)
	order := make([]string, 0, len(r.providers)+1)

	appendUnique := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	appendUnique(requestedModel)

	registered := make([]string, 0, len(r.providers))
	for name := range r.providers {
		registered = append(registered, name)
	}
	sort.Strings(registered)
	for _, name := range registered {
		appendUnique(name)
	}

	return order
}

func isEmbeddingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "embedding not supported") ||
		strings.Contains(msg, "not support embeddings")
}

func (r *Router) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}
	sort.Strings(models)
	return models
}

func (r *Router) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.providers[r.cfg.Default]; !ok {
		return chorusErrors.NotFound(fmt.Sprintf("default model %s not registered", r.cfg.Default))
	}
	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return chorusErrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}

	return nil
}

func (r *Router) initProviders() error {
	for _, entry := range r.cfg.Registry {
		provider, err := createProvider(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		r.providers[entry.Name] = provider
		slog.Info("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(r.providers) == 0 && len(r.cfg.Registry) > 0 {
		return chorusErrors.Internal("no providers initialized")
	}

	return nil
}

func createProvider(entry config.ModelRegistry) (Provider, error) {
	switch entry.Provider {
	case "openai":
		if entry.APIKey == "" {
			return nil, chorusErrors.InvalidInput("API key required for OpenAI provider")
		}
		return openaiProvider.New(entry.APIKey, entry.BaseURL, entry.Model, entry.MaxTokens), nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, chorusErrors.InvalidInput("API key required for Anthropic provider")
		}
		return anthropicProvider.New(entry.APIKey, entry.BaseURL, entry.Model, entry.MaxTokens), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, chorusErrors.InvalidInput("API key required for Gemini provider")
		}
		provider, err := geminiProvider.New(entry.APIKey, entry.Model, entry.MaxTokens)
		if err != nil {
			return nil, chorusErrors.WrapWithCategory(err, "failed to create Gemini provider", chorusErrors.ErrInternal)
		}
		return provider, nil

	default:
		return nil, chorusErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}
