package model

import (
	"context"

	"github.com/harunnryd/chorus/internal/model/contract"
)

// Client is what the conversation loop talks to. Create opens a run and
// Continue resumes it after tool results; neither retries internally.
type Client interface {
	Create(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Continue(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Provider interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Type() string
	Health(ctx context.Context) error
}
