// Package provider defines the uniform provider adapter contract: three
// capabilities — complete-sync, complete-stream, embed — over
// heterogeneous upstream providers. The core never downcasts to a
// concrete adapter type; every call site programs against the Provider
// interface.
package provider

import (
	"context"

	"github.com/corewave-ai/litegate/internal/model"
)

// Stream yields a lazy sequence of response chunks from a provider.
type Stream interface {
	// Next returns the next chunk, or io.EOF when the stream is done.
	Next() (*model.StreamChunk, error)
	Close() error
}

// Provider is the single capability every upstream connector implements.
type Provider interface {
	Kind() model.ProviderKind

	CompleteSync(ctx context.Context, req *model.ChatRequest, d *model.Deployment) (*model.ChatResponse, error)
	CompleteStream(ctx context.Context, req *model.ChatRequest, d *model.Deployment) (Stream, error)
	Embed(ctx context.Context, req *model.EmbeddingsRequest, d *model.Deployment) (*model.EmbeddingsResponse, error)
}

// Registry resolves a Provider implementation by ProviderKind.
type Registry struct {
	byKind map[model.ProviderKind]Provider
}

// NewRegistry creates an empty provider Registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[model.ProviderKind]Provider)}
}

// Register adds a Provider implementation for one ProviderKind.
func (r *Registry) Register(p Provider) {
	r.byKind[p.Kind()] = p
}

// Get resolves the Provider for a Deployment's ProviderKind.
func (r *Registry) Get(kind model.ProviderKind) (Provider, bool) {
	p, ok := r.byKind[kind]
	return p, ok
}
