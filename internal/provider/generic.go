package provider

import (
	"net/http"

	"github.com/corewave-ai/litegate/internal/model"
)

// GenericAdapter targets self-hosted OpenAI-compatible backends (vLLM,
// Ollama's OpenAI-compatible surface, text-generation-inference). It
// reuses OpenAIAdapter unchanged and differs from it only in Kind():
// requests carry the same Authorization header, which is a bearer header
// with an empty token when the deployment has no credential.
type GenericAdapter struct {
	*OpenAIAdapter
}

// NewGenericAdapter creates an adapter pointed at baseURL.
func NewGenericAdapter(client *http.Client, baseURL string) *GenericAdapter {
	return &GenericAdapter{OpenAIAdapter: NewOpenAIAdapter(client, baseURL)}
}

func (a *GenericAdapter) Kind() model.ProviderKind { return model.ProviderGeneric }
