// Package httpapi mounts the OpenAI-compatible HTTP surface over the
// request execution pipeline.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/corewave-ai/litegate/internal/cache"
	"github.com/corewave-ai/litegate/internal/events"
	"github.com/corewave-ai/litegate/internal/pipeline"
	"github.com/corewave-ai/litegate/internal/provider"
	"github.com/corewave-ai/litegate/internal/ratelimit"
	"github.com/corewave-ai/litegate/internal/registry"
	"github.com/corewave-ai/litegate/internal/router"
	"github.com/corewave-ai/litegate/internal/spend"
	"github.com/corewave-ai/litegate/internal/tokencount"
)

// Deps are the components server wires into HTTP handlers. Most requests
// flow entirely through Pipeline; the routing/provider/limiter/accountant/
// cache references below also serve the embeddings path, which bypasses
// the chat-specific pipeline and talks to routing/provider/cache directly
// since that orchestrator's stages are typed for chat completions.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Registry   *registry.Registry
	Router     *router.Router
	Providers  *provider.Registry
	Limiter    *ratelimit.Limiter
	Accountant *spend.Accountant
	Costs      *spend.CostTable
	Tokens     *tokencount.Counter
	Cache      *cache.Engine
	Bus        *events.Bus
	Auth       Authenticator
	Tracer     trace.Tracer
	Logger     zerolog.Logger
}

type server struct {
	deps   Deps
	auth   Authenticator
	tracer trace.Tracer
	logger zerolog.Logger
}

// New builds the chi router exposing litegate's OpenAI-compatible surface.
func New(deps Deps) http.Handler {
	s := &server{deps: deps, auth: deps.Auth, tracer: deps.Tracer, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(securityHeaders, requestID, s.recovery, s.logging, s.tracing)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Group(func(pr chi.Router) {
		pr.Use(s.authenticate)
		pr.Post("/v1/chat/completions", s.handleChatCompletions)
		pr.Post("/v1/completions", s.handleCompletions)
		pr.Post("/v1/embeddings", s.handleEmbeddings)
		pr.Post("/v1/responses", s.handleResponses)
		pr.Get("/v1/models", s.handleModels)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if len(s.deps.Registry.Current().GroupNames()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
