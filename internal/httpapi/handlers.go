package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/corewave-ai/litegate/internal/cache"
	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/pipeline"
	"github.com/corewave-ai/litegate/internal/ratelimit"
	"github.com/corewave-ai/litegate/internal/spend"
)

const maxBodyBytes = 10 << 20 // 10MiB request body cap

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, model.NewError(model.ErrInvalidRequest, "malformed request body"))
		return false
	}
	return true
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	principal := principalFromContext(r.Context())

	result, err := s.deps.Pipeline.Execute(r.Context(), principal, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	respHeaders(w, result)

	if req.Stream {
		s.writeStreamedChatResponse(w, result.Response)
		return
	}
	writeJSON(w, http.StatusOK, result.Response)
}

// writeStreamedChatResponse reconstructs a pseudo-stream from a completed
// (possibly cache-hit) response, since the pipeline only ever returns a
// complete ChatResponse — true token-by-token provider streaming is not
// currently surfaced to httpapi.
func (s *server) writeStreamedChatResponse(w http.ResponseWriter, resp *model.ChatResponse) {
	writeSSEHeaders(w)
	if len(resp.Choices) == 0 {
		writeSSEDone(w)
		return
	}
	content, _ := resp.Choices[0].Message.Content.(string)
	for _, chunk := range cache.ReconstructStream(resp.ID, resp.Model, content) {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		writeSSEData(w, data)
	}
	writeSSEDone(w)
}

func respHeaders(w http.ResponseWriter, result *pipeline.Result) {
	h := w.Header()
	h["X-Request-Id"] = []string{result.RequestID}
	h["X-Deployment-Id"] = []string{result.DeploymentID}
	if result.CacheHit {
		h["X-Cache-Hit"] = []string{"true"}
	} else {
		h["X-Cache-Hit"] = []string{"false"}
	}
}

// legacyCompletionRequest is the pre-chat `/v1/completions` shape: a single
// prompt string in place of a messages array.
type legacyCompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	User        string   `json:"user,omitempty"`
}

type legacyCompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type legacyCompletionResponse struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []legacyCompletionChoice `json:"choices"`
	Usage   model.Usage              `json:"usage"`
}

// handleCompletions adapts the legacy prompt-completion shape onto a
// single-message ChatRequest and back, so it can run through the same
// pipeline (cache, guardrails, spend, failover) as chat completions rather
// than duplicating that machinery.
func (s *server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var legacy legacyCompletionRequest
	if !decodeBody(w, r, &legacy) {
		return
	}
	principal := principalFromContext(r.Context())

	chatReq := &model.ChatRequest{
		Model:       legacy.Model,
		Messages:    []model.ChatMessage{{Role: "user", Content: legacy.Prompt}},
		MaxTokens:   legacy.MaxTokens,
		Temperature: legacy.Temperature,
		Stream:      legacy.Stream,
		User:        legacy.User,
	}

	result, err := s.deps.Pipeline.Execute(r.Context(), principal, chatReq)
	if err != nil {
		writeError(w, err)
		return
	}
	respHeaders(w, result)

	var text, finish string
	if len(result.Response.Choices) > 0 {
		text, _ = result.Response.Choices[0].Message.Content.(string)
		finish = result.Response.Choices[0].FinishReason
	}
	writeJSON(w, http.StatusOK, legacyCompletionResponse{
		ID:      result.Response.ID,
		Object:  "text_completion",
		Created: result.Response.Created,
		Model:   result.Response.Model,
		Choices: []legacyCompletionChoice{{Index: 0, Text: text, FinishReason: finish}},
		Usage:   result.Response.Usage,
	})
}

// handleResponses accepts the same message-array shape as chat completions
// and delegates to the identical pipeline; the responses API's richer
// input/output item model is not reconstructed here, only its common
// message-array subset.
func (s *server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.handleChatCompletions(w, r)
}

// handleEmbeddings takes a deliberately lighter path than chat completions:
// rate limit, hard-budget check, cache lookup, route, single provider
// call, cache write, spend accounting. It does not run through
// internal/pipeline because that orchestrator's guardrail stages and
// internal/failover's ordered retry chain are both typed to
// ChatRequest/ChatResponse; embeddings gets its own cache read/write
// pair instead, reusing the same fingerprint-then-exact-match scheme.
func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req model.EmbeddingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	principal := principalFromContext(r.Context())
	ctx := r.Context()
	estimatedTPM := s.deps.Tokens.EstimateEmbeddingsRequest(&req)

	decision, err := s.deps.Limiter.CheckRPM(ctx, principal, estimatedTPM)
	if err != nil {
		writeError(w, err)
		return
	}
	if !decision.Allowed {
		writeError(w, rateLimitError(decision))
		return
	}

	if err := s.deps.Accountant.CheckHardBudget(ctx, principal); err != nil {
		writeError(w, err)
		return
	}

	cacheKey, err := cache.EmbeddingsKey(&req)
	if err != nil {
		writeError(w, model.Wrap(model.ErrInvalidRequest, "could not fingerprint embeddings request", err))
		return
	}
	if s.deps.Cache != nil {
		if entry, ok := s.deps.Cache.Lookup(ctx, cacheKey); ok {
			var resp model.EmbeddingsResponse
			if json.Unmarshal(entry.Response, &resp) == nil {
				w.Header()["X-Cache-Hit"] = []string{"true"}
				writeJSON(w, http.StatusOK, &resp)
				return
			}
		}
	}

	reqCtx := model.RequestContext{Group: req.Model, EstimatedInputTokens: estimatedTPM}
	deployment, err := s.deps.Router.Select(ctx, reqCtx)
	if err != nil {
		writeError(w, err)
		return
	}
	prov, ok := s.deps.Providers.Get(deployment.ProviderKind)
	if !ok {
		writeError(w, model.NewError(model.ErrUpstreamUnavailable, "no provider adapter for deployment"))
		return
	}

	callCtx := ctx
	var cancel context.CancelFunc = func() {}
	if deployment.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deployment.Timeout)
	}
	defer cancel()
	resp, err := prov.Embed(callCtx, &req, deployment)
	if err != nil {
		writeError(w, model.Wrap(model.ErrUpstreamUnavailable, "embeddings call failed", err))
		return
	}

	if s.deps.Cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			_ = s.deps.Cache.Write(ctx, cacheKey, &model.CacheEntry{Response: raw, Model: resp.Model}, nil)
		}
	}

	price := s.deps.Costs.Lookup(deployment)
	costUSD := spend.Calculate(price, resp.Usage.PromptTokens, 0, 0)
	s.deps.Accountant.AddSpend(ctx, principal, costUSD, 30*24*time.Hour)

	w.Header()["X-Deployment-Id"] = []string{deployment.ID}
	w.Header()["X-Cache-Hit"] = []string{"false"}
	writeJSON(w, http.StatusOK, resp)
}

func rateLimitError(d ratelimit.Decision) *model.GatewayError {
	ge := model.NewError(model.ErrRateLimit, "rate limit exceeded")
	ge.Scope = string(d.Scope)
	ge.RetryAfter = d.RetryAfter
	return ge
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Registry.Current()
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := snap.GroupNames()
	data := make([]modelEntry, 0, len(names))
	for _, name := range names {
		data = append(data, modelEntry{ID: name, Object: "model", OwnedBy: "litegate"})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}
