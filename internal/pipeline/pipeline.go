// Package pipeline implements the chat-completions request execution
// plane: rate-limit, budget check, pre-call guardrails, cache lookup,
// route, execute-with-failover, post-call guardrails, cache write,
// spend accounting, and event emission. Authentication happens upstream
// in internal/httpapi; the pipeline receives an already-resolved
// PrincipalContext. The rate-limit, budget, pre-call guardrail, route
// and post-call guardrail stages each run in their own OpenTelemetry
// span; cache lookup, execution with failover, cache write and spend
// accounting get no span of their own.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corewave-ai/litegate/internal/cache"
	"github.com/corewave-ai/litegate/internal/events"
	"github.com/corewave-ai/litegate/internal/failover"
	"github.com/corewave-ai/litegate/internal/guardrail"
	"github.com/corewave-ai/litegate/internal/metrics"
	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/provider"
	"github.com/corewave-ai/litegate/internal/ratelimit"
	"github.com/corewave-ai/litegate/internal/registry"
	"github.com/corewave-ai/litegate/internal/router"
	"github.com/corewave-ai/litegate/internal/spend"
	"github.com/corewave-ai/litegate/internal/spend/ledger"
	"github.com/corewave-ai/litegate/internal/tokencount"
)

// Config holds the tunables the orchestrator needs beyond its wired
// components.
type Config struct {
	BudgetWindow time.Duration // cumulative-spend counter TTL / reset cadence
	ParallelWait time.Duration // timeout waiting for a parallel-request slot
}

// Pipeline wires every component of the request execution plane together.
type Pipeline struct {
	reg        *registry.Registry
	rt         *router.Router
	fo         *failover.Engine
	cacheEng   *cache.Engine
	guardrails *guardrail.Runner
	limiter    *ratelimit.Limiter
	accountant *spend.Accountant
	costs      *spend.CostTable
	ledger     *ledger.Ledger
	bus        *events.Bus
	metrics    *metrics.Metrics
	tokens     *tokencount.Counter
	tracer     trace.Tracer
	logger     zerolog.Logger
	cfg        Config
}

// New creates a Pipeline.
func New(
	reg *registry.Registry,
	rt *router.Router,
	fo *failover.Engine,
	cacheEng *cache.Engine,
	guardrails *guardrail.Runner,
	limiter *ratelimit.Limiter,
	accountant *spend.Accountant,
	costs *spend.CostTable,
	led *ledger.Ledger,
	bus *events.Bus,
	met *metrics.Metrics,
	tracer trace.Tracer,
	logger zerolog.Logger,
	cfg Config,
) *Pipeline {
	if cfg.ParallelWait <= 0 {
		cfg.ParallelWait = 2 * time.Second
	}
	if cfg.BudgetWindow <= 0 {
		cfg.BudgetWindow = 30 * 24 * time.Hour
	}
	return &Pipeline{
		reg: reg, rt: rt, fo: fo, cacheEng: cacheEng,
		guardrails: guardrails, limiter: limiter, accountant: accountant,
		costs: costs, ledger: led, bus: bus, metrics: met,
		tokens: tokencount.NewCounter(), tracer: tracer,
		logger: logger.With().Str("component", "pipeline").Logger(), cfg: cfg,
	}
}

// Registry exposes the model registry for read-only consumers (e.g. the
// GET /v1/models handler).
func (p *Pipeline) Registry() *registry.Registry { return p.reg }

// Result is the outcome of one pipeline execution, carrying the
// response-shaping details internal/httpapi needs beyond the response
// body itself.
type Result struct {
	RequestID    string
	Response     *model.ChatResponse
	CacheHit     bool
	DeploymentID string
}

// Execute drives one chat completion request through every stage and
// returns the complete response. Streaming requests call Execute
// identically — the caller (the HTTP handler) reconstructs an SSE stream
// from the returned Response via cache.ReconstructStream when req.Stream
// was set.
func (p *Pipeline) Execute(ctx context.Context, principal *model.PrincipalContext, req *model.ChatRequest) (*Result, error) {
	requestID := uuid.NewString()
	logger := p.logger.With().Str("request_id", requestID).Str("model", req.Model).Logger()
	ctx, span := p.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("model", req.Model),
	))
	defer span.End()

	start := time.Now()
	if p.metrics != nil {
		p.metrics.ActiveRequests.Inc()
		defer p.metrics.ActiveRequests.Dec()
	}

	result, err := p.execute(ctx, logger, requestID, principal, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		ge := model.AsGatewayError(err)
		p.bus.Publish(events.KindRequestFailed, requestID, map[string]string{
			"model": req.Model, "kind": string(ge.Kind),
		})
		if p.metrics != nil {
			p.metrics.RequestsTotal.WithLabelValues(req.Model, string(ge.Kind)).Inc()
		}
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RequestsTotal.WithLabelValues(req.Model, "ok").Inc()
		p.metrics.RequestDuration.WithLabelValues(req.Model).Observe(time.Since(start).Seconds())
	}
	p.bus.Publish(events.KindRequestCompleted, requestID, map[string]interface{}{
		"model": req.Model, "cache_hit": result.CacheHit, "deployment_id": result.DeploymentID,
	})
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, logger zerolog.Logger, requestID string, principal *model.PrincipalContext, req *model.ChatRequest) (*Result, error) {
	// Stage 1: rate limit.
	estimatedTPM := p.tokens.EstimateRequest(req)
	minuteBucket := ratelimit.CurrentMinuteBucket()
	if err := p.stage(ctx, "ratelimit", func(ctx context.Context) error {
		d, err := p.limiter.CheckRPM(ctx, principal, estimatedTPM)
		if err != nil {
			return model.Wrap(model.ErrInternal, "rate limit check failed", err)
		}
		if !d.Allowed {
			if p.metrics != nil {
				p.metrics.RateLimitRejects.WithLabelValues(string(d.Scope)).Inc()
			}
			ge := model.NewError(model.ErrRateLimit, "rate limit exceeded")
			ge.Scope = string(d.Scope)
			ge.RetryAfter = d.RetryAfter
			return ge
		}
		return nil
	}); err != nil {
		return nil, err
	}

	release, ok := p.limiter.AcquireParallel(principal, p.cfg.ParallelWait)
	if !ok {
		return nil, model.NewError(model.ErrRateLimit, "parallel request limit exceeded")
	}
	defer release()

	// Stage 2: budget check against pre-request state — a request that
	// itself crosses the budget still completes; only the *next* one is
	// rejected.
	if err := p.stage(ctx, "budget", func(ctx context.Context) error {
		if err := p.accountant.CheckHardBudget(ctx, principal); err != nil {
			if p.metrics != nil {
				ge := model.AsGatewayError(err)
				p.metrics.BudgetRejects.WithLabelValues(ge.Scope).Inc()
			}
			return err
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Stage 3: pre-call guardrails.
	mutated, err := stageValImpl(p, ctx, "guardrail_pre_call", func(ctx context.Context) (*model.ChatRequest, error) {
		return p.guardrails.RunPreCall(ctx, principal, req)
	})
	if err != nil {
		return nil, err
	}
	req = mutated

	// Stage 4: cache lookup.
	mode := cache.ResolveMode(req.Metadata)
	var cacheKey string
	if mode != cache.ModeBypass {
		cacheKey, err = cache.Key(req)
		if err != nil {
			return nil, model.Wrap(model.ErrInternal, "cache key computation failed", err)
		}
	}
	if mode == cache.ModeDefault || mode == cache.ModeNoStore {
		if entry, hit := p.cacheEng.Lookup(ctx, cacheKey); hit {
			var resp model.ChatResponse
			if decErr := decodeCacheEntry(entry, &resp); decErr == nil {
				if p.metrics != nil {
					p.metrics.CacheHits.Inc()
				}
				logger.Info().Str("cache_key", cacheKey).Msg("cache hit")
				return &Result{RequestID: requestID, Response: &resp, CacheHit: true}, nil
			}
		}
	}
	if p.metrics != nil {
		p.metrics.CacheMisses.Inc()
	}

	// Stage 5: route.
	reqCtx := model.RequestContext{Group: req.Model, EstimatedInputTokens: estimatedTPM}
	deployment, err := stageValImpl(p, ctx, "route", func(ctx context.Context) (*model.Deployment, error) {
		return p.rt.Select(ctx, reqCtx)
	})
	if err != nil {
		return nil, err
	}

	// Stage 6: execute with failover.
	callStart := time.Now()
	resp, _, err := p.fo.Execute(ctx, reqCtx, deployment, func(ctx context.Context, prov provider.Provider, d *model.Deployment) (*model.ChatResponse, error) {
		return prov.CompleteSync(ctx, req, d)
	})
	if err != nil {
		p.guardrails.RunPostCallFailure(ctx, principal, req, err)
		return nil, err
	}
	p.limiter.CorrectTPM(ctx, principal, minuteBucket, resp.Usage.TotalTokens, estimatedTPM)

	// Stage 7: post-call guardrails.
	if err := p.stage(ctx, "guardrail_post_call", func(ctx context.Context) error {
		return p.guardrails.RunPostCallSuccess(ctx, principal, req, resp)
	}); err != nil {
		return nil, err
	}

	// Stage 8: cache write.
	if mode == cache.ModeDefault || mode == cache.ModeNoCache {
		p.cacheWrite(ctx, cacheKey, req, resp)
	}

	// Stage 9: spend accounting.
	price := p.costs.Lookup(deployment)
	costUSD := spend.Calculate(price, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.CachedPromptTokens)
	p.accountant.AddSpend(ctx, principal, costUSD, p.cfg.BudgetWindow)
	if p.metrics != nil {
		p.metrics.TokensProcessed.WithLabelValues(req.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
		p.metrics.TokensProcessed.WithLabelValues(req.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
		p.metrics.SpendTotal.WithLabelValues(req.Model).Add(costUSD)
	}
	p.ledger.Append(model.SpendRecord{
		RequestID: requestID, KeyID: principal.KeyID, UserID: principal.UserID,
		TeamID: principal.TeamID, OrgID: principal.OrgID, Model: req.Model,
		PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD: costUSD, CacheHit: false, StartTime: callStart, EndTime: time.Now(),
		Tags: principal.Tags,
	})

	for _, scope := range p.accountant.SoftBudgetCrossed(ctx, principal) {
		p.bus.Publish(events.KindBudgetAlert, requestID, map[string]string{"scope": string(scope)})
	}

	return &Result{RequestID: requestID, Response: resp, CacheHit: false, DeploymentID: deployment.ID}, nil
}

func encodeCacheEntry(resp *model.ChatResponse) ([]byte, error) {
	return json.Marshal(resp)
}

func decodeCacheEntry(entry *model.CacheEntry, out *model.ChatResponse) error {
	return json.Unmarshal(entry.Response, out)
}

func (p *Pipeline) cacheWrite(ctx context.Context, key string, req *model.ChatRequest, resp *model.ChatResponse) {
	raw, err := encodeCacheEntry(resp)
	if err != nil {
		return
	}
	var ttl *int
	if req.Metadata != nil {
		ttl = req.Metadata.CacheTTLSeconds
	}
	_ = p.cacheEng.Write(ctx, key, &model.CacheEntry{Response: raw, Model: resp.Model, TokenCount: resp.Usage.TotalTokens}, ttl)
}

// stage wraps a side-effecting stage body in its own span.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// stageValImpl wraps a value-returning stage body in its own span.
func stageValImpl[T any](p *Pipeline, ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	v, err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}
