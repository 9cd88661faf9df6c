// Package failover builds an ordered chain of candidate deployments for
// a request and drives it deployment-by-deployment with scoped
// acquire/release, linear retry spacing, and cooldown-triggering
// consecutive-failure tracking.
package failover

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/provider"
	"github.com/corewave-ai/litegate/internal/registry"
	"github.com/corewave-ai/litegate/internal/router"
	"github.com/corewave-ai/litegate/internal/statestore"
)

// Config controls retry spacing, per-call timeout, cooldown, and the
// fallback chain a request walks through.
type Config struct {
	NumRetries   int
	RetryAfter   time.Duration // linear spacing between retries of the same deployment
	Timeout      time.Duration // single-call timeout
	CooldownTime time.Duration
	AllowedFails int

	// FallbackGroups maps a model group to fallback group names tried
	// after same-group deployments are exhausted.
	FallbackGroups map[string][]string
	// ContextWindowFallbacks maps a model group to groups tried when
	// estimated input tokens exceed 80% of the primary's context window.
	ContextWindowFallbacks map[string][]string
	// ContentPolicyFallbacks maps a model group to groups tried on a
	// content_filter error.
	ContentPolicyFallbacks map[string][]string
}

// Engine drives the failover chain for one request.
type Engine struct {
	reg        *registry.Registry
	states     *statestore.Store
	router     *router.Router
	providers  *provider.Registry
	cfg        Config
	logger     zerolog.Logger
	onCooldown func(deploymentID string)
}

// New creates a failover Engine.
func New(reg *registry.Registry, states *statestore.Store, rt *router.Router, providers *provider.Registry, cfg Config, logger zerolog.Logger, onCooldown func(deploymentID string)) *Engine {
	return &Engine{reg: reg, states: states, router: rt, providers: providers, cfg: cfg, logger: logger.With().Str("component", "failover").Logger(), onCooldown: onCooldown}
}

// Attempt records the terminal outcome of trying one deployment, for the
// chain-exhaustion error report.
type Attempt struct {
	DeploymentID string
	Cause        *model.GatewayError
}

// chainLink is one deployment to try. It does not record which branch of
// the chain (same group, fallback group, context-window or content-policy
// fallback) the deployment came from.
type chainLink struct {
	deployment *model.Deployment
}

// buildChain assembles the ordered execution chain: the primary
// selection, then other healthy same-group deployments, then each
// declared fallback group's deployments, then context-window fallbacks
// if applicable, then content-policy fallbacks if applicable.
func (e *Engine) buildChain(ctx context.Context, reqCtx model.RequestContext, primary *model.Deployment, contentPolicyTriggered bool) []chainLink {
	snap := e.reg.Current()
	seen := map[string]struct{}{primary.ID: {}}
	chain := []chainLink{{deployment: primary}}

	group, err := snap.Resolve(primary.Group)
	if err == nil {
		for _, d := range snap.Deployments(group) {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			state := router.LoadState(ctx, e.states, d.ID)
			if !d.Enabled || state.InCooldown(time.Now()) || !state.Healthy {
				continue
			}
			seen[d.ID] = struct{}{}
			chain = append(chain, chainLink{deployment: d})
		}
	}

	appendGroups := func(groups []string) {
		for _, gname := range groups {
			g, err := snap.Resolve(gname)
			if err != nil {
				continue
			}
			for _, d := range snap.Deployments(g) {
				if _, dup := seen[d.ID]; dup {
					continue
				}
				seen[d.ID] = struct{}{}
				chain = append(chain, chainLink{deployment: d})
			}
		}
	}

	appendGroups(e.cfg.FallbackGroups[primary.Group])

	if primary.ContextWindowTokens > 0 && reqCtx.EstimatedInputTokens > int(float64(primary.ContextWindowTokens)*0.8) {
		appendGroups(e.cfg.ContextWindowFallbacks[primary.Group])
	}
	if contentPolicyTriggered {
		appendGroups(e.cfg.ContentPolicyFallbacks[primary.Group])
	}

	return chain
}

// Execute drives the failover chain for one chat completion request,
// returning the provider response or a chain-exhaustion error.
func (e *Engine) Execute(ctx context.Context, reqCtx model.RequestContext, primary *model.Deployment, call func(ctx context.Context, p provider.Provider, d *model.Deployment) (*model.ChatResponse, error)) (*model.ChatResponse, []Attempt, error) {
	var attempts []Attempt
	contentPolicyTriggered := false

	for pass := 0; pass < 2; pass++ { // pass 1 only runs if content-policy fallback gets newly enabled
		chain := e.buildChain(ctx, reqCtx, primary, contentPolicyTriggered)

		for _, link := range chain {
			d := link.deployment
			p, ok := e.providers.Get(d.ProviderKind)
			if !ok {
				attempts = append(attempts, Attempt{DeploymentID: d.ID, Cause: model.NewError(model.ErrInternal, "no provider adapter registered")})
				continue
			}

			resp, ge := e.tryDeployment(ctx, d, p, call)
			if ge == nil {
				return resp, attempts, nil
			}
			attempts = append(attempts, Attempt{DeploymentID: d.ID, Cause: ge})

			if ge.Kind == model.ErrContentFilter && !contentPolicyTriggered {
				contentPolicyTriggered = true
				break // rebuild chain with content-policy fallbacks appended
			}
			if !ge.Retryable() {
				// Non-retryable, non-content-filter errors (auth,
				// invalid-request, permission, model-not-found, budget):
				// fail the whole chain immediately.
				if ge.Kind != model.ErrContextWindowExceeded {
					return nil, attempts, chainExhausted(attempts)
				}
			}
		}
		if !contentPolicyTriggered {
			break
		}
	}

	return nil, attempts, chainExhausted(attempts)
}

// tryDeployment executes the retry loop against a single deployment:
// re-check availability, scoped acquire/release, single-call timeout,
// linear-spaced retries up to NumRetries, and cooldown bookkeeping.
func (e *Engine) tryDeployment(ctx context.Context, d *model.Deployment, p provider.Provider, call func(ctx context.Context, p provider.Provider, d *model.Deployment) (*model.ChatResponse, error)) (*model.ChatResponse, *model.GatewayError) {
	state := router.LoadState(ctx, e.states, d.ID)
	if state.InCooldown(time.Now()) {
		return nil, model.NewError(model.ErrUpstreamUnavailable, "deployment in cooldown")
	}

	var lastErr *model.GatewayError
	for attempt := 0; attempt <= e.cfg.NumRetries; attempt++ {
		resp, err := e.singleCall(ctx, d, p, call)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !err.Retryable() {
			e.onFailure(ctx, d)
			return nil, lastErr
		}
		if attempt < e.cfg.NumRetries {
			select {
			case <-time.After(e.cfg.RetryAfter):
			case <-ctx.Done():
				return nil, model.NewError(model.ErrTimeout, "cancelled during retry wait")
			}
		}
	}
	e.onFailure(ctx, d)
	return nil, lastErr
}

func (e *Engine) singleCall(ctx context.Context, d *model.Deployment, p provider.Provider, call func(ctx context.Context, p provider.Provider, d *model.Deployment) (*model.ChatResponse, error)) (resp *model.ChatResponse, gerr *model.GatewayError) {
	release := router.IncrActive(ctx, e.states, d.ID)
	defer release()

	callCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			gerr = model.NewError(model.ErrInternal, "panic during provider call")
		}
	}()

	out, err := call(callCtx, p, d)
	if err != nil {
		ge := model.AsGatewayError(err)
		if callCtx.Err() != nil {
			ge = model.NewError(model.ErrTimeout, "provider call timed out")
		}
		return nil, ge
	}
	router.RecordSuccess(ctx, e.states, d.ID, time.Since(start))
	router.RecordRequestUsage(ctx, e.states, d.ID, int64(out.Usage.TotalTokens))
	return out, nil
}

func (e *Engine) onFailure(ctx context.Context, d *model.Deployment) {
	entered := router.RecordFailure(ctx, e.states, d.ID, e.cfg.AllowedFails, e.cfg.CooldownTime)
	if entered {
		e.logger.Warn().Str("deployment", d.ID).Msg("deployment entered cooldown")
		if e.onCooldown != nil {
			e.onCooldown(d.ID)
		}
	}
}

func chainExhausted(attempts []Attempt) *model.GatewayError {
	msg := "all deployments in the chain were exhausted"
	for i, a := range attempts {
		if i == 0 {
			msg += ":"
		} else {
			msg += ","
		}
		msg += " " + a.DeploymentID
		if a.Cause != nil {
			msg += " (" + string(a.Cause.Kind) + ")"
		}
	}
	ge := model.NewError(model.ErrAllDeploymentsExhausted, msg)
	return ge
}
