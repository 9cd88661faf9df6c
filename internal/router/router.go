// Package router selects a deployment for a model group: it filters
// candidates down to the healthy, tagged, priority-eligible pool and
// then applies one of several selection strategies over what remains,
// consulting internal/statestore for live DeploymentState.
package router

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/registry"
	"github.com/corewave-ai/litegate/internal/statestore"
)

// Strategy selects among equally-eligible deployments.
type Strategy string

const (
	StrategyShuffle       Strategy = "shuffle"
	StrategyLeastBusy     Strategy = "least-busy"
	StrategyLatency       Strategy = "latency"
	StrategyCost          Strategy = "cost"
	StrategyUsage         Strategy = "usage"
	StrategyRateLimitAware Strategy = "rate-limit-aware"
)

// noSampleLatencyPenaltyMillis is the fixed high penalty applied to
// deployments with no recent latency samples, so they remain selectable
// (occasionally) rather than being starved forever.
const noSampleLatencyPenaltyMillis = 5000

// preCallLimitThreshold is the RPM/TPM utilization fraction above which a
// deployment is dropped from consideration before strategy selection.
const preCallLimitThreshold = 0.90

// rateLimitAwareThreshold is the stricter threshold the rate-limit-aware
// strategy applies on top of preCallLimitThreshold's filter.
const rateLimitAwareThreshold = 0.75

// Router selects deployments for a model group under a configured
// strategy.
type Router struct {
	reg      *registry.Registry
	states   *statestore.Store
	strategy Strategy
	enablePreCallChecks bool
}

// New creates a Router over reg and states.
func New(reg *registry.Registry, states *statestore.Store, strategy Strategy, enablePreCallChecks bool) *Router {
	return &Router{reg: reg, states: states, strategy: strategy, enablePreCallChecks: enablePreCallChecks}
}

// Select narrows the model group's deployments down to the healthy,
// tagged pool, then walks priority tiers from smallest to largest,
// applying utilization filtering and strategy selection within each
// tier. A tier is skipped only when it has nothing left to offer; the
// first tier that yields a candidate wins.
func (r *Router) Select(ctx context.Context, reqCtx model.RequestContext) (*model.Deployment, error) {
	snap := r.reg.Current()
	group, err := snap.Resolve(reqCtx.Group)
	if err != nil {
		return nil, err
	}

	candidates := snap.Deployments(group)
	candidates = r.filterHealthy(ctx, candidates)
	if len(reqCtx.Tags) > 0 {
		candidates = filterTags(candidates, reqCtx.Tags)
	}

	for _, tier := range bucketsByPriority(candidates) {
		pool := tier
		if r.enablePreCallChecks {
			pool = r.filterUtilization(ctx, pool, preCallLimitThreshold)
		}
		if len(pool) == 0 {
			continue
		}
		return r.applyStrategy(ctx, pool)
	}

	return nil, model.NewError(model.ErrAllDeploymentsExhausted, "no-eligible-deployment")
}

// filterHealthy drops deployments that are disabled, cooling down, or
// unhealthy.
func (r *Router) filterHealthy(ctx context.Context, in []*model.Deployment) []*model.Deployment {
	now := time.Now()
	out := make([]*model.Deployment, 0, len(in))
	for _, d := range in {
		if !d.Enabled {
			continue
		}
		state := r.stateOf(ctx, d.ID)
		if state.InCooldown(now) {
			continue
		}
		if !state.Healthy {
			continue
		}
		out = append(out, d)
	}
	return out
}

func filterTags(in []*model.Deployment, want map[string]struct{}) []*model.Deployment {
	out := make([]*model.Deployment, 0, len(in))
	for _, d := range in {
		if d.HasTag(want) {
			out = append(out, d)
		}
	}
	return out
}

// bucketsByPriority groups deployments by Priority and returns the
// groups ordered smallest priority number first, so a caller can try the
// highest-priority tier first and fall through to the next one only when
// it proves empty.
func bucketsByPriority(in []*model.Deployment) [][]*model.Deployment {
	if len(in) == 0 {
		return nil
	}
	byPriority := make(map[int][]*model.Deployment)
	for _, d := range in {
		byPriority[d.Priority] = append(byPriority[d.Priority], d)
	}
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)
	out := make([][]*model.Deployment, len(priorities))
	for i, p := range priorities {
		out[i] = byPriority[p]
	}
	return out
}

func (r *Router) filterUtilization(ctx context.Context, in []*model.Deployment, threshold float64) []*model.Deployment {
	out := make([]*model.Deployment, 0, len(in))
	for _, d := range in {
		state := r.stateOf(ctx, d.ID)
		if rpmUtil(d, state) >= threshold || tpmUtil(d, state) >= threshold {
			continue
		}
		out = append(out, d)
	}
	return out
}

func rpmUtil(d *model.Deployment, s *model.DeploymentState) float64 {
	if d.RPMLimit == nil || *d.RPMLimit <= 0 {
		return 0
	}
	return float64(s.RPMCount) / float64(*d.RPMLimit)
}

func tpmUtil(d *model.Deployment, s *model.DeploymentState) float64 {
	if d.TPMLimit == nil || *d.TPMLimit <= 0 {
		return 0
	}
	return float64(s.TPMCount) / float64(*d.TPMLimit)
}

func (r *Router) stateOf(ctx context.Context, deploymentID string) *model.DeploymentState {
	return LoadState(ctx, r.states, deploymentID)
}

func (r *Router) applyStrategy(ctx context.Context, pool []*model.Deployment) (*model.Deployment, error) {
	switch r.strategy {
	case StrategyLeastBusy:
		return r.selectLeastBusy(ctx, pool), nil
	case StrategyLatency:
		return r.selectLatency(ctx, pool), nil
	case StrategyCost:
		return selectCost(pool), nil
	case StrategyUsage:
		return r.selectUsage(ctx, pool), nil
	case StrategyRateLimitAware:
		filtered := r.filterUtilization(ctx, pool, rateLimitAwareThreshold)
		if len(filtered) == 0 {
			filtered = pool
		}
		return weightedRandom(filtered), nil
	default:
		return weightedRandom(pool), nil
	}
}

func weightedRandom(pool []*model.Deployment) *model.Deployment {
	total := 0
	for _, d := range pool {
		total += d.Weight
	}
	if total <= 0 {
		return pool[rand.Intn(len(pool))]
	}
	pick := rand.Intn(total)
	acc := 0
	for _, d := range pool {
		acc += d.Weight
		if pick < acc {
			return d
		}
	}
	return pool[len(pool)-1]
}

func (r *Router) selectLeastBusy(ctx context.Context, pool []*model.Deployment) *model.Deployment {
	var best []*model.Deployment
	var bestActive int64 = -1
	for _, d := range pool {
		active := r.stateOf(ctx, d.ID).ActiveRequests
		switch {
		case bestActive == -1 || active < bestActive:
			bestActive = active
			best = []*model.Deployment{d}
		case active == bestActive:
			best = append(best, d)
		}
	}
	return weightedRandom(best)
}

func (r *Router) selectLatency(ctx context.Context, pool []*model.Deployment) *model.Deployment {
	var chosen *model.Deployment
	best := -1.0
	for _, d := range pool {
		state := r.stateOf(ctx, d.ID)
		latency := noSampleLatencyPenaltyMillis
		if state.HasLatencySample {
			latency = int(state.LatencyEWMAMillis)
		}
		if best < 0 || float64(latency) < best {
			best = float64(latency)
			chosen = d
		}
	}
	return chosen
}

func selectCost(pool []*model.Deployment) *model.Deployment {
	var chosen *model.Deployment
	best := -1.0
	for _, d := range pool {
		total := d.InputCostPerToken + d.OutputCostPerToken
		if best < 0 || total < best {
			best = total
			chosen = d
		}
	}
	return chosen
}

func (r *Router) selectUsage(ctx context.Context, pool []*model.Deployment) *model.Deployment {
	var chosen *model.Deployment
	best := -1.0
	for _, d := range pool {
		state := r.stateOf(ctx, d.ID)
		util := rpmUtil(d, state)
		if t := tpmUtil(d, state); t > util {
			util = t
		}
		if best < 0 || util < best {
			best = util
			chosen = d
		}
	}
	return chosen
}
