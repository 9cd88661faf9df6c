package router

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/registry"
	"github.com/corewave-ai/litegate/internal/statestore"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.New("redis://127.0.0.1:1/0", zerolog.Nop())
	require.NoError(t, err)
	return store
}

func buildRegistry(deployments ...*model.Deployment) *registry.Registry {
	ids := make([]string, len(deployments))
	for i, d := range deployments {
		ids[i] = d.ID
	}
	b := registry.NewBuilder().AddGroup(&model.ModelGroup{Name: "gpt-4o", DeploymentIDs: ids})
	for _, d := range deployments {
		b.AddDeployment(d)
	}
	reg := registry.New()
	reg.Swap(b.Build())
	return reg
}

func dep(id string, priority, weight int) *model.Deployment {
	return &model.Deployment{ID: id, Group: "gpt-4o", Enabled: true, Priority: priority, Weight: weight}
}

func TestSelect_UnknownGroupReturnsModelNotFound(t *testing.T) {
	reg := registry.New()
	r := New(reg, newTestStore(t), StrategyLeastBusy, true)

	_, err := r.Select(context.Background(), model.RequestContext{Group: "nonexistent"})
	require.Error(t, err)
	require.Equal(t, model.ErrModelNotFound, model.AsGatewayError(err).Kind)
}

func TestSelect_NoEligibleDeploymentWhenAllDisabled(t *testing.T) {
	d := dep("d1", 0, 1)
	d.Enabled = false
	reg := buildRegistry(d)
	r := New(reg, newTestStore(t), StrategyLeastBusy, true)

	_, err := r.Select(context.Background(), model.RequestContext{Group: "gpt-4o"})
	require.Error(t, err)
	require.Equal(t, model.ErrAllDeploymentsExhausted, model.AsGatewayError(err).Kind)
}

func TestSelect_PrefersLowerPriorityBucket(t *testing.T) {
	preferred := dep("preferred", 0, 1)
	fallback := dep("fallback", 1, 1)
	reg := buildRegistry(preferred, fallback)
	r := New(reg, newTestStore(t), StrategyLeastBusy, true)

	chosen, err := r.Select(context.Background(), model.RequestContext{Group: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, "preferred", chosen.ID)
}

func TestSelect_SkipsCoolingDownDeployment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	healthy := dep("healthy", 0, 1)
	cooling := dep("cooling", 0, 1)
	reg := buildRegistry(healthy, cooling)
	r := New(reg, store, StrategyLeastBusy, true)

	RecordFailure(ctx, store, "cooling", 0, time.Minute)

	chosen, err := r.Select(ctx, model.RequestContext{Group: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, "healthy", chosen.ID)
}

func TestSelectLeastBusy_PicksLowestActiveCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	busy := dep("busy", 0, 1)
	idle := dep("idle", 0, 1)
	reg := buildRegistry(busy, idle)
	r := New(reg, store, StrategyLeastBusy, true)

	release := IncrActive(ctx, store, "busy")
	defer release()

	chosen, err := r.Select(ctx, model.RequestContext{Group: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, "idle", chosen.ID)
}

func TestSelectCost_PicksCheapestDeployment(t *testing.T) {
	cheap := dep("cheap", 0, 1)
	cheap.InputCostPerToken, cheap.OutputCostPerToken = 0.001, 0.002
	expensive := dep("expensive", 0, 1)
	expensive.InputCostPerToken, expensive.OutputCostPerToken = 0.01, 0.02
	reg := buildRegistry(cheap, expensive)
	r := New(reg, newTestStore(t), StrategyCost, true)

	chosen, err := r.Select(context.Background(), model.RequestContext{Group: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, "cheap", chosen.ID)
}

func TestSelect_DescendsToNextPriorityTierWhenFirstIsSaturated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saturated := dep("saturated", 0, 1)
	limit := 10
	saturated.RPMLimit = &limit
	fallback := dep("fallback", 1, 1)
	reg := buildRegistry(saturated, fallback)
	r := New(reg, store, StrategyLeastBusy, true)

	for i := 0; i < 10; i++ {
		RecordRequestUsage(ctx, store, "saturated", 0)
	}

	chosen, err := r.Select(ctx, model.RequestContext{Group: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, "fallback", chosen.ID, "saturated deployment's tier must be skipped in favor of the next priority tier")
}

func TestSelect_FiltersByRequiredTags(t *testing.T) {
	d1 := dep("untagged", 0, 1)
	d2 := dep("gpu", 0, 1)
	d2.Tags = map[string]struct{}{"gpu": {}}
	reg := buildRegistry(d1, d2)
	r := New(reg, newTestStore(t), StrategyLeastBusy, true)

	chosen, err := r.Select(context.Background(), model.RequestContext{
		Group: "gpt-4o",
		Tags:  map[string]struct{}{"gpu": {}},
	})
	require.NoError(t, err)
	require.Equal(t, "gpu", chosen.ID)
}
