package failover

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/provider"
	"github.com/corewave-ai/litegate/internal/registry"
	"github.com/corewave-ai/litegate/internal/router"
	"github.com/corewave-ai/litegate/internal/statestore"
)

// fakeProvider lets each test script a fixed sequence of outcomes per
// deployment, and counts how many times it was called.
type fakeProvider struct {
	kind  model.ProviderKind
	calls int
	err   *model.GatewayError
	resp  *model.ChatResponse
}

func (f *fakeProvider) Kind() model.ProviderKind { return f.kind }
func (f *fakeProvider) CompleteSync(ctx context.Context, req *model.ChatRequest, d *model.Deployment) (*model.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}
func (f *fakeProvider) CompleteStream(ctx context.Context, req *model.ChatRequest, d *model.Deployment) (provider.Stream, error) {
	return nil, model.NewError(model.ErrInternal, "not implemented")
}
func (f *fakeProvider) Embed(ctx context.Context, req *model.EmbeddingsRequest, d *model.Deployment) (*model.EmbeddingsResponse, error) {
	return nil, model.NewError(model.ErrInternal, "not implemented")
}

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.New("redis://127.0.0.1:1/0", zerolog.Nop())
	require.NoError(t, err)
	return store
}

func buildReg(deployments ...*model.Deployment) *registry.Registry {
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

func dep(id string, priority int) *model.Deployment {
	return &model.Deployment{ID: id, Group: "gpt-4o", Enabled: true, Priority: priority, Weight: 1, ProviderKind: model.ProviderOpenAI}
}

func callThroughFake(ctx context.Context, p provider.Provider, d *model.Deployment) (*model.ChatResponse, error) {
	return p.CompleteSync(ctx, &model.ChatRequest{Model: d.ProviderModelName}, d)
}

func TestExecute_SucceedsOnPrimary(t *testing.T) {
	store := newTestStore(t)
	primary := dep("primary", 0)
	reg := buildReg(primary)
	rt := router.New(reg, store, router.StrategyLeastBusy, false)

	providers := provider.NewRegistry()
	fp := &fakeProvider{kind: model.ProviderOpenAI, resp: &model.ChatResponse{ID: "resp-1"}}
	providers.Register(fp)

	eng := New(reg, store, rt, providers, Config{NumRetries: 0, Timeout: time.Second, CooldownTime: time.Minute, AllowedFails: 1}, zerolog.Nop(), nil)

	resp, attempts, err := eng.Execute(context.Background(), model.RequestContext{Group: "gpt-4o"}, primary, callThroughFake)
	require.NoError(t, err)
	require.Equal(t, "resp-1", resp.ID)
	require.Empty(t, attempts)
	require.Equal(t, 1, fp.calls)
}

func TestExecute_FailsOverToSecondDeploymentOnTimeout(t *testing.T) {
	store := newTestStore(t)
	primary := dep("primary", 0)
	secondary := dep("secondary", 0)
	reg := buildReg(primary, secondary)
	rt := router.New(reg, store, router.StrategyLeastBusy, false)

	providers := provider.NewRegistry()
	// Both deployments share one provider kind; route each call via the
	// deployment ID baked into the fake's response so the test can verify
	// which one ultimately served the request. A single fakeProvider
	// can't distinguish by deployment, so use a dispatcher provider.
	calls := map[string]int{}
	dispatch := &dispatchProvider{
		onCall: func(d *model.Deployment) (*model.ChatResponse, error) {
			calls[d.ID]++
			if d.ID == "primary" {
				return nil, model.NewError(model.ErrTimeout, "simulated timeout")
			}
			return &model.ChatResponse{ID: "resp-secondary"}, nil
		},
	}
	providers.Register(dispatch)

	var cooledDown string
	eng := New(reg, store, rt, providers, Config{NumRetries: 0, Timeout: time.Second, CooldownTime: time.Minute, AllowedFails: 0}, zerolog.Nop(), func(id string) { cooledDown = id })

	resp, attempts, err := eng.Execute(context.Background(), model.RequestContext{Group: "gpt-4o"}, primary, callThroughFake)
	require.NoError(t, err)
	require.Equal(t, "resp-secondary", resp.ID)
	require.Len(t, attempts, 1)
	require.Equal(t, "primary", attempts[0].DeploymentID)
	require.Equal(t, "primary", cooledDown)
	require.Equal(t, 1, calls["primary"])
	require.Equal(t, 1, calls["secondary"])
}

func TestExecute_NonRetryableErrorFailsWholeChainImmediately(t *testing.T) {
	store := newTestStore(t)
	primary := dep("primary", 0)
	secondary := dep("secondary", 0)
	reg := buildReg(primary, secondary)
	rt := router.New(reg, store, router.StrategyLeastBusy, false)

	providers := provider.NewRegistry()
	calls := map[string]int{}
	dispatch := &dispatchProvider{
		onCall: func(d *model.Deployment) (*model.ChatResponse, error) {
			calls[d.ID]++
			return nil, model.NewError(model.ErrAuthentication, "bad upstream credentials")
		},
	}
	providers.Register(dispatch)

	eng := New(reg, store, rt, providers, Config{NumRetries: 0, Timeout: time.Second, CooldownTime: time.Minute, AllowedFails: 5}, zerolog.Nop(), nil)

	_, attempts, err := eng.Execute(context.Background(), model.RequestContext{Group: "gpt-4o"}, primary, callThroughFake)
	require.Error(t, err)
	require.Equal(t, model.ErrAllDeploymentsExhausted, model.AsGatewayError(err).Kind)
	require.Len(t, attempts, 1)
	require.Equal(t, 0, calls["secondary"])
}

func TestTryDeployment_RetriesRetryableErrorUpToNumRetries(t *testing.T) {
	store := newTestStore(t)
	primary := dep("primary", 0)
	reg := buildReg(primary)
	rt := router.New(reg, store, router.StrategyLeastBusy, false)

	providers := provider.NewRegistry()
	attemptCount := 0
	dispatch := &dispatchProvider{
		onCall: func(d *model.Deployment) (*model.ChatResponse, error) {
			attemptCount++
			if attemptCount < 3 {
				return nil, model.NewError(model.ErrUpstreamUnavailable, "transient")
			}
			return &model.ChatResponse{ID: "resp-ok"}, nil
		},
	}
	providers.Register(dispatch)

	eng := New(reg, store, rt, providers, Config{NumRetries: 2, RetryAfter: time.Millisecond, Timeout: time.Second, CooldownTime: time.Minute, AllowedFails: 5}, zerolog.Nop(), nil)

	resp, _, err := eng.Execute(context.Background(), model.RequestContext{Group: "gpt-4o"}, primary, callThroughFake)
	require.NoError(t, err)
	require.Equal(t, "resp-ok", resp.ID)
	require.Equal(t, 3, attemptCount)
}

// dispatchProvider lets tests branch on which deployment a call targets.
type dispatchProvider struct {
	onCall func(d *model.Deployment) (*model.ChatResponse, error)
}

func (d *dispatchProvider) Kind() model.ProviderKind { return model.ProviderOpenAI }
func (d *dispatchProvider) CompleteSync(ctx context.Context, req *model.ChatRequest, dep *model.Deployment) (*model.ChatResponse, error) {
	return d.onCall(dep)
}
func (d *dispatchProvider) CompleteStream(ctx context.Context, req *model.ChatRequest, dep *model.Deployment) (provider.Stream, error) {
	return nil, model.NewError(model.ErrInternal, "not implemented")
}
func (d *dispatchProvider) Embed(ctx context.Context, req *model.EmbeddingsRequest, dep *model.Deployment) (*model.EmbeddingsResponse, error) {
	return nil, model.NewError(model.ErrInternal, "not implemented")
}
