package spend

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/statestore"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.New("redis://127.0.0.1:1/0", zerolog.Nop())
	require.NoError(t, err)
	return store
}

func floatp(v float64) *float64 { return &v }

func TestCheckHardBudget_AllowsUntilLimitReached(t *testing.T) {
	a := NewAccountant(newTestStore(t))
	ctx := context.Background()
	p := &model.PrincipalContext{
		KeyID: "k1",
		Limits: map[model.ScopeKind]model.ScopeLimits{
			model.ScopeKey: {MaxBudget: floatp(10)},
		},
	}

	require.NoError(t, a.CheckHardBudget(ctx, p))
}

func TestCheckHardBudget_BlocksOnlyTheNextRequestAfterCrossing(t *testing.T) {
	a := NewAccountant(newTestStore(t))
	ctx := context.Background()
	p := &model.PrincipalContext{
		KeyID: "k2",
		Limits: map[model.ScopeKind]model.ScopeLimits{
			model.ScopeKey: {MaxBudget: floatp(5)},
		},
	}

	// Pre-request state is under budget: the request that pushes spend
	// over the limit is itself allowed to complete.
	require.NoError(t, a.CheckHardBudget(ctx, p))
	a.AddSpend(ctx, p, 6, time.Hour)

	// Only the following request observes the crossed budget and is
	// rejected.
	err := a.CheckHardBudget(ctx, p)
	require.Error(t, err)
	ge := model.AsGatewayError(err)
	require.Equal(t, model.ErrBudgetExceeded, ge.Kind)
	require.Equal(t, string(model.ScopeKey), ge.Scope)
}

func TestCheckHardBudget_NoLimitConfiguredAlwaysAllows(t *testing.T) {
	a := NewAccountant(newTestStore(t))
	p := &model.PrincipalContext{KeyID: "k3"}

	require.NoError(t, a.CheckHardBudget(context.Background(), p))
}

func TestSoftBudgetCrossed(t *testing.T) {
	a := NewAccountant(newTestStore(t))
	ctx := context.Background()
	p := &model.PrincipalContext{
		KeyID: "k4",
		Limits: map[model.ScopeKind]model.ScopeLimits{
			model.ScopeKey: {SoftBudget: floatp(1)},
		},
	}

	require.Empty(t, a.SoftBudgetCrossed(ctx, p))

	a.AddSpend(ctx, p, 1.5, time.Hour)
	crossed := a.SoftBudgetCrossed(ctx, p)
	require.Equal(t, []model.ScopeKind{model.ScopeKey}, crossed)
}

func TestAddSpend_AccumulatesAcrossCalls(t *testing.T) {
	a := NewAccountant(newTestStore(t))
	ctx := context.Background()
	p := &model.PrincipalContext{
		KeyID: "k5",
		Limits: map[model.ScopeKind]model.ScopeLimits{
			model.ScopeKey: {MaxBudget: floatp(3)},
		},
	}

	a.AddSpend(ctx, p, 1, time.Hour)
	a.AddSpend(ctx, p, 1, time.Hour)
	require.NoError(t, a.CheckHardBudget(ctx, p))

	a.AddSpend(ctx, p, 1.5, time.Hour)
	require.Error(t, a.CheckHardBudget(ctx, p))
}

func TestResetScope_ZeroesCounter(t *testing.T) {
	a := NewAccountant(newTestStore(t))
	ctx := context.Background()
	p := &model.PrincipalContext{
		KeyID: "k6",
		Limits: map[model.ScopeKind]model.ScopeLimits{
			model.ScopeKey: {MaxBudget: floatp(1)},
		},
	}

	a.AddSpend(ctx, p, 2, time.Hour)
	require.Error(t, a.CheckHardBudget(ctx, p))

	a.ResetScope(ctx, model.ScopeKey, p.KeyID, time.Hour)
	require.NoError(t, a.CheckHardBudget(ctx, p))
}
