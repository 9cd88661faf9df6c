package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
)

func TestResolve_ByCanonicalName(t *testing.T) {
	reg := New()
	reg.Swap(NewBuilder().
		AddGroup(&model.ModelGroup{Name: "gpt-4o"}).
		Build())

	g, err := reg.Current().Resolve("gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", g.Name)
}

func TestResolve_ByAlias(t *testing.T) {
	reg := New()
	reg.Swap(NewBuilder().
		AddGroup(&model.ModelGroup{Name: "gpt-4o", Aliases: []string{"gpt-4o-latest"}}).
		Build())

	g, err := reg.Current().Resolve("gpt-4o-latest")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", g.Name)
}

func TestResolve_UnknownNameReturnsModelNotFound(t *testing.T) {
	reg := New()
	reg.Swap(NewBuilder().AddGroup(&model.ModelGroup{Name: "gpt-4o"}).Build())

	_, err := reg.Current().Resolve("does-not-exist")
	require.Error(t, err)
	require.Equal(t, model.ErrModelNotFound, model.AsGatewayError(err).Kind)
}

func TestDeployments_ReturnsInDeclaredOrderAndSkipsMissing(t *testing.T) {
	reg := New()
	group := &model.ModelGroup{Name: "gpt-4o", DeploymentIDs: []string{"dep-a", "dep-missing", "dep-b"}}
	reg.Swap(NewBuilder().
		AddGroup(group).
		AddDeployment(&model.Deployment{ID: "dep-a"}).
		AddDeployment(&model.Deployment{ID: "dep-b"}).
		Build())

	deps := reg.Current().Deployments(group)
	require.Len(t, deps, 2)
	require.Equal(t, "dep-a", deps[0].ID)
	require.Equal(t, "dep-b", deps[1].ID)
}

func TestSwap_ReplacesSnapshotAtomicallyWithoutMutatingThePrevious(t *testing.T) {
	reg := New()
	first := NewBuilder().AddGroup(&model.ModelGroup{Name: "v1"}).Build()
	reg.Swap(first)

	held := reg.Current()
	_, err := held.Resolve("v1")
	require.NoError(t, err)

	second := NewBuilder().AddGroup(&model.ModelGroup{Name: "v2"}).Build()
	reg.Swap(second)

	// The reference held from before the swap must still resolve its own
	// group and must not see the new one.
	_, err = held.Resolve("v1")
	require.NoError(t, err)
	_, err = held.Resolve("v2")
	require.Error(t, err)

	_, err = reg.Current().Resolve("v2")
	require.NoError(t, err)
}

func TestGroupNames_EmptyRegistryReturnsEmptySlice(t *testing.T) {
	reg := New()
	require.Empty(t, reg.Current().GroupNames())
}
