package spend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
)

func TestCalculate_BasicPromptAndCompletion(t *testing.T) {
	price := Price{InputCostPerToken: 0.01, OutputCostPerToken: 0.02}
	cost := Calculate(price, 100, 50, 0)
	require.InDelta(t, 100*0.01+50*0.02, cost, 1e-9)
}

func TestCalculate_CachedTokensUseDiscountRate(t *testing.T) {
	price := Price{InputCostPerToken: 0.01, OutputCostPerToken: 0.02, InputCostCachedPerToken: 0.001}
	// 100 prompt tokens, 40 of which were served from cache.
	cost := Calculate(price, 100, 0, 40)
	billable := 60.0
	want := billable*0.01 + 40*0.001
	require.InDelta(t, want, cost, 1e-9)
}

func TestCalculate_CachedTokensFallBackToInputRateWithoutDiscount(t *testing.T) {
	price := Price{InputCostPerToken: 0.01, OutputCostPerToken: 0.02}
	cost := Calculate(price, 100, 0, 40)
	// No cached-rate configured: cached tokens are billed at the normal
	// input rate, same as the remaining 60 billable tokens.
	require.InDelta(t, 100*0.01, cost, 1e-9)
}

func TestCalculate_IncludesPerRequestFee(t *testing.T) {
	price := Price{CostPerRequest: 0.5}
	cost := Calculate(price, 0, 0, 0)
	require.InDelta(t, 0.5, cost, 1e-9)
}

func TestCostTable_DeploymentOverrideWinsOverTableEntry(t *testing.T) {
	ct := NewCostTable()
	ct.Set(model.ProviderOpenAI, "custom-model", Price{InputCostPerToken: 1})

	d := &model.Deployment{
		ProviderKind:       model.ProviderOpenAI,
		ProviderModelName:  "custom-model",
		InputCostPerToken:  0.05,
		OutputCostPerToken: 0.1,
	}
	price := ct.Lookup(d)
	require.Equal(t, 0.05, price.InputCostPerToken)
	require.Equal(t, 0.1, price.OutputCostPerToken)
}

func TestCostTable_FallsBackToTableEntryWithoutOverride(t *testing.T) {
	ct := NewCostTable()
	d := &model.Deployment{ProviderKind: model.ProviderOpenAI, ProviderModelName: "gpt-4o"}
	price := ct.Lookup(d)
	require.Equal(t, 0.0000025, price.InputCostPerToken)
}

func TestCostTable_UnknownDeploymentReturnsZeroPrice(t *testing.T) {
	ct := NewCostTable()
	d := &model.Deployment{ProviderKind: model.ProviderOpenAI, ProviderModelName: "unknown-model"}
	require.Equal(t, Price{}, ct.Lookup(d))
}
