// Package spend implements cost calculation and spend accounting: the
// cost table, a pre-request budget check followed by post-request
// settlement (no amount is reserved before the call), and the
// append-only ledger write with atomic cumulative counters across the
// key/user/team/org scope hierarchy.
package spend

import (
	"sync"

	"github.com/corewave-ai/litegate/internal/model"
)

// Price is a (model, provider) cost table entry.
type Price struct {
	InputCostPerToken       float64
	OutputCostPerToken      float64
	InputCostCachedPerToken float64
	CostPerRequest          float64
}

// CostTable maps (provider, model) -> Price, with deployment-level
// overrides taking precedence over the table entry.
type CostTable struct {
	mu     sync.RWMutex
	prices map[string]Price
}

// NewCostTable creates a CostTable seeded with defaultPrices.
func NewCostTable() *CostTable {
	return &CostTable{prices: defaultPrices()}
}

func tableKey(provider model.ProviderKind, modelName string) string {
	return string(provider) + ":" + modelName
}

// Set registers or overrides a price entry.
func (t *CostTable) Set(provider model.ProviderKind, modelName string, p Price) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[tableKey(provider, modelName)] = p
}

// Lookup resolves the price for a deployment: deployment-level overrides
// win over the cost table.
func (t *CostTable) Lookup(d *model.Deployment) Price {
	if d.InputCostPerToken > 0 || d.OutputCostPerToken > 0 {
		return Price{
			InputCostPerToken:       d.InputCostPerToken,
			OutputCostPerToken:      d.OutputCostPerToken,
			InputCostCachedPerToken: d.InputCostCachedPerToken,
			CostPerRequest:          d.CostPerRequest,
		}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.prices[tableKey(d.ProviderKind, d.ProviderModelName)]; ok {
		return p
	}
	return Price{}
}

func defaultPrices() map[string]Price {
	return map[string]Price{
		"openai:gpt-4o":           {InputCostPerToken: 0.0000025, OutputCostPerToken: 0.00001},
		"openai:gpt-4o-mini":      {InputCostPerToken: 0.00000015, OutputCostPerToken: 0.0000006},
		"anthropic:claude-3-5-sonnet": {InputCostPerToken: 0.000003, OutputCostPerToken: 0.000015},
		"anthropic:claude-3-haiku":    {InputCostPerToken: 0.00000025, OutputCostPerToken: 0.00000125},
	}
}

// Calculate computes the USD cost of a completed request:
// promptTokens·input + completionTokens·output + costPerRequest, with
// the cached-token discount applied to cachedPromptTokens when the price
// entry reports one.
func Calculate(price Price, promptTokens, completionTokens, cachedPromptTokens int) float64 {
	billablePrompt := promptTokens - cachedPromptTokens
	if billablePrompt < 0 {
		billablePrompt = 0
	}
	cost := float64(billablePrompt)*price.InputCostPerToken + float64(completionTokens)*price.OutputCostPerToken
	if price.InputCostCachedPerToken > 0 {
		cost += float64(cachedPromptTokens) * price.InputCostCachedPerToken
	} else {
		cost += float64(cachedPromptTokens) * price.InputCostPerToken
	}
	cost += price.CostPerRequest
	return cost
}
