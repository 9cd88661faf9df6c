// Package tokencount estimates token counts ahead of a provider call, for
// TPM rate-limit reservation and the context-window-fallback check.
// Uses a character-based heuristic rather than a real tokenizer —
// sufficient for reservation and fallback-threshold purposes, and
// replaced post-call by the provider's reported Usage. Message content,
// a plain string or multi-part content, is stringified via fmt.Sprint
// before estimation; tool calls add the estimates of their function
// name and arguments.
package tokencount

import (
	"fmt"

	"github.com/corewave-ai/litegate/internal/model"
)

// Counter estimates token counts.
type Counter struct{}

// NewCounter creates a Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// EstimateRequest estimates the total prompt token count for req.
func (c *Counter) EstimateRequest(req *model.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += 4 // per-message overhead
		total += estimateTokens(m.Role)
		total += estimateTokens(fmt.Sprint(m.Content))
		if m.Name != "" {
			total += estimateTokens(m.Name) + 1
		}
		for _, tc := range m.ToolCalls {
			total += estimateTokens(tc.Function.Name) + estimateTokens(tc.Function.Arguments)
		}
	}
	total += 3
	if total < 1 {
		return 1
	}
	return total
}

// EstimateEmbeddingsRequest estimates the input token count of an
// embeddings request, whose input may be a single string or a batch.
func (c *Counter) EstimateEmbeddingsRequest(req *model.EmbeddingsRequest) int {
	switch v := req.Input.(type) {
	case string:
		return estimateTokens(v)
	case []interface{}:
		total := 0
		for _, item := range v {
			total += estimateTokens(fmt.Sprint(item))
		}
		if total < 1 {
			return 1
		}
		return total
	default:
		return estimateTokens(fmt.Sprint(req.Input))
	}
}

// estimateTokens uses a ~4-characters-per-token heuristic.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
