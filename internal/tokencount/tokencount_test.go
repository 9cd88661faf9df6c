package tokencount

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
)

func TestEstimateRequest_NonZeroForNonEmptyMessages(t *testing.T) {
	c := NewCounter()
	req := &model.ChatRequest{
		Model: "gpt-4o",
		Messages: []model.ChatMessage{
			{Role: "user", Content: "hello there, how are you doing today?"},
		},
	}
	require.Greater(t, c.EstimateRequest(req), 0)
}

func TestEstimateRequest_LongerContentEstimatesMoreTokens(t *testing.T) {
	c := NewCounter()
	short := &model.ChatRequest{Messages: []model.ChatMessage{{Role: "user", Content: "hi"}}}
	long := &model.ChatRequest{Messages: []model.ChatMessage{{Role: "user", Content: "this is a much longer message with many more characters in it"}}}
	require.Greater(t, c.EstimateRequest(long), c.EstimateRequest(short))
}

func TestEstimateRequest_NeverReturnsLessThanOne(t *testing.T) {
	c := NewCounter()
	req := &model.ChatRequest{}
	require.GreaterOrEqual(t, c.EstimateRequest(req), 1)
}

func TestEstimateEmbeddingsRequest_SingleString(t *testing.T) {
	c := NewCounter()
	req := &model.EmbeddingsRequest{Input: "a reasonably long string to embed"}
	require.Greater(t, c.EstimateEmbeddingsRequest(req), 0)
}

func TestEstimateEmbeddingsRequest_BatchSumsEachItem(t *testing.T) {
	c := NewCounter()
	single := &model.EmbeddingsRequest{Input: "repeat me four times over"}
	batch := &model.EmbeddingsRequest{Input: []interface{}{
		"repeat me four times over",
		"repeat me four times over",
		"repeat me four times over",
		"repeat me four times over",
	}}
	require.Equal(t, c.EstimateEmbeddingsRequest(single)*4, c.EstimateEmbeddingsRequest(batch))
}

func TestEstimateEmbeddingsRequest_EmptyBatchReturnsOne(t *testing.T) {
	c := NewCounter()
	req := &model.EmbeddingsRequest{Input: []interface{}{}}
	require.Equal(t, 1, c.EstimateEmbeddingsRequest(req))
}
