package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
)

func TestRegistry_GetReturnsRegisteredProviderByKind(t *testing.T) {
	reg := NewRegistry()
	adapter := NewOpenAIAdapter(http.DefaultClient, "http://example.invalid")
	reg.Register(adapter)

	p, ok := reg.Get(model.ProviderOpenAI)
	require.True(t, ok)
	require.Equal(t, model.ProviderOpenAI, p.Kind())

	_, ok = reg.Get(model.ProviderAnthropic)
	require.False(t, ok)
}

func TestOpenAIAdapter_CompleteSync_DecodesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		var body model.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-4o-deployment", body.Model)
		require.False(t, body.Stream)

		json.NewEncoder(w).Encode(model.ChatResponse{
			ID: "resp-1", Model: "gpt-4o-deployment",
			Choices: []model.Choice{{Index: 0, Message: model.ChatMessage{Role: "assistant", Content: "hi"}, FinishReason: "stop"}},
		})
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(http.DefaultClient, srv.URL)
	d := &model.Deployment{ProviderModelName: "gpt-4o-deployment", CredentialsRef: "secret-key"}

	resp, err := adapter.CompleteSync(context.Background(), &model.ChatRequest{Model: "gpt-4o"}, d)
	require.NoError(t, err)
	require.Equal(t, "resp-1", resp.ID)
}

func TestOpenAIAdapter_CompleteSync_MapsUpstreamErrorStatusToErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "slow down", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(http.DefaultClient, srv.URL)
	d := &model.Deployment{ProviderModelName: "gpt-4o"}

	_, err := adapter.CompleteSync(context.Background(), &model.ChatRequest{Model: "gpt-4o"}, d)
	require.Error(t, err)
	require.Equal(t, model.ErrProviderRateLimit, model.AsGatewayError(err).Kind)
}

func TestOpenAIAdapter_CompleteSync_TimeoutMapsToErrTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(http.DefaultClient, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := adapter.CompleteSync(ctx, &model.ChatRequest{Model: "gpt-4o"}, &model.Deployment{})
	require.Error(t, err)
	require.Equal(t, model.ErrTimeout, model.AsGatewayError(err).Kind)
}

func TestGenericAdapter_KindIsGenericNotOpenAI(t *testing.T) {
	adapter := NewGenericAdapter(http.DefaultClient, "http://example.invalid")
	require.Equal(t, model.ProviderGeneric, adapter.Kind())
}

func TestAnthropicAdapter_CompleteSync_NormalizesToolUseToToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		json.NewEncoder(w).Encode(anthropicResponse{
			ID:    "msg-1",
			Model: "claude-3",
			Content: []anthropicContentBlock{
				{Type: "tool_use", ID: "call-1", Name: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
			},
			StopReason: "tool_use",
		})
	}))
	defer srv.Close()

	adapter := NewAnthropicAdapter(http.DefaultClient, srv.URL)
	d := &model.Deployment{ProviderModelName: "claude-3"}

	resp, err := adapter.CompleteSync(context.Background(), &model.ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "go"}},
	}, d)
	require.NoError(t, err)
	require.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	require.Equal(t, "lookup", resp.Choices[0].Message.ToolCalls[0].Function.Name)
}

func TestAnthropicAdapter_Embed_NotSupported(t *testing.T) {
	adapter := NewAnthropicAdapter(http.DefaultClient, "http://example.invalid")
	_, err := adapter.Embed(context.Background(), &model.EmbeddingsRequest{}, &model.Deployment{})
	require.Error(t, err)
}

func TestToAnthropicRequest_SplitsSystemMessageOut(t *testing.T) {
	req := &model.ChatRequest{
		Messages: []model.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	}
	out := toAnthropicRequest(req, &model.Deployment{ProviderModelName: "claude-3"})
	require.Equal(t, "be terse", out.System)
	require.Len(t, out.Messages, 1)
	require.Equal(t, "user", out.Messages[0].Role)
}

func TestNewHealthPoller_ClampsIntervalToFiveSecondMinimum(t *testing.T) {
	p := NewHealthPoller(nil, nil, zerolog.Nop(), time.Second, func(ctx context.Context, d *model.Deployment) error { return nil })
	require.Equal(t, 5*time.Second, p.interval)
}
