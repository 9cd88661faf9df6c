package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/corewave-ai/litegate/internal/model"
)

// AnthropicAdapter translates between the OpenAI-shaped canonical request
// and Anthropic's Messages API, normalizing tool calls back to the
// OpenAI tool_calls shape on the way out so every adapter presents the
// same response shape regardless of upstream vendor.
type AnthropicAdapter struct {
	client  *http.Client
	baseURL string
}

// NewAnthropicAdapter creates an adapter pointed at baseURL.
func NewAnthropicAdapter(client *http.Client, baseURL string) *AnthropicAdapter {
	return &AnthropicAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *AnthropicAdapter) Kind() model.ProviderKind { return model.ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	Messages    []anthropicMessage  `json:"messages"`
	System      string              `json:"system,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	Tools       []anthropicTool     `json:"tools,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func toAnthropicRequest(req *model.ChatRequest, d *model.Deployment) anthropicRequest {
	out := anthropicRequest{
		Model:       d.ProviderModelName,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	} else {
		out.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		text, _ := m.Content.(string)
		if m.Role == "system" {
			out.System = text
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: m.Role, Content: text})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return out
}

// toChatResponse normalizes an Anthropic response into the OpenAI
// tool_calls shape: every tool_use content block becomes a ToolCall.
func toChatResponse(resp *anthropicResponse) *model.ChatResponse {
	var textParts []string
	var toolCalls []model.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, model.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: model.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	finish := "stop"
	switch resp.StopReason {
	case "tool_use":
		finish = "tool_calls"
	case "max_tokens":
		finish = "length"
	}
	return &model.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Model:   resp.Model,
		Choices: []model.Choice{{
			Index: 0,
			Message: model.ChatMessage{
				Role:      "assistant",
				Content:   strings.Join(textParts, ""),
				ToolCalls: toolCalls,
			},
			FinishReason: finish,
		}},
		Usage: model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func (a *AnthropicAdapter) CompleteSync(ctx context.Context, req *model.ChatRequest, d *model.Deployment) (*model.ChatResponse, error) {
	payload := toAnthropicRequest(req, d)
	payload.Stream = false
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidRequest, "marshal request", err)
	}

	httpResp, err := a.doRequest(ctx, body, d)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if err := classifyHTTPStatus(httpResp.StatusCode); err != nil {
		return nil, decodeProviderError(httpResp)
	}

	var resp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, model.Wrap(model.ErrUpstreamUnavailable, "decode response", err)
	}
	return toChatResponse(&resp), nil
}

func (a *AnthropicAdapter) CompleteStream(ctx context.Context, req *model.ChatRequest, d *model.Deployment) (Stream, error) {
	resp, err := a.CompleteSync(ctx, req, d)
	if err != nil {
		return nil, err
	}
	return &syntheticStream{response: resp}, nil
}

func (a *AnthropicAdapter) Embed(ctx context.Context, req *model.EmbeddingsRequest, d *model.Deployment) (*model.EmbeddingsResponse, error) {
	return nil, model.NewError(model.ErrInvalidRequest, "anthropic deployments do not support embeddings")
}

func (a *AnthropicAdapter) doRequest(ctx context.Context, body []byte, d *model.Deployment) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, model.Wrap(model.ErrInternal, "build provider request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", resolveCredential(d.CredentialsRef))
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.Wrap(model.ErrTimeout, "provider call timed out", err)
		}
		return nil, model.Wrap(model.ErrUpstreamUnavailable, "provider call failed", err)
	}
	return resp, nil
}

// syntheticStream turns a single assembled ChatResponse into a one-shot
// Stream, for providers accessed here only in non-streaming mode.
type syntheticStream struct {
	response *model.ChatResponse
	sent     bool
}

func (s *syntheticStream) Next() (*model.StreamChunk, error) {
	if s.sent {
		return nil, io.EOF
	}
	s.sent = true
	content := ""
	if len(s.response.Choices) > 0 {
		if c, ok := s.response.Choices[0].Message.Content.(string); ok {
			content = c
		}
	}
	finish := "stop"
	if len(s.response.Choices) > 0 {
		finish = s.response.Choices[0].FinishReason
	}
	return &model.StreamChunk{
		ID:      s.response.ID,
		Object:  "chat.completion.chunk",
		Model:   s.response.Model,
		Choices: []model.StreamChoice{{
			Index:        0,
			Delta:        model.ChatMessage{Content: content},
			FinishReason: &finish,
		}},
	}, nil
}

func (s *syntheticStream) Close() error { return nil }
