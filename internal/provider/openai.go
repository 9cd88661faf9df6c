package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/corewave-ai/litegate/internal/model"
)

// OpenAIAdapter talks to OpenAI-shaped chat completion endpoints. Because
// litegate's wire types already mirror the OpenAI shape, this adapter is
// a near-direct passthrough — translation work is concentrated in the
// Anthropic adapter instead.
type OpenAIAdapter struct {
	client  *http.Client
	baseURL string
}

// NewOpenAIAdapter creates an adapter pointed at baseURL (the real OpenAI
// API, or a compatible reverse proxy).
func NewOpenAIAdapter(client *http.Client, baseURL string) *OpenAIAdapter {
	return &OpenAIAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *OpenAIAdapter) Kind() model.ProviderKind { return model.ProviderOpenAI }

func (a *OpenAIAdapter) CompleteSync(ctx context.Context, req *model.ChatRequest, d *model.Deployment) (*model.ChatResponse, error) {
	out := *req
	out.Model = d.ProviderModelName
	out.Stream = false

	body, err := json.Marshal(out)
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidRequest, "marshal request", err)
	}

	httpResp, err := a.doRequest(ctx, "/chat/completions", body, d)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if err := classifyHTTPStatus(httpResp.StatusCode); err != nil {
		return nil, decodeProviderError(httpResp)
	}

	var resp model.ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, model.Wrap(model.ErrUpstreamUnavailable, "decode response", err)
	}
	return &resp, nil
}

func (a *OpenAIAdapter) CompleteStream(ctx context.Context, req *model.ChatRequest, d *model.Deployment) (Stream, error) {
	out := *req
	out.Model = d.ProviderModelName
	out.Stream = true

	body, err := json.Marshal(out)
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidRequest, "marshal request", err)
	}

	httpResp, err := a.doRequest(ctx, "/chat/completions", body, d)
	if err != nil {
		return nil, err
	}
	if err := classifyHTTPStatus(httpResp.StatusCode); err != nil {
		defer httpResp.Body.Close()
		return nil, decodeProviderError(httpResp)
	}
	return &sseStream{reader: bufio.NewReader(httpResp.Body), body: httpResp.Body}, nil
}

func (a *OpenAIAdapter) Embed(ctx context.Context, req *model.EmbeddingsRequest, d *model.Deployment) (*model.EmbeddingsResponse, error) {
	out := *req
	out.Model = d.ProviderModelName
	body, err := json.Marshal(out)
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidRequest, "marshal request", err)
	}
	httpResp, err := a.doRequest(ctx, "/embeddings", body, d)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if err := classifyHTTPStatus(httpResp.StatusCode); err != nil {
		return nil, decodeProviderError(httpResp)
	}
	var resp model.EmbeddingsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, model.Wrap(model.ErrUpstreamUnavailable, "decode response", err)
	}
	return &resp, nil
}

func (a *OpenAIAdapter) doRequest(ctx context.Context, path string, body []byte, d *model.Deployment) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, model.Wrap(model.ErrInternal, "build provider request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+resolveCredential(d.CredentialsRef))

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.Wrap(model.ErrTimeout, "provider call timed out", err)
		}
		return nil, model.Wrap(model.ErrUpstreamUnavailable, "provider call failed", err)
	}
	return resp, nil
}

// sseStream parses an OpenAI server-sent events chat completion stream.
type sseStream struct {
	reader *bufio.Reader
	body   io.ReadCloser
}

func (s *sseStream) Next() (*model.StreamChunk, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil, io.EOF
		}
		var chunk model.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		return &chunk, nil
	}
}

func (s *sseStream) Close() error { return s.body.Close() }

func classifyHTTPStatus(status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return fmt.Errorf("http status %d", status)
}

type providerErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func decodeProviderError(resp *http.Response) *model.GatewayError {
	var body providerErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	kind := classifyStatusKind(resp.StatusCode, body.Error.Type)
	return &model.GatewayError{Kind: kind, Message: body.Error.Message, Code: body.Error.Code}
}

// classifyStatusKind maps an upstream HTTP status and provider-reported
// error type onto a GatewayError kind; retryability/kind depend only on
// these two inputs, never on which provider raised it.
func classifyStatusKind(status int, errType string) model.ErrorKind {
	switch {
	case strings.Contains(errType, "context_length") || strings.Contains(errType, "context_window"):
		return model.ErrContextWindowExceeded
	case strings.Contains(errType, "content_filter") || strings.Contains(errType, "content_policy"):
		return model.ErrContentFilter
	case status == 401:
		return model.ErrAuthentication
	case status == 403:
		return model.ErrPermissionDenied
	case status == 404:
		return model.ErrModelNotFound
	case status == 408 || status == 504:
		return model.ErrTimeout
	case status == 429:
		return model.ErrProviderRateLimit
	case status == 400:
		return model.ErrInvalidRequest
	case status == 502 || status == 503:
		return model.ErrUpstreamUnavailable
	default:
		return model.ErrInternal
	}
}

// resolveCredential turns a CredentialsRef into raw key material. Actual
// secret resolution is an external concern; this is the seam a real
// deployment wires a secret-store lookup into.
func resolveCredential(ref string) string {
	return ref
}
