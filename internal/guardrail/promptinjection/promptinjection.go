// Package promptinjection implements a prompt-injection classifier
// guardrail: an external HTTP moderation call under its own timeout
// with a fail_open policy option.
package promptinjection

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/corewave-ai/litegate/internal/guardrail"
	"github.com/corewave-ai/litegate/internal/model"
)

// Guardrail calls an external classifier service to score message
// content for injection attempts.
type Guardrail struct {
	guardrail.BaseGuardrail
	endpoint  string
	client    *http.Client
	threshold float64
	failOpen  bool
	action    guardrail.Action
	defaultOn bool
}

// Config configures the prompt-injection classifier guardrail.
type Config struct {
	Endpoint  string
	Timeout   time.Duration
	Threshold float64
	FailOpen  bool
	Action    guardrail.Action
	DefaultOn bool
}

// New creates a prompt-injection classifier guardrail.
func New(cfg Config) *Guardrail {
	return &Guardrail{
		endpoint:  cfg.Endpoint,
		client:    &http.Client{Timeout: cfg.Timeout},
		threshold: cfg.Threshold,
		failOpen:  cfg.FailOpen,
		action:    cfg.Action,
		defaultOn: cfg.DefaultOn,
	}
}

func (g *Guardrail) Name() string             { return "prompt_injection" }
func (g *Guardrail) Mode() guardrail.Mode     { return guardrail.ModePreCall }
func (g *Guardrail) Action() guardrail.Action { return g.action }
func (g *Guardrail) DefaultOn() bool          { return g.defaultOn }

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Score float64 `json:"score"`
}

// PreCall scores the last user message's content and blocks if the score
// reaches or exceeds the configured threshold. Classifier unavailability is handled
// per the fail_open setting: fail_open=true lets the request through,
// fail_open=false treats the call error as a block.
func (g *Guardrail) PreCall(ctx context.Context, _ *model.PrincipalContext, req *model.ChatRequest) (guardrail.Outcome, error) {
	text := lastUserText(req)
	if text == "" || g.endpoint == "" {
		return guardrail.Outcome{}, nil
	}

	body, _ := json.Marshal(classifyRequest{Text: text})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return g.onCallError(), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.onCallError(), nil
	}
	defer resp.Body.Close()

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.onCallError(), nil
	}
	if out.Score >= g.threshold {
		return guardrail.Outcome{Blocked: true, ViolationKind: "prompt_injection"}, nil
	}
	return guardrail.Outcome{}, nil
}

func (g *Guardrail) onCallError() guardrail.Outcome {
	if g.failOpen {
		return guardrail.Outcome{}
	}
	return guardrail.Outcome{Blocked: true, ViolationKind: "classifier_unavailable"}
}

func lastUserText(req *model.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		if s, ok := req.Messages[i].Content.(string); ok {
			return s
		}
	}
	return ""
}
