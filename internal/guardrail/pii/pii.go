// Package pii implements a PII detector/masker guardrail.
package pii

import (
	"context"
	"regexp"

	"github.com/corewave-ai/litegate/internal/guardrail"
	"github.com/corewave-ai/litegate/internal/model"
)

// Entity is one kind of detectable PII.
type Entity string

const (
	EntityEmail Entity = "EMAIL_ADDRESS"
	EntityPhone Entity = "PHONE_NUMBER"
	EntitySSN   Entity = "US_SSN"
)

var patterns = map[Entity]*regexp.Regexp{
	EntityEmail: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	EntityPhone: regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	EntitySSN:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
}

// Guardrail masks configured PII entity types in message content before
// forwarding to the provider.
type Guardrail struct {
	guardrail.BaseGuardrail
	entities  []Entity
	action    guardrail.Action
	defaultOn bool
}

// New creates a PII guardrail over the given entity set.
func New(entities []Entity, action guardrail.Action, defaultOn bool) *Guardrail {
	if len(entities) == 0 {
		entities = []Entity{EntityEmail, EntityPhone, EntitySSN}
	}
	return &Guardrail{entities: entities, action: action, defaultOn: defaultOn}
}

func (g *Guardrail) Name() string            { return "pii" }
func (g *Guardrail) Mode() guardrail.Mode    { return guardrail.ModePreCall }
func (g *Guardrail) Action() guardrail.Action { return g.action }
func (g *Guardrail) DefaultOn() bool         { return g.defaultOn }

// PreCall masks every configured entity found in string message content,
// returning a mutated request. Masking is never itself a block — PII
// guardrails anonymize and continue.
func (g *Guardrail) PreCall(_ context.Context, _ *model.PrincipalContext, req *model.ChatRequest) (guardrail.Outcome, error) {
	found := false
	mutated := *req
	messages := make([]model.ChatMessage, len(req.Messages))
	copy(messages, req.Messages)

	for i, msg := range messages {
		text, ok := msg.Content.(string)
		if !ok {
			continue
		}
		masked := text
		for _, e := range g.entities {
			re := patterns[e]
			if re == nil {
				continue
			}
			if re.MatchString(masked) {
				found = true
				masked = re.ReplaceAllString(masked, "<"+string(e)+">")
			}
		}
		if masked != text {
			messages[i].Content = masked
		}
	}
	mutated.Messages = messages

	if !found {
		return guardrail.Outcome{}, nil
	}
	return guardrail.Outcome{MutatedChat: &mutated, ViolationKind: "pii_detected"}, nil
}
