// Package guardrail implements the guardrail registry and runner: named
// pre/post-call hooks with block/log enforcement, resolved per request
// from a PrincipalContext's override/include/exclude policy.
package guardrail

import (
	"context"
	"sync"
	"time"

	"github.com/corewave-ai/litegate/internal/model"
)

// Mode is when a guardrail runs in the pipeline.
type Mode string

const (
	ModePreCall   Mode = "pre_call"
	ModePostCall  Mode = "post_call"
	ModeDuringCall Mode = "during_call"
)

// Action is what happens when a guardrail's check fails.
type Action string

const (
	ActionBlock Action = "block"
	ActionLog   Action = "log"
)

// Outcome is the typed result of a hook invocation: ok, mutate, or block.
type Outcome struct {
	Blocked       bool
	ViolationKind string
	MutatedChat   *model.ChatRequest
}

// Guardrail is a named policy hook. Implementations only need to provide
// the hooks relevant to their Mode; embedding BaseGuardrail supplies the
// rest as no-ops that always pass.
type Guardrail interface {
	Name() string
	Mode() Mode
	Action() Action
	DefaultOn() bool

	PreCall(ctx context.Context, principal *model.PrincipalContext, req *model.ChatRequest) (Outcome, error)
	PostCallSuccess(ctx context.Context, principal *model.PrincipalContext, req *model.ChatRequest, resp *model.ChatResponse) (Outcome, error)
	PostCallFailure(ctx context.Context, principal *model.PrincipalContext, req *model.ChatRequest, failure error)
}

// BaseGuardrail supplies no-op hook bodies so concrete guardrails only
// override what they need.
type BaseGuardrail struct{}

func (BaseGuardrail) PreCall(context.Context, *model.PrincipalContext, *model.ChatRequest) (Outcome, error) {
	return Outcome{}, nil
}
func (BaseGuardrail) PostCallSuccess(context.Context, *model.PrincipalContext, *model.ChatRequest, *model.ChatResponse) (Outcome, error) {
	return Outcome{}, nil
}
func (BaseGuardrail) PostCallFailure(context.Context, *model.PrincipalContext, *model.ChatRequest, error) {}

// ViolationEvent is recorded for every log-action violation and every
// block — used for audit/metrics, not enforcement.
type ViolationEvent struct {
	Guardrail string
	Kind      string
	Action    Action
	At        time.Time
}

// Registry holds every known guardrail. It is filled at startup by calling
// Register with already-constructed guardrails; there is no name → factory
// map and no dynamic decorator-based registration.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]Guardrail
	order      []string // registration order; pre-call hooks run in this order
	violations []ViolationEvent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Guardrail)}
}

// Register adds a guardrail, in call order. Re-registering the same name
// replaces it in place without changing its position.
func (r *Registry) Register(g Guardrail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[g.Name()]; !exists {
		r.order = append(r.order, g.Name())
	}
	r.byName[g.Name()] = g
}

func (r *Registry) recordViolation(e ViolationEvent) {
	r.mu.Lock()
	r.violations = append(r.violations, e)
	if len(r.violations) > 10000 {
		r.violations = r.violations[len(r.violations)-10000:]
	}
	r.mu.Unlock()
}

// Violations returns a snapshot of recorded violation events, most recent
// last.
func (r *Registry) Violations() []ViolationEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ViolationEvent, len(r.violations))
	copy(out, r.violations)
	return out
}

// resolve computes the ordered list of guardrails applicable to one
// request: override replaces the default-on set entirely, include adds
// to whichever set is active, and exclude always wins last.
func (r *Registry) resolve(policy model.GuardrailPolicy) []Guardrail {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if len(policy.Override) > 0 {
		names = append(names, policy.Override...)
		names = append(names, policy.Include...)
	} else {
		for _, n := range r.order {
			if g, ok := r.byName[n]; ok && g.DefaultOn() {
				names = append(names, n)
			}
		}
		names = append(names, policy.Include...)
	}

	excluded := make(map[string]struct{}, len(policy.Exclude))
	for _, n := range policy.Exclude {
		excluded[n] = struct{}{}
	}

	seen := make(map[string]struct{}, len(names))
	var resolved []Guardrail
	for _, n := range names {
		if _, skip := excluded[n]; skip {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		if g, ok := r.byName[n]; ok {
			resolved = append(resolved, g)
			seen[n] = struct{}{}
		}
	}
	return resolved
}

// Runner executes resolved guardrails for one request.
type Runner struct {
	registry *Registry
}

// NewRunner creates a Runner over registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// RunPreCall executes every applicable pre_call guardrail in registration
// order. Each guardrail sees the (possibly mutated) request produced by
// the previous one. A block violation returns a *model.GatewayError
// immediately; a log violation is recorded and execution continues.
func (run *Runner) RunPreCall(ctx context.Context, principal *model.PrincipalContext, req *model.ChatRequest) (*model.ChatRequest, error) {
	guardrails := run.registry.resolve(principal.GuardrailsPolicy)
	current := req
	for _, g := range guardrails {
		if g.Mode() != ModePreCall {
			continue
		}
		outcome, err := g.PreCall(ctx, principal, current)
		if err != nil {
			return current, model.Wrap(model.ErrInternal, "guardrail "+g.Name()+" failed", err)
		}
		if outcome.MutatedChat != nil {
			current = outcome.MutatedChat
		}
		if outcome.Blocked {
			run.registry.recordViolation(ViolationEvent{Guardrail: g.Name(), Kind: outcome.ViolationKind, Action: g.Action(), At: time.Now()})
			if g.Action() == ActionBlock {
				ge := model.NewError(model.ErrGuardrailViolation, "request blocked by guardrail "+g.Name())
				ge.Guardrail = g.Name()
				return current, ge
			}
		}
	}
	return current, nil
}

// RunPostCallSuccess executes every applicable post_call guardrail after
// a successful provider response. A block here means the client sees the
// guardrail error, not the provider result.
func (run *Runner) RunPostCallSuccess(ctx context.Context, principal *model.PrincipalContext, req *model.ChatRequest, resp *model.ChatResponse) error {
	guardrails := run.registry.resolve(principal.GuardrailsPolicy)
	for _, g := range guardrails {
		if g.Mode() != ModePostCall {
			continue
		}
		outcome, err := g.PostCallSuccess(ctx, principal, req, resp)
		if err != nil {
			return model.Wrap(model.ErrInternal, "guardrail "+g.Name()+" failed", err)
		}
		if outcome.Blocked {
			run.registry.recordViolation(ViolationEvent{Guardrail: g.Name(), Kind: outcome.ViolationKind, Action: g.Action(), At: time.Now()})
			if g.Action() == ActionBlock {
				ge := model.NewError(model.ErrGuardrailViolation, "response blocked by guardrail "+g.Name())
				ge.Guardrail = g.Name()
				return ge
			}
		}
	}
	return nil
}

// RunPostCallFailure notifies observation-only guardrails of a failed
// provider call.
func (run *Runner) RunPostCallFailure(ctx context.Context, principal *model.PrincipalContext, req *model.ChatRequest, failure error) {
	for _, g := range run.registry.resolve(principal.GuardrailsPolicy) {
		if g.Mode() == ModePostCall {
			g.PostCallFailure(ctx, principal, req, failure)
		}
	}
}
