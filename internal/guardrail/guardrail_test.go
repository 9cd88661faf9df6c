package guardrail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
)

// stubGuardrail lets tests control block/log behavior directly.
type stubGuardrail struct {
	BaseGuardrail
	name      string
	mode      Mode
	action    Action
	defaultOn bool
	blockPre  bool
}

func (s *stubGuardrail) Name() string    { return s.name }
func (s *stubGuardrail) Mode() Mode      { return s.mode }
func (s *stubGuardrail) Action() Action  { return s.action }
func (s *stubGuardrail) DefaultOn() bool { return s.defaultOn }
func (s *stubGuardrail) PreCall(ctx context.Context, p *model.PrincipalContext, req *model.ChatRequest) (Outcome, error) {
	if s.blockPre {
		return Outcome{Blocked: true, ViolationKind: "stub_violation"}, nil
	}
	return Outcome{}, nil
}

func TestRunPreCall_BlockActionReturnsGuardrailError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubGuardrail{name: "blocker", mode: ModePreCall, action: ActionBlock, defaultOn: true, blockPre: true})
	runner := NewRunner(reg)

	_, err := runner.RunPreCall(context.Background(), &model.PrincipalContext{}, &model.ChatRequest{})
	require.Error(t, err)
	ge := model.AsGatewayError(err)
	require.Equal(t, model.ErrGuardrailViolation, ge.Kind)
	require.Equal(t, "blocker", ge.Guardrail)
}

func TestRunPreCall_LogActionContinuesAndRecordsViolation(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubGuardrail{name: "logger", mode: ModePreCall, action: ActionLog, defaultOn: true, blockPre: true})
	runner := NewRunner(reg)

	req, err := runner.RunPreCall(context.Background(), &model.PrincipalContext{}, &model.ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", req.Model)

	violations := reg.Violations()
	require.Len(t, violations, 1)
	require.Equal(t, "logger", violations[0].Guardrail)
}

func TestResolve_NotDefaultOnIsSkippedUnlessIncluded(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubGuardrail{name: "optional", mode: ModePreCall, action: ActionBlock, defaultOn: false, blockPre: true})
	runner := NewRunner(reg)

	// Not default-on and not included: never runs, so no block occurs.
	_, err := runner.RunPreCall(context.Background(), &model.PrincipalContext{}, &model.ChatRequest{})
	require.NoError(t, err)

	// Explicitly included: now it runs and blocks.
	_, err = runner.RunPreCall(context.Background(), &model.PrincipalContext{
		GuardrailsPolicy: model.GuardrailPolicy{Include: []string{"optional"}},
	}, &model.ChatRequest{})
	require.Error(t, err)
}

func TestResolve_ExcludeOverridesDefaultOn(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubGuardrail{name: "always-on", mode: ModePreCall, action: ActionBlock, defaultOn: true, blockPre: true})
	runner := NewRunner(reg)

	_, err := runner.RunPreCall(context.Background(), &model.PrincipalContext{
		GuardrailsPolicy: model.GuardrailPolicy{Exclude: []string{"always-on"}},
	}, &model.ChatRequest{})
	require.NoError(t, err)
}

func TestResolve_OverrideReplacesDefaultSet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubGuardrail{name: "default-on", mode: ModePreCall, action: ActionBlock, defaultOn: true, blockPre: true})
	reg.Register(&stubGuardrail{name: "override-only", mode: ModePreCall, action: ActionBlock, defaultOn: false, blockPre: false})
	runner := NewRunner(reg)

	// Override set names only "override-only", which never blocks, so the
	// default-on "default-on" guardrail must not run despite being
	// default-on.
	_, err := runner.RunPreCall(context.Background(), &model.PrincipalContext{
		GuardrailsPolicy: model.GuardrailPolicy{Override: []string{"override-only"}},
	}, &model.ChatRequest{})
	require.NoError(t, err)
}
