package pii

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/guardrail"
	"github.com/corewave-ai/litegate/internal/model"
)

func TestPreCall_MasksEmailAndLeavesOutcomeUnblocked(t *testing.T) {
	g := New(nil, guardrail.ActionBlock, true)
	req := &model.ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "contact me at jane.doe@example.com please"}},
	}

	outcome, err := g.PreCall(context.Background(), &model.PrincipalContext{}, req)
	require.NoError(t, err)
	require.False(t, outcome.Blocked, "masking is never itself a block")
	require.NotNil(t, outcome.MutatedChat)
	masked, _ := outcome.MutatedChat.Messages[0].Content.(string)
	require.Contains(t, masked, "<EMAIL_ADDRESS>")
	require.NotContains(t, masked, "jane.doe@example.com")
}

func TestPreCall_NoOutcomeWhenNothingMatches(t *testing.T) {
	g := New(nil, guardrail.ActionBlock, true)
	req := &model.ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "nothing sensitive here"}},
	}

	outcome, err := g.PreCall(context.Background(), &model.PrincipalContext{}, req)
	require.NoError(t, err)
	require.Nil(t, outcome.MutatedChat)
}

func TestPreCall_MasksSSN(t *testing.T) {
	g := New([]Entity{EntitySSN}, guardrail.ActionLog, true)
	req := &model.ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "my ssn is 123-45-6789"}},
	}

	outcome, err := g.PreCall(context.Background(), &model.PrincipalContext{}, req)
	require.NoError(t, err)
	require.NotNil(t, outcome.MutatedChat)
	masked, _ := outcome.MutatedChat.Messages[0].Content.(string)
	require.Contains(t, masked, "<US_SSN>")
}

func TestPreCall_OnlyConfiguredEntitiesChecked(t *testing.T) {
	g := New([]Entity{EntitySSN}, guardrail.ActionBlock, true)
	req := &model.ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: "email jane@example.com"}},
	}

	outcome, err := g.PreCall(context.Background(), &model.PrincipalContext{}, req)
	require.NoError(t, err)
	require.Nil(t, outcome.MutatedChat, "SSN-only guardrail should not touch an email address")
}
