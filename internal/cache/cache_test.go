package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/statestore"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.New("redis://127.0.0.1:1/0", zerolog.Nop())
	require.NoError(t, err)
	return store
}

func sampleRequest(content string) *model.ChatRequest {
	return &model.ChatRequest{
		Model:    "gpt-4o",
		Messages: []model.ChatMessage{{Role: "user", Content: content}},
	}
}

func TestWriteLookupRoundTrip(t *testing.T) {
	e := New(newTestStore(t), time.Hour)
	ctx := context.Background()

	key, err := Key(sampleRequest("hello"))
	require.NoError(t, err)

	err = e.Write(ctx, key, &model.CacheEntry{Response: []byte(`{"id":"abc"}`), Model: "gpt-4o"}, nil)
	require.NoError(t, err)

	entry, ok := e.Lookup(ctx, key)
	require.True(t, ok)
	require.Equal(t, "gpt-4o", entry.Model)
	require.JSONEq(t, `{"id":"abc"}`, string(entry.Response))
}

func TestLookup_MissReturnsFalseNotError(t *testing.T) {
	e := New(newTestStore(t), time.Hour)
	_, ok := e.Lookup(context.Background(), "cache:fp:doesnotexist")
	require.False(t, ok)
}

func TestFingerprint_StableAcrossFieldOrderAndFloatPrecision(t *testing.T) {
	temp1 := 0.7000001
	temp2 := 0.6999999
	r1 := &model.ChatRequest{
		Model:       "gpt-4o",
		Messages:    []model.ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: &temp1,
	}
	r2 := &model.ChatRequest{
		Temperature: &temp2,
		Model:       "gpt-4o",
		Messages:    []model.ChatMessage{{Role: "user", Content: "hi"}},
	}

	fp1, err := Fingerprint(r1)
	require.NoError(t, err)
	fp2, err := Fingerprint(r2)
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)
}

func TestFingerprint_DiffersOnMessageContent(t *testing.T) {
	fp1, err := Fingerprint(sampleRequest("hello"))
	require.NoError(t, err)
	fp2, err := Fingerprint(sampleRequest("goodbye"))
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)
}

func TestKey_HonorsCacheKeyOverride(t *testing.T) {
	req := sampleRequest("hi")
	req.Metadata = &model.RequestMeta{CacheKey: "pinned-key"}
	key, err := Key(req)
	require.NoError(t, err)
	require.Equal(t, "cache:override:pinned-key", key)
}

func TestResolveMode(t *testing.T) {
	require.Equal(t, ModeDefault, ResolveMode(nil))
	require.Equal(t, ModeDefault, ResolveMode(&model.RequestMeta{}))
	require.Equal(t, ModeNoCache, ResolveMode(&model.RequestMeta{CacheMode: "no-cache"}))
	require.Equal(t, ModeNoStore, ResolveMode(&model.RequestMeta{CacheMode: "no-store"}))
	require.Equal(t, ModeBypass, ResolveMode(&model.RequestMeta{CacheMode: "bypass"}))
}

func TestReconstructStream_ConcatenationReproducesContent(t *testing.T) {
	content := "the quick brown fox jumps"
	chunks := ReconstructStream("resp-1", "gpt-4o", content)
	require.NotEmpty(t, chunks)

	var rebuilt strings.Builder
	var sawFinish bool
	for _, c := range chunks {
		require.Len(t, c.Choices, 1)
		if c.Choices[0].FinishReason != nil {
			sawFinish = true
			continue
		}
		delta, _ := c.Choices[0].Delta.Content.(string)
		rebuilt.WriteString(delta)
	}
	require.True(t, sawFinish)
	require.Equal(t, content, rebuilt.String())
}

func TestReconstructStream_EmptyContentStillEmitsFinishChunk(t *testing.T) {
	chunks := ReconstructStream("resp-2", "gpt-4o", "")
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Choices[0].FinishReason)
}
