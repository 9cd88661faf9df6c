package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newDegradedStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("redis://127.0.0.1:1/0", zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNew_UnreachableRedisStartsDegradedNotError(t *testing.T) {
	s := newDegradedStore(t)
	require.False(t, s.isAvailable())
}

func TestIncrWithTTL_AccumulatesAndExpires(t *testing.T) {
	s := newDegradedStore(t)
	ctx := context.Background()

	v, err := s.IncrWithTTL(ctx, "k1", 1, time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = s.IncrWithTTL(ctx, "k1", 2, time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
}

func TestIncrWithTTL_ResetsAfterExpiry(t *testing.T) {
	s := newDegradedStore(t)
	ctx := context.Background()

	v, err := s.IncrWithTTL(ctx, "k-expiring", 1, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	time.Sleep(5 * time.Millisecond)

	v, err = s.IncrWithTTL(ctx, "k-expiring", 1, time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), v, "expired entry must reset rather than keep accumulating")
}

func TestGet_AbsentKeyReturnsZero(t *testing.T) {
	s := newDegradedStore(t)
	v, err := s.Get(context.Background(), "never-set")
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}

func TestSetExAndGetBytes_RoundTrip(t *testing.T) {
	s := newDegradedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "blob", []byte("payload"), time.Hour))
	v, ok := s.GetBytes(ctx, "blob")
	require.True(t, ok)
	require.Equal(t, []byte("payload"), v)
}

func TestGetBytes_MissIsNotAnError(t *testing.T) {
	s := newDegradedStore(t)
	_, ok := s.GetBytes(context.Background(), "missing-blob")
	require.False(t, ok)
}

func TestDel_RemovesKey(t *testing.T) {
	s := newDegradedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "to-delete", []byte("x"), time.Hour))
	s.Del(ctx, "to-delete")
	_, ok := s.GetBytes(ctx, "to-delete")
	require.False(t, ok)
}

func TestCheckAndIncrAll_AllowsWhenUnderEveryLimit(t *testing.T) {
	s := newDegradedStore(t)
	allowed, idx, err := s.CheckAndIncrAll(context.Background(), []string{"rpm", "tpm"}, []int64{10, 10}, []int64{1, 1}, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, -1, idx)
}

func TestCheckAndIncrAll_RejectsAllWhenAnyScopeWouldExceed(t *testing.T) {
	s := newDegradedStore(t)
	ctx := context.Background()
	keys := []string{"rpm-scope", "tpm-scope"}

	// Saturate the second key's limit first.
	allowed, _, err := s.CheckAndIncrAll(ctx, keys, []int64{10, 1}, []int64{1, 1}, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	// The first key is nowhere near its limit, but the second now is —
	// neither key may be incremented.
	allowed, idx, err := s.CheckAndIncrAll(ctx, keys, []int64{10, 1}, []int64{1, 1}, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 1, idx)

	v, err := s.Get(ctx, "rpm-scope")
	require.NoError(t, err)
	require.Equal(t, int64(1), v, "the non-exceeded key must not have been incremented either")
}

func TestCheckAndIncrAll_DeltaLargerThanOneCanExceedLimitInOneCall(t *testing.T) {
	s := newDegradedStore(t)
	ctx := context.Background()

	allowed, idx, err := s.CheckAndIncrAll(ctx, []string{"tpm-scope"}, []int64{100}, []int64{150}, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 0, idx)

	v, err := s.Get(ctx, "tpm-scope")
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}

func TestCheckAndIncrAll_NegativeLimitIsUnlimited(t *testing.T) {
	s := newDegradedStore(t)
	allowed, _, err := s.CheckAndIncrAll(context.Background(), []string{"unlimited"}, []int64{-1}, []int64{1}, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCheckAndIncrAll_MismatchedLengthsErrors(t *testing.T) {
	s := newDegradedStore(t)
	_, _, err := s.CheckAndIncrAll(context.Background(), []string{"a", "b"}, []int64{1}, []int64{1, 1}, time.Minute)
	require.Error(t, err)
}

func TestZAddLatencySampleAndZLatencySamples_TrimsOutsideWindow(t *testing.T) {
	s := newDegradedStore(t)
	ctx := context.Background()
	key := "latency:dep-1"

	now := float64(time.Now().UnixMilli())
	s.ZAddLatencySample(ctx, key, now-10000, 120, time.Second)
	s.ZAddLatencySample(ctx, key, now, 200, time.Second)

	samples := s.ZLatencySamples(ctx, key)
	require.Len(t, samples, 1)
	require.Equal(t, float64(200), samples[0])
}
