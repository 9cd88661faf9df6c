package router

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/statestore"
)

const latencyWindow = 5 * time.Minute
const ewmaAlpha = 0.3

func stateKeyPrefix(deploymentID string) string {
	return "deploy:" + deploymentID
}

// LoadState reads the current DeploymentState for a deployment from the
// shared store. Missing keys resolve to a healthy, zero-valued state —
// a deployment the store has never heard from is assumed healthy.
func LoadState(ctx context.Context, store *statestore.Store, deploymentID string) *model.DeploymentState {
	prefix := stateKeyPrefix(deploymentID)
	active, _ := store.Get(ctx, prefix+":active")
	failures, _ := store.Get(ctx, prefix+":failures")

	state := &model.DeploymentState{
		ActiveRequests:      active,
		ConsecutiveFailures: failures,
		Healthy:             true,
	}
	if raw, ok := store.GetBytes(ctx, prefix+":cooldown_until"); ok {
		if unix, err := strconv.ParseInt(string(raw), 10, 64); err == nil && unix > 0 {
			t := time.Unix(unix, 0)
			state.CooldownUntil = &t
		}
	}
	if healthyRaw, ok := store.GetBytes(ctx, prefix+":unhealthy"); ok && len(healthyRaw) > 0 {
		state.Healthy = false
	}

	samples := store.ZLatencySamples(ctx, prefix+":latency")
	if len(samples) > 0 {
		mean := samples[0]
		for _, s := range samples[1:] {
			mean = ewmaAlpha*s + (1-ewmaAlpha)*mean
		}
		state.LatencyEWMAMillis = mean
		state.HasLatencySample = true
	}

	bucket := currentUsageBucket()
	state.RPMCount, _ = store.Get(ctx, deploymentRPMKey(deploymentID, bucket))
	state.TPMCount, _ = store.Get(ctx, deploymentTPMKey(deploymentID, bucket))
	return state
}

const usageWindow = time.Minute

func deploymentRPMKey(deploymentID string, bucket int64) string {
	return fmt.Sprintf("%s:rpm:%d", stateKeyPrefix(deploymentID), bucket)
}

func deploymentTPMKey(deploymentID string, bucket int64) string {
	return fmt.Sprintf("%s:tpm:%d", stateKeyPrefix(deploymentID), bucket)
}

func currentUsageBucket() int64 {
	return time.Now().UTC().Truncate(usageWindow).Unix()
}

// RecordRequestUsage increments deploymentID's per-minute request and
// token counters, which filterUtilization reads back through LoadState
// to keep deployments near their RPM/TPM caps out of the selection pool.
func RecordRequestUsage(ctx context.Context, store *statestore.Store, deploymentID string, tokens int64) {
	bucket := currentUsageBucket()
	_, _ = store.IncrWithTTL(ctx, deploymentRPMKey(deploymentID, bucket), 1, usageWindow*2)
	if tokens > 0 {
		_, _ = store.IncrWithTTL(ctx, deploymentTPMKey(deploymentID, bucket), tokens, usageWindow*2)
	}
}

// IncrActive increments the active-request gauge for a deployment and
// returns a release func that must be called exactly once on every exit
// path (success, error, panic, timeout, cancellation).
func IncrActive(ctx context.Context, store *statestore.Store, deploymentID string) (release func()) {
	key := stateKeyPrefix(deploymentID) + ":active"
	_, _ = store.IncrWithTTL(ctx, key, 1, time.Hour)
	var done bool
	return func() {
		if done {
			return
		}
		done = true
		_, _ = store.IncrWithTTL(context.Background(), key, -1, time.Hour)
	}
}

// RecordSuccess resets the consecutive-failure counter and records a
// latency sample for deploymentID.
func RecordSuccess(ctx context.Context, store *statestore.Store, deploymentID string, latency time.Duration) {
	prefix := stateKeyPrefix(deploymentID)
	store.Del(ctx, prefix+":failures")
	store.ZAddLatencySample(ctx, prefix+":latency", float64(time.Now().UnixMilli()), float64(latency.Milliseconds()), latencyWindow)
}

// RecordFailure increments consecutive-failures and sets cooldownUntil if
// allowedFails is crossed, returning whether this call triggered the
// cooldown transition (for emitting a deployment_cooldown event).
func RecordFailure(ctx context.Context, store *statestore.Store, deploymentID string, allowedFails int, cooldownDuration time.Duration) (enteredCooldown bool) {
	prefix := stateKeyPrefix(deploymentID)
	failures, _ := store.IncrWithTTL(ctx, prefix+":failures", 1, cooldownDuration*4)
	if int(failures) > allowedFails {
		until := time.Now().Add(cooldownDuration)
		_ = store.SetEx(ctx, prefix+":cooldown_until", []byte(fmt.Sprintf("%d", until.Unix())), cooldownDuration)
		return true
	}
	return false
}
