// Package ratelimit enforces per-minute request and token caps across
// the key/user/team/org scopes: every configured scope's counter is
// checked and incremented together or not at all, and a separate
// key-scoped semaphore bounds how many requests a key may have in
// flight at once.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/statestore"
)

const window = time.Minute

// Limiter performs the atomic multi-scope RPM check and maintains a
// per-key parallel-request semaphore.
type Limiter struct {
	store *statestore.Store
	sem   *Semaphore
}

// New creates a Limiter backed by store. A PrincipalContext without a
// key-scope MaxParallel gets no parallel-request limit (see
// AcquireParallel).
func New(store *statestore.Store) *Limiter {
	return &Limiter{store: store, sem: NewSemaphore()}
}

// Decision reports the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Scope      model.ScopeKind
	LimitKind  string // "rpm" or "tpm"
	RetryAfter int
}

// CheckRPM performs the all-or-nothing multi-scope admission check for
// one request: every configured scope's RPM counter and its TPM counter
// (reserved at estimatedTPM) are checked against their caps and
// incremented together, or none of them are. CorrectTPM must be called
// after the response completes to true up the TPM reservation against
// actual usage.
func (l *Limiter) CheckRPM(ctx context.Context, principal *model.PrincipalContext, estimatedTPM int) (Decision, error) {
	minuteBucket := time.Now().UTC().Truncate(window).Unix()

	type scopeCheck struct {
		scope model.ScopeKind
		id    string
		kind  string // "rpm" or "tpm"
		limit *int
		delta int64
	}
	var checks []scopeCheck
	add := func(scope model.ScopeKind, id string) {
		if id == "" {
			return
		}
		lim, ok := principal.Limits[scope]
		if !ok {
			return
		}
		checks = append(checks,
			scopeCheck{scope: scope, id: id, kind: "rpm", limit: lim.RPM, delta: 1},
			scopeCheck{scope: scope, id: id, kind: "tpm", limit: lim.TPM, delta: int64(estimatedTPM)},
		)
	}
	add(model.ScopeKey, principal.KeyID)
	add(model.ScopeUser, principal.UserID)
	add(model.ScopeTeam, principal.TeamID)
	add(model.ScopeOrg, principal.OrgID)

	if len(checks) == 0 {
		return Decision{Allowed: true}, nil
	}

	keys := make([]string, len(checks))
	limits := make([]int64, len(checks))
	deltas := make([]int64, len(checks))
	for i, c := range checks {
		if c.kind == "rpm" {
			keys[i] = rpmKey(c.scope, c.id, minuteBucket)
		} else {
			keys[i] = tpmKey(c.scope, c.id, minuteBucket)
		}
		if c.limit == nil {
			limits[i] = -1
		} else {
			limits[i] = int64(*c.limit)
		}
		deltas[i] = c.delta
	}

	allowed, idx, err := l.store.CheckAndIncrAll(ctx, keys, limits, deltas, window)
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		failed := checks[0]
		if idx >= 0 && idx < len(checks) {
			failed = checks[idx]
		}
		return Decision{
			Allowed:    false,
			Scope:      failed.scope,
			LimitKind:  failed.kind,
			RetryAfter: int(window.Seconds()) - int(time.Now().UTC().Sub(time.Unix(minuteBucket, 0)).Seconds()),
		}, nil
	}

	return Decision{Allowed: true}, nil
}

// CorrectTPM applies the post-response correction (actual − estimate) to
// every scope's TPM bucket for the same minute the request was admitted
// in.
func (l *Limiter) CorrectTPM(ctx context.Context, principal *model.PrincipalContext, minuteBucket int64, actualTPM, estimatedTPM int) {
	delta := int64(actualTPM - estimatedTPM)
	if delta == 0 {
		return
	}
	apply := func(scope model.ScopeKind, id string) {
		if id == "" {
			return
		}
		if _, ok := principal.Limits[scope]; !ok {
			return
		}
		_, _ = l.store.IncrWithTTL(ctx, tpmKey(scope, id, minuteBucket), delta, window)
	}
	apply(model.ScopeKey, principal.KeyID)
	apply(model.ScopeUser, principal.UserID)
	apply(model.ScopeTeam, principal.TeamID)
	apply(model.ScopeOrg, principal.OrgID)
}

// AcquireParallel acquires a key-scoped parallel-request slot. The caller
// must call the returned release func exactly once, on every exit path.
func (l *Limiter) AcquireParallel(principal *model.PrincipalContext, timeout time.Duration) (release func(), ok bool) {
	limit := 0
	if lim, exists := principal.Limits[model.ScopeKey]; exists && lim.MaxParallel != nil {
		limit = *lim.MaxParallel
	}
	if limit <= 0 {
		return func() {}, true
	}
	return l.sem.Acquire(principal.KeyID, limit, timeout)
}

func rpmKey(scope model.ScopeKind, id string, bucket int64) string {
	return fmt.Sprintf("rl:rpm:%s:%s:%d", scope, id, bucket)
}

func tpmKey(scope model.ScopeKind, id string, bucket int64) string {
	return fmt.Sprintf("rl:tpm:%s:%s:%d", scope, id, bucket)
}

// CurrentMinuteBucket returns the minute bucket a call to CheckRPM used,
// so a caller can pass it back into CorrectTPM later.
func CurrentMinuteBucket() int64 {
	return time.Now().UTC().Truncate(window).Unix()
}
