package spend

import (
	"context"
	"strconv"
	"time"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/statestore"
)

// Accountant enforces budgets and tracks cumulative spend per scope in
// internal/statestore. It does not write the durable record; the
// pipeline appends SpendRecords to internal/spend/ledger separately.
type Accountant struct {
	store *statestore.Store
}

// NewAccountant creates an Accountant.
func NewAccountant(store *statestore.Store) *Accountant {
	return &Accountant{store: store}
}

func cumulativeKey(scope model.ScopeKind, id string) string {
	return "spend:cumulative:" + string(scope) + ":" + id
}

// CheckHardBudget enforces the most-restrictive-of key/user/team/org hard
// budget. The check is against pre-request state — a request that would
// cross the budget is still allowed once; only the *next* request is
// rejected.
func (a *Accountant) CheckHardBudget(ctx context.Context, principal *model.PrincipalContext) error {
	check := func(scope model.ScopeKind, id string) error {
		if id == "" {
			return nil
		}
		limits, ok := principal.Limits[scope]
		if !ok || limits.MaxBudget == nil {
			return nil
		}
		spent := a.cumulativeSpend(ctx, scope, id)
		if spent >= *limits.MaxBudget {
			ge := model.NewError(model.ErrBudgetExceeded, "hard budget exceeded")
			ge.Scope = string(scope)
			return ge
		}
		return nil
	}
	if err := check(model.ScopeKey, principal.KeyID); err != nil {
		return err
	}
	if err := check(model.ScopeUser, principal.UserID); err != nil {
		return err
	}
	if err := check(model.ScopeTeam, principal.TeamID); err != nil {
		return err
	}
	return check(model.ScopeOrg, principal.OrgID)
}

// SoftBudgetCrossed reports, per scope, whether cumulative spend now
// meets or exceeds the configured soft budget. A scope is reported on
// every call for as long as its spend stays at or above the soft budget;
// the pipeline publishes a budget.alert for each reported scope, so
// alerts are neither rate-limited nor limited to the first crossing.
func (a *Accountant) SoftBudgetCrossed(ctx context.Context, principal *model.PrincipalContext) []model.ScopeKind {
	var crossed []model.ScopeKind
	check := func(scope model.ScopeKind, id string) {
		if id == "" {
			return
		}
		limits, ok := principal.Limits[scope]
		if !ok || limits.SoftBudget == nil {
			return
		}
		if a.cumulativeSpend(ctx, scope, id) >= *limits.SoftBudget {
			crossed = append(crossed, scope)
		}
	}
	check(model.ScopeKey, principal.KeyID)
	check(model.ScopeUser, principal.UserID)
	check(model.ScopeTeam, principal.TeamID)
	check(model.ScopeOrg, principal.OrgID)
	return crossed
}

func (a *Accountant) cumulativeSpend(ctx context.Context, scope model.ScopeKind, id string) float64 {
	raw, ok := a.store.GetBytes(ctx, cumulativeKey(scope, id)+":usd")
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

// AddSpend increments the cumulative counters for every applicable scope
// by costUSD. This is the in-memory fast path the router/budget check
// reads from; the durable record is the ledger's append-only table.
func (a *Accountant) AddSpend(ctx context.Context, principal *model.PrincipalContext, costUSD float64, budgetWindow time.Duration) {
	apply := func(scope model.ScopeKind, id string) {
		if id == "" {
			return
		}
		if _, ok := principal.Limits[scope]; !ok {
			return
		}
		key := cumulativeKey(scope, id) + ":usd"
		cur := a.cumulativeSpend(ctx, scope, id)
		_ = a.store.SetEx(ctx, key, []byte(strconv.FormatFloat(cur+costUSD, 'f', -1, 64)), budgetWindow)
	}
	apply(model.ScopeKey, principal.KeyID)
	apply(model.ScopeUser, principal.UserID)
	apply(model.ScopeTeam, principal.TeamID)
	apply(model.ScopeOrg, principal.OrgID)
}

// ResetScope zeroes the cumulative counter for one scope/id — called by
// the budget-reset sweeper when budgetResetAt elapses.
func (a *Accountant) ResetScope(ctx context.Context, scope model.ScopeKind, id string, budgetWindow time.Duration) {
	_ = a.store.SetEx(ctx, cumulativeKey(scope, id)+":usd", []byte("0"), budgetWindow)
}
