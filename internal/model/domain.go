package model

import "time"

// ProviderKind identifies the wire-shape family a Deployment's adapter
// speaks, not a specific vendor account.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGeneric   ProviderKind = "generic" // self-hosted OpenAI-compatible backends
)

// ModelGroup is a logical, client-visible model name resolving to one or
// more concrete Deployments.
type ModelGroup struct {
	Name    string
	Aliases []string
	// DeploymentIDs is the ordered list of deployments belonging to this
	// group; order only matters for presentation, selection order is a
	// router concern.
	DeploymentIDs []string
}

// Deployment is one concrete way to satisfy a ModelGroup.
type Deployment struct {
	ID                string
	Group             string
	ProviderKind      ProviderKind
	ProviderModelName string
	// CredentialsRef is an opaque reference into an external secret store;
	// the core never holds raw credential material.
	CredentialsRef string
	Weight          int
	Priority        int // lower = preferred
	Tags            map[string]struct{}
	InputCostPerToken  float64
	OutputCostPerToken float64
	InputCostCachedPerToken float64
	CostPerRequest          float64
	RPMLimit   *int
	TPMLimit   *int
	Timeout    time.Duration
	Enabled    bool
	ContextWindowTokens int
}

// HasTag reports whether the deployment carries every tag in want.
func (d *Deployment) HasTag(want map[string]struct{}) bool {
	for t := range want {
		if _, ok := d.Tags[t]; !ok {
			return false
		}
	}
	return true
}

// DeploymentState is the shared, cross-process mutable state for one
// Deployment, owned by the state store (C1).
type DeploymentState struct {
	ActiveRequests      int64
	ConsecutiveFailures int64
	CooldownUntil       *time.Time
	Healthy             bool
	// LatencyEWMAMillis is the exponentially-decayed rolling mean latency
	// over the trailing 5-minute window.
	LatencyEWMAMillis float64
	HasLatencySample   bool
	RPMCount           int64
	TPMCount           int64
}

// InCooldown reports whether the deployment is currently ineligible for
// selection.
func (s *DeploymentState) InCooldown(now time.Time) bool {
	return s.CooldownUntil != nil && s.CooldownUntil.After(now)
}

// ScopeKind is one of the four enforcement scopes, most-restrictive-wins.
type ScopeKind string

const (
	ScopeKey  ScopeKind = "key"
	ScopeUser ScopeKind = "user"
	ScopeTeam ScopeKind = "team"
	ScopeOrg  ScopeKind = "org"
)

// ScopeLimits are the per-scope limits resolved by the external auth
// subsystem for one PrincipalContext.
type ScopeLimits struct {
	RPM         *int
	TPM         *int
	MaxParallel *int
	MaxBudget   *float64
	SoftBudget  *float64
}

// PrincipalContext is the immutable value produced by the external auth
// subsystem and consumed unchanged by the core for the duration of one
// request.
type PrincipalContext struct {
	KeyID         string // already hashed
	UserID        string
	TeamID        string
	OrgID         string
	AllowedModels map[string]struct{} // empty => all models allowed
	Limits        map[ScopeKind]ScopeLimits
	GuardrailsPolicy GuardrailPolicy
	EndUser       string
	Tags          []string
}

// CacheEntry is a complete, cacheable response.
type CacheEntry struct {
	Response   []byte // serialized ChatResponse or EmbeddingsResponse
	Model      string
	CachedAt   time.Time
	TTL        time.Duration
	TokenCount int
}

// SpendRecord is one append-only ledger row.
type SpendRecord struct {
	RequestID        string
	KeyID            string
	UserID           string
	TeamID           string
	OrgID            string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	CacheHit         bool
	StartTime        time.Time
	EndTime          time.Time
	Tags             []string
}

// RequestContext carries router-relevant hints for one selection call.
type RequestContext struct {
	Group             string
	Tags              map[string]struct{}
	EstimatedInputTokens int
	PriorityHint      *int
}
