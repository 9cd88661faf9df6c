// Package registry implements the model registry: an immutable snapshot
// of {ModelGroup -> []Deployment} plus alias maps, swapped atomically on
// update so in-flight requests finish against a consistent view rather
// than observing a deployment list that changes mid-request.
package registry

import (
	"fmt"
	"sync/atomic"

	"github.com/corewave-ai/litegate/internal/model"
)

// Snapshot is one immutable view of the registry's contents.
type Snapshot struct {
	groups      map[string]*model.ModelGroup
	deployments map[string]*model.Deployment
	aliases     map[string]string // alias -> canonical group name
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		groups:      make(map[string]*model.ModelGroup),
		deployments: make(map[string]*model.Deployment),
		aliases:     make(map[string]string),
	}
}

// Resolve maps a client-visible model name to its ModelGroup, following
// aliases. Returns model_not_found if no group or alias
// matches.
func (s *Snapshot) Resolve(name string) (*model.ModelGroup, error) {
	if g, ok := s.groups[name]; ok {
		return g, nil
	}
	if canonical, ok := s.aliases[name]; ok {
		if g, ok := s.groups[canonical]; ok {
			return g, nil
		}
	}
	return nil, model.NewError(model.ErrModelNotFound, fmt.Sprintf("no model group for %q", name))
}

// Deployments returns every Deployment belonging to group, in the order
// the registry was told about them.
func (s *Snapshot) Deployments(group *model.ModelGroup) []*model.Deployment {
	out := make([]*model.Deployment, 0, len(group.DeploymentIDs))
	for _, id := range group.DeploymentIDs {
		if d, ok := s.deployments[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Deployment looks up a single deployment by ID.
func (s *Snapshot) Deployment(id string) (*model.Deployment, bool) {
	d, ok := s.deployments[id]
	return d, ok
}

// GroupNames returns every canonical model group name in the snapshot.
func (s *Snapshot) GroupNames() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	return names
}

// Registry owns the current Snapshot behind an atomically-swapped
// pointer. A single writer (fed by the external management API's change
// notifications) calls Swap; any number of readers call Current
// concurrently without locking.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(newSnapshot())
	return r
}

// Current returns the live snapshot. The caller may hold the reference
// for the duration of one request; it never mutates underneath them.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Builder constructs a new Snapshot to be swapped in atomically via
// Registry.Swap, so updates never partially apply.
type Builder struct {
	snap *Snapshot
}

// NewBuilder starts a fresh snapshot build.
func NewBuilder() *Builder {
	return &Builder{snap: newSnapshot()}
}

// AddGroup registers a ModelGroup and its aliases.
func (b *Builder) AddGroup(g *model.ModelGroup) *Builder {
	b.snap.groups[g.Name] = g
	for _, a := range g.Aliases {
		b.snap.aliases[a] = g.Name
	}
	return b
}

// AddDeployment registers a Deployment. Deployment IDs are never reused
// across the registry's lifetime; callers are responsible for that
// invariant (the registry itself is stateless per rebuild).
func (b *Builder) AddDeployment(d *model.Deployment) *Builder {
	b.snap.deployments[d.ID] = d
	return b
}

// Build finalizes the snapshot.
func (b *Builder) Build() *Snapshot {
	return b.snap
}

// Swap atomically replaces the live snapshot.
func (r *Registry) Swap(snap *Snapshot) {
	r.current.Store(snap)
}
