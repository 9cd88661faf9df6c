package provider

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/registry"
	"github.com/corewave-ai/litegate/internal/statestore"
)

// HealthPoller continuously probes every deployment in the registry and
// writes passive health transitions into the shared state store, which
// the router consults during candidate filtering. Each poll cycle fans
// out over an errgroup so one slow deployment cannot delay the others'
// checks.
type HealthPoller struct {
	reg      *registry.Registry
	store    *statestore.Store
	logger   zerolog.Logger
	interval time.Duration
	probe    func(ctx context.Context, d *model.Deployment) error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthPoller creates a poller. probe performs one health check
// against a deployment (e.g. a lightweight models-list call); interval
// is clamped to a 5 second minimum.
func NewHealthPoller(reg *registry.Registry, store *statestore.Store, logger zerolog.Logger, interval time.Duration, probe func(ctx context.Context, d *model.Deployment) error) *HealthPoller {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	return &HealthPoller{reg: reg, store: store, logger: logger.With().Str("component", "health_poller").Logger(), interval: interval, probe: probe}
}

// Start runs the polling loop in a background goroutine until Stop is
// called.
func (p *HealthPoller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.pollOnce(ctx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (p *HealthPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *HealthPoller) pollOnce(ctx context.Context) {
	snap := p.reg.Current()
	var deployments []*model.Deployment
	seen := make(map[string]struct{})
	for _, group := range snap.GroupNames() {
		g, err := snap.Resolve(group)
		if err != nil {
			continue
		}
		for _, d := range snap.Deployments(g) {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			deployments = append(deployments, d)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, d := range deployments {
		d := d
		g.Go(func() error {
			p.checkOne(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *HealthPoller) checkOne(ctx context.Context, d *model.Deployment) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := "deploy:" + d.ID + ":unhealthy"
	err := p.probe(checkCtx, d)
	if err != nil {
		p.logger.Warn().Str("deployment", d.ID).Err(err).Msg("deployment health check failed")
		_ = p.store.SetEx(ctx, key, []byte("1"), p.interval*3)
		return
	}
	p.store.Del(ctx, key)
}
