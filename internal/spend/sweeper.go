package spend

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/corewave-ai/litegate/internal/model"
)

// ScopeWindow names one scope/id's budget reset cadence: the
// budgetDuration/budgetResetAt pair for that scope.
type ScopeWindow struct {
	Scope  model.ScopeKind
	ID     string
	Window time.Duration
}

// Sweeper periodically resets cumulative counters back to zero once
// their budgetDuration elapses, via a background goroutine ticking on
// a fixed interval.
type Sweeper struct {
	accountant *Accountant
	logger     zerolog.Logger
	interval   time.Duration
	windows    func() []ScopeWindow

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper that calls windows() on every tick to
// discover which scopes are due for a reset check.
func NewSweeper(accountant *Accountant, logger zerolog.Logger, interval time.Duration, windows func() []ScopeWindow) *Sweeper {
	return &Sweeper{accountant: accountant, logger: logger.With().Str("component", "budget_sweeper").Logger(), interval: interval, windows: windows}
}

// Start runs the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	for _, w := range s.windows() {
		s.accountant.ResetScope(ctx, w.Scope, w.ID, w.Window)
		s.logger.Info().Str("scope", string(w.Scope)).Str("id", w.ID).Msg("budget window reset")
	}
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
