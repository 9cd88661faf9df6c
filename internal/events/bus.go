// Package events implements the pipeline's event fan-out: best-effort,
// non-blocking delivery of request-completed/request-failed/
// deployment-cooldown/budget-alert payloads to observers, plus the
// shared-state store's config-change pub/sub contract. Uses core NATS
// publish/subscribe rather than JetStream since events here are
// fire-and-forget fan-out, not a durable work queue. Falls back to local
// in-process delivery when NATS is unreachable, so a missing broker
// degrades event delivery instead of failing requests.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Kind names one event type the pipeline emits.
type Kind string

const (
	KindRequestCompleted   Kind = "request.completed"
	KindRequestFailed      Kind = "request.failed"
	KindDeploymentCooldown Kind = "deployment.cooldown"
	KindBudgetAlert        Kind = "budget.alert"
	KindConfigChanged      Kind = "config.changed"
)

// Event is one payload fanned out to observers. Delivery is best-effort;
// observers must tolerate reordering and duplicates.
type Event struct {
	Kind      Kind            `json:"kind"`
	RequestID string          `json:"request_id,omitempty"`
	At        time.Time       `json:"at"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Bus publishes events non-blockingly. In degraded mode (no NATS
// connection) it falls back to an in-process fan-out to local
// subscribers only.
type Bus struct {
	nc     *nats.Conn
	logger zerolog.Logger

	mu   sync.RWMutex
	subs []chan Event
}

// New connects to a NATS server at url. Connection failure does not fail
// construction — the Bus starts in local-only mode.
func New(url string, logger zerolog.Logger) *Bus {
	b := &Bus{logger: logger.With().Str("component", "events").Logger()}
	nc, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		b.logger.Warn().Err(err).Msg("nats unreachable at startup, publishing locally only")
		return b
	}
	b.nc = nc
	return b
}

// Publish fans out an event non-blockingly: NATS publish failures and
// local subscriber backpressure are both swallowed, never the caller's
// problem.
func (b *Bus) Publish(kind Kind, requestID string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	ev := Event{Kind: kind, RequestID: requestID, At: time.Now(), Data: raw}

	if b.nc != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			if err := b.nc.Publish(string(kind), payload); err != nil {
				b.logger.Debug().Err(err).Str("kind", string(kind)).Msg("nats publish failed")
			}
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel that receives every locally-published
// event. Used by in-process observers (e.g. a metrics exporter) that
// don't need the NATS round-trip.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeConfigChanges subscribes to KindConfigChanged over NATS
// directly, implementing the shared-state store's pub/sub contract for
// config hot-reload notification. Returns a no-op unsubscribe func in
// degraded mode.
func (b *Bus) SubscribeConfigChanges(ctx context.Context, handler func(Event)) (unsubscribe func(), err error) {
	if b.nc == nil {
		return func() {}, nil
	}
	sub, err := b.nc.Subscribe(string(KindConfigChanged), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err == nil {
			handler(ev)
		}
	})
	if err != nil {
		return func() {}, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains the NATS connection.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Drain()
	}
}
