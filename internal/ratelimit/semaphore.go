package ratelimit

import (
	"sync"
	"time"
)

// Semaphore bounds the number of concurrent in-flight requests per key.
type Semaphore struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

// NewSemaphore creates an empty keyed semaphore; per-key channels are
// created lazily with the limit given at first Acquire for that key.
func NewSemaphore() *Semaphore {
	return &Semaphore{sems: make(map[string]chan struct{})}
}

// Acquire attempts to reserve a slot for key within timeout. The returned
// release func is always safe to call exactly once and must be called on
// every exit path (success, error, panic, cancellation) to avoid leaking
// the slot.
func (s *Semaphore) Acquire(key string, limit int, timeout time.Duration) (release func(), ok bool) {
	s.mu.Lock()
	ch, exists := s.sems[key]
	if !exists {
		ch = make(chan struct{}, limit)
		s.sems[key] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				select {
				case <-ch:
				default:
				}
			})
		}, true
	case <-time.After(timeout):
		return func() {}, false
	}
}

// Active returns the number of slots currently held for key.
func (s *Semaphore) Active(key string) int {
	s.mu.Lock()
	ch, exists := s.sems[key]
	s.mu.Unlock()
	if !exists {
		return 0
	}
	return len(ch)
}
