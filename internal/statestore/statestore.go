// Package statestore is the shared KV backend behind rate limiting,
// deployment health/cooldown, and the response cache: atomic
// increment/decrement with TTL, scripted check-and-increment
// transactions over a key set, sorted-set operations for latency
// windows, and string get/setex for cache entries. Every operation
// degrades to an in-process fallback when Redis is unreachable, so a
// Redis outage never fails a request outright.
package statestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is the shared KV backend used by rate limiting, deployment
// health/cooldown, and the response cache.
type Store struct {
	logger zerolog.Logger
	rdb    *redis.Client

	mu        sync.Mutex
	available bool
	local     map[string]localEntry
	localSets map[string][]zmember
}

type localEntry struct {
	value   int64
	bytes   []byte
	expires time.Time
}

type zmember struct {
	score  float64
	member string
}

// New creates a Store from a Redis URL. Connection failures do not fail
// construction — the store starts in degraded (local-only) mode and
// stays there until a later call to Healthy succeeds.
func New(redisURL string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		logger:    logger.With().Str("component", "statestore").Logger(),
		local:     make(map[string]localEntry),
		localSets: make(map[string][]zmember),
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	s.rdb = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("redis unreachable at startup, starting in degraded mode")
		s.available = false
	} else {
		s.available = true
	}
	return s, nil
}

// Healthy pings Redis and reports whether it is reachable, recording the
// result: it is the only call that takes the store out of degraded mode.
// /readyz does not call it; degraded mode is never a request failure.
func (s *Store) Healthy(ctx context.Context) bool {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.setAvailable(false)
		return false
	}
	s.setAvailable(true)
	return true
}

func (s *Store) setAvailable(v bool) {
	s.mu.Lock()
	s.available = v
	s.mu.Unlock()
}

func (s *Store) isAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// IncrWithTTL atomically increments key by delta and returns the new
// value. In Redis every call resets the key's expiry to ttl; the local
// map used when Redis is unreachable sets the expiry only when it
// creates the entry.
func (s *Store) IncrWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if s.isAvailable() {
		pipe := s.rdb.TxPipeline()
		incr := pipe.IncrBy(ctx, key, delta)
		pipe.Expire(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("redis incr failed, falling back to local")
			s.setAvailable(false)
		} else {
			return incr.Val(), nil
		}
	}
	return s.localIncr(key, delta, ttl), nil
}

func (s *Store) localIncr(key string, delta int64, ttl time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.local[key]
	now := time.Now()
	if !ok || now.After(e.expires) {
		e = localEntry{value: 0, expires: now.Add(ttl)}
	}
	e.value += delta
	s.local[key] = e
	return e.value
}

// Get returns the current integer value of key (0 if absent/expired).
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	if s.isAvailable() {
		v, err := s.rdb.Get(ctx, key).Int64()
		if err == redis.Nil {
			return 0, nil
		}
		if err != nil {
			s.setAvailable(false)
		} else {
			return v, nil
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.local[key]
	if !ok || time.Now().After(e.expires) {
		return 0, nil
	}
	return e.value, nil
}

// SetEx stores raw bytes with a TTL — used for cache entries.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.isAvailable() {
		if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("redis setex failed, falling back to local")
			s.setAvailable(false)
		} else {
			return nil
		}
	}
	s.mu.Lock()
	s.local[key] = localEntry{bytes: value, expires: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// GetBytes retrieves raw bytes previously stored with SetEx. ok is false
// on miss or expiry — this is never an error, per the cache-degradation
// contract.
func (s *Store) GetBytes(ctx context.Context, key string) (value []byte, ok bool) {
	if s.isAvailable() {
		v, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			return v, true
		}
		if err != redis.Nil {
			s.setAvailable(false)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.local[key]
	if !exists || time.Now().After(e.expires) || e.bytes == nil {
		return nil, false
	}
	return e.bytes, true
}

// Del removes a key from both tiers.
func (s *Store) Del(ctx context.Context, key string) {
	if s.isAvailable() {
		_ = s.rdb.Del(ctx, key).Err()
	}
	s.mu.Lock()
	delete(s.local, key)
	s.mu.Unlock()
}

// multiIncrScript performs an all-or-nothing check-and-increment: every
// key in KEYS is compared against its paired limit and increment amount
// in ARGV; if any key would exceed its limit, no key is modified.
const multiIncrScript = `
local n = #KEYS
for i = 1, n do
  local limit = tonumber(ARGV[i])
  local delta = tonumber(ARGV[n+i])
  local cur = tonumber(redis.call('GET', KEYS[i]) or '0')
  if limit >= 0 and cur + delta > limit then
    return {0, i}
  end
end
for i = 1, n do
  local delta = tonumber(ARGV[n+i])
  redis.call('INCRBY', KEYS[i], delta)
  redis.call('EXPIRE', KEYS[i], ARGV[2*n+1])
end
return {1, 0}
`

// CheckAndIncrAll performs an atomic multi-scope check-and-increment:
// either every key in keys is incremented by its paired amount in
// deltas, or none are. limits[i] is the cap for keys[i]; a negative
// limit means unlimited. Returns (allowed, indexOfFirstExceeded). Falls
// back to a process-local mutex-guarded pass when Redis is unreachable,
// which is equally all-or-nothing since it holds the store lock for the
// whole check.
func (s *Store) CheckAndIncrAll(ctx context.Context, keys []string, limits []int64, deltas []int64, window time.Duration) (allowed bool, exceededIdx int, err error) {
	if len(keys) != len(limits) || len(keys) != len(deltas) {
		return false, -1, fmt.Errorf("statestore: keys/limits/deltas length mismatch")
	}
	if s.isAvailable() {
		argv := make([]interface{}, 0, 2*len(limits)+1)
		for _, l := range limits {
			argv = append(argv, l)
		}
		for _, d := range deltas {
			argv = append(argv, d)
		}
		argv = append(argv, int64(window.Seconds()))
		res, serr := s.rdb.Eval(ctx, multiIncrScript, keys, argv...).Result()
		if serr != nil {
			s.logger.Warn().Err(serr).Msg("redis rate-limit script failed, falling back to local")
			s.setAvailable(false)
		} else {
			arr, ok := res.([]interface{})
			if !ok || len(arr) != 2 {
				return false, -1, fmt.Errorf("statestore: unexpected script result shape")
			}
			ok1, _ := arr[0].(int64)
			idx, _ := arr[1].(int64)
			return ok1 == 1, int(idx) - 1, nil
		}
	}
	allowed, exceededIdx = s.localCheckAndIncrAll(keys, limits, deltas, window)
	return allowed, exceededIdx, nil
}

func (s *Store) localCheckAndIncrAll(keys []string, limits []int64, deltas []int64, window time.Duration) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i, k := range keys {
		if limits[i] < 0 {
			continue
		}
		e, ok := s.local[k]
		cur := int64(0)
		if ok && now.Before(e.expires) {
			cur = e.value
		}
		if cur+deltas[i] > limits[i] {
			return false, i
		}
	}
	for i, k := range keys {
		e, ok := s.local[k]
		if !ok || now.After(e.expires) {
			e = localEntry{expires: now.Add(window)}
		}
		e.value += deltas[i]
		s.local[k] = e
	}
	return true, -1
}

// ZAddLatencySample appends a latency sample (score = unix millis) to a
// sorted set and trims anything older than window.
func (s *Store) ZAddLatencySample(ctx context.Context, key string, atUnixMillis float64, value float64, window time.Duration) {
	if s.isAvailable() {
		pipe := s.rdb.TxPipeline()
		pipe.ZAdd(ctx, key, redis.Z{Score: atUnixMillis, Member: fmt.Sprintf("%d:%f", int64(atUnixMillis), value)})
		cutoff := atUnixMillis - float64(window.Milliseconds())
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff))
		if _, err := pipe.Exec(ctx); err == nil {
			return
		}
		s.setAvailable(false)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.localSets[key]
	members = append(members, zmember{score: atUnixMillis, member: fmt.Sprintf("%f", value)})
	cutoff := atUnixMillis - float64(window.Milliseconds())
	kept := members[:0]
	for _, m := range members {
		if m.score >= cutoff {
			kept = append(kept, m)
		}
	}
	s.localSets[key] = kept
}

// ZLatencySamples returns the raw "value" component of every sample
// currently retained in the window for key.
func (s *Store) ZLatencySamples(ctx context.Context, key string) []float64 {
	if s.isAvailable() {
		vals, err := s.rdb.ZRange(ctx, key, 0, -1).Result()
		if err == nil {
			out := make([]float64, 0, len(vals))
			for _, v := range vals {
				var f float64
				if _, serr := fmt.Sscanf(v, "%d:%f", new(int64), &f); serr == nil {
					out = append(out, f)
				}
			}
			return out
		}
		s.setAvailable(false)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.localSets[key]
	out := make([]float64, 0, len(members))
	for _, m := range members {
		var f float64
		fmt.Sscanf(m.member, "%f", &f)
		out = append(out, f)
	}
	return out
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
