package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/statestore"
)

// Mode is the per-request cache control resolved from metadata/headers.
type Mode string

const (
	ModeDefault Mode = ""
	ModeNoCache Mode = "no-cache" // skip read but still write
	ModeNoStore Mode = "no-store" // read as usual but do not write
	ModeBypass  Mode = "bypass"   // skip both
)

// Engine is the response cache (C3).
type Engine struct {
	store      *statestore.Store
	defaultTTL time.Duration
	group      singleflight.Group
}

// New creates a cache Engine backed by store.
func New(store *statestore.Store, defaultTTL time.Duration) *Engine {
	return &Engine{store: store, defaultTTL: defaultTTL}
}

// ResolveMode parses the metadata.cache control field.
func ResolveMode(meta *model.RequestMeta) Mode {
	if meta == nil {
		return ModeDefault
	}
	switch strings.ToLower(meta.CacheMode) {
	case string(ModeNoCache):
		return ModeNoCache
	case string(ModeNoStore):
		return ModeNoStore
	case string(ModeBypass):
		return ModeBypass
	default:
		return ModeDefault
	}
}

// Key computes the cache key for req, honoring a metadata cache_key
// override.
func Key(req *model.ChatRequest) (string, error) {
	if req.Metadata != nil && req.Metadata.CacheKey != "" {
		return "cache:override:" + req.Metadata.CacheKey, nil
	}
	fp, err := Fingerprint(req)
	if err != nil {
		return "", err
	}
	return "cache:fp:" + fp, nil
}

// EmbeddingsKey computes the cache key for an embeddings request.
func EmbeddingsKey(req *model.EmbeddingsRequest) (string, error) {
	fp, err := EmbeddingsFingerprint(req)
	if err != nil {
		return "", err
	}
	return "cache:embed:" + fp, nil
}

// Lookup returns the cached entry for key, or ok=false on miss. Backend
// unavailability is folded into a miss, never an error, so a degraded
// cache backend never fails a request outright.
func (e *Engine) Lookup(ctx context.Context, key string) (entry *model.CacheEntry, ok bool) {
	raw, found := e.store.GetBytes(ctx, key)
	if !found {
		return nil, false
	}
	var ce model.CacheEntry
	if err := json.Unmarshal(raw, &ce); err != nil {
		return nil, false
	}
	return &ce, true
}

// Write stores a complete, successful response. Callers must only invoke
// Write once a full response is assembled, so an incomplete stream never
// produces a cache entry.
func (e *Engine) Write(ctx context.Context, key string, entry *model.CacheEntry, ttlOverride *int) error {
	ttl := e.defaultTTL
	if ttlOverride != nil {
		ttl = time.Duration(*ttlOverride) * time.Second
	}
	entry.TTL = ttl
	entry.CachedAt = time.Now()
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return e.store.SetEx(ctx, key, raw, ttl)
}

// SingleFlight collapses concurrent cache-miss generations for the same
// key into one upstream call, fanning the result out to every waiter.
func (e *Engine) SingleFlight(key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	return e.group.Do(key, fn)
}

// Healthy reports whether the cache backend is reachable, via
// statestore.Store.Healthy; /readyz does not call it.
func (e *Engine) Healthy(ctx context.Context) bool {
	return e.store.Healthy(ctx)
}

// ReconstructStream synthesizes word-granular delta chunks from a stored
// message, reproducing the content a live stream would have produced.
// Concatenating every returned chunk's delta.content reconstructs content
// exactly.
func ReconstructStream(id, modelName, content string) []model.StreamChunk {
	words := splitKeepingSeparators(content)
	chunks := make([]model.StreamChunk, 0, len(words)+1)
	created := time.Now().Unix()
	for _, w := range words {
		chunks = append(chunks, model.StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   modelName,
			Choices: []model.StreamChoice{{
				Index: 0,
				Delta: model.ChatMessage{Content: w},
			}},
		})
	}
	finish := "stop"
	chunks = append(chunks, model.StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   modelName,
		Choices: []model.StreamChoice{{
			Index:        0,
			Delta:        model.ChatMessage{},
			FinishReason: &finish,
		}},
	})
	return chunks
}

// splitKeepingSeparators splits content after every space character (the
// space stays at the end of its chunk), so concatenation reproduces the
// original string exactly. Other whitespace does not start a new chunk.
func splitKeepingSeparators(content string) []string {
	var out []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == ' ' {
			out = append(out, content[start:i+1])
			start = i + 1
		}
	}
	if start < len(content) {
		out = append(out, content[start:])
	}
	return out
}
