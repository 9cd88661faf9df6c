// Package cache implements the response cache: deterministic fingerprint
// composition, Redis-backed storage with degraded fallback, and
// streaming reconstruction from a stored complete response. Matching is
// exact-fingerprint only — no embedding/vector similarity search.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"

	"github.com/corewave-ai/litegate/internal/model"
)

// fingerprintView is the fixed, compile-time set of request fields that
// participate in cache-key derivation — not runtime reflection, so a
// field never silently starts or stops affecting the key. ChatRequest
// carries no n, response_format, frequency_penalty, presence_penalty,
// logit_bias or seed, so Fingerprint never sets those fields and they
// are always omitted from the key.
type fingerprintView struct {
	Model            string          `json:"model"`
	Messages         json.RawMessage `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	N                *int            `json:"n,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	LogitBias        json.RawMessage `json:"logit_bias,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	User             string          `json:"user,omitempty"`
}

func round6(f *float64) *float64 {
	if f == nil {
		return nil
	}
	r := math.Round(*f*1e6) / 1e6
	return &r
}

// Fingerprint computes the deterministic cache key for req: canonical,
// key-sorted JSON over the fingerprint fields, floats rounded to 6
// decimals, then SHA-256. Requests that differ only in field ordering or
// insignificant float precision produce the same fingerprint.
func Fingerprint(req *model.ChatRequest) (string, error) {
	messages, err := canonicalJSON(req.Messages)
	if err != nil {
		return "", err
	}
	view := fingerprintView{
		Model:            req.Model,
		Messages:         messages,
		Temperature:      round6(req.Temperature),
		TopP:             round6(req.TopP),
		MaxTokens:        req.MaxTokens,
		Stop:             append([]string(nil), req.Stop...),
		User:             req.User,
	}
	sort.Strings(view.Stop)
	if len(req.Tools) > 0 {
		toolsJSON, err := canonicalJSON(req.Tools)
		if err != nil {
			return "", err
		}
		view.Tools = toolsJSON
	}
	if req.ToolChoice != nil {
		tc, err := canonicalJSON(req.ToolChoice)
		if err != nil {
			return "", err
		}
		view.ToolChoice = tc
	}

	payload, err := canonicalJSON(view)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// embeddingsFingerprintView is the embeddings counterpart of
// fingerprintView: model, raw input, and the user field that changes an
// embedding only through provider-side abuse tracking, never the vector
// itself.
type embeddingsFingerprintView struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
	User  string          `json:"user,omitempty"`
}

// EmbeddingsFingerprint computes the deterministic cache key for an
// embeddings request the same way Fingerprint does for chat requests:
// canonical JSON over model/input/user, then SHA-256.
func EmbeddingsFingerprint(req *model.EmbeddingsRequest) (string, error) {
	input, err := canonicalJSON(req.Input)
	if err != nil {
		return "", err
	}
	view := embeddingsFingerprintView{Model: req.Model, Input: input, User: req.User}
	payload, err := canonicalJSON(view)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals v with map keys sorted (encoding/json already
// sorts map keys) and no insignificant whitespace, giving a stable byte
// representation for fields that differ only in source ordering.
func canonicalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
