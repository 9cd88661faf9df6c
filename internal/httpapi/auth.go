package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"github.com/corewave-ai/litegate/internal/model"
)

// Authenticator resolves an incoming request's credentials into a
// PrincipalContext. Authentication itself is an external concern — the
// core only consumes the resolved result.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*model.PrincipalContext, error)
}

// HashKey returns the lookup hash for a raw API key: the Authorization
// bearer token is SHA-256-hashed before being used as a lookup key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// StaticAuthenticator resolves bearer tokens against an in-memory table
// of pre-hashed PrincipalContexts. It exists so litegate can run
// standalone without a separate key-management service wired in; a real
// deployment supplies its own Authenticator backed by its own store.
type StaticAuthenticator struct {
	mu  sync.RWMutex
	byH map[string]*model.PrincipalContext
}

// NewStaticAuthenticator creates an empty StaticAuthenticator.
func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{byH: make(map[string]*model.PrincipalContext)}
}

// AddKey registers rawKey as authenticating principal.
func (a *StaticAuthenticator) AddKey(rawKey string, principal *model.PrincipalContext) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byH[HashKey(rawKey)] = principal
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(_ context.Context, r *http.Request) (*model.PrincipalContext, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return nil, model.NewError(model.ErrAuthentication, "missing bearer token")
	}
	a.mu.RLock()
	p, ok := a.byH[HashKey(raw)]
	a.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.ErrAuthentication, "invalid api key")
	}
	return p, nil
}
