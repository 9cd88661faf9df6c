package httpapi

import (
	"context"

	"github.com/corewave-ai/litegate/internal/model"
)

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func setPrincipal(ctx context.Context, p *model.PrincipalContext) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func principalFromContext(ctx context.Context) *model.PrincipalContext {
	p, _ := ctx.Value(ctxKeyPrincipal).(*model.PrincipalContext)
	return p
}
