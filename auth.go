package mcp

import (
	"context"
	"net/http"
)

// Authorizer decides whether the current principal may perform method on target. Target is the
// tool or prompt name, or the resource uri. The engine hides denied items from listings and rejects
// denied calls.
type Authorizer interface {
	Authorize(ctx context.Context, principal any, method, target string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, principal any, method, target string) bool

// PrincipalFunc extracts the authenticated principal from an HTTP request. Authentication itself
// happens in front of the engine, usually in middleware that this function reads from.
type PrincipalFunc func(r *http.Request) any

type principalContextKey struct{}

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, principal any, method, target string) bool {
	return f(ctx, principal, method, target)
}

// ContextWithPrincipal returns a context carrying principal.
func ContextWithPrincipal(ctx context.Context, principal any) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the principal carried by ctx, or nil.
func PrincipalFromContext(ctx context.Context) any {
	return ctx.Value(principalContextKey{})
}

func (e *Engine) permitted(ctx context.Context, method, target string) bool {
	if e.authorizer == nil {
		return true
	}
	return e.authorizer.Authorize(ctx, PrincipalFromContext(ctx), method, target)
}
