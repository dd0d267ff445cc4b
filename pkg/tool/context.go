package tool

import "context"

type ownerKey struct{}
type scopeKey struct{}

// Scope is the execution context a turn runs in: the active room (when the
// session belongs to one) and the session itself. Zero fields mean no scope
// of that kind is active.
type Scope struct {
	RoomID    string
	SessionID string
}

// WithOwner stamps the acting user's id onto the context. Owner-scoped tools
// registered process-wide read it at execution time.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the acting user's id, or "" when absent.
func OwnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}

// WithScope stamps the active room and session onto the context so tools can
// reject reads of resources bound to another scope.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the active scope, zero when absent.
func ScopeFromContext(ctx context.Context) Scope {
	if v, ok := ctx.Value(scopeKey{}).(Scope); ok {
		return v
	}
	return Scope{}
}
