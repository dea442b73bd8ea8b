package tools

import "context"

// Scope identifies who a generation cycle is serving.
type Scope struct {
	GuildID   string
	ChannelID string
	UserID    string
}

type scopeKey struct{}

// WithScope attaches scope to ctx for the tools of one cycle.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom returns the scope attached by WithScope.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(Scope)
	return scope, ok
}
