// Package toolset declares the tool catalog that wraps the shared Sandbox
// for LLM function calling: shell_exec, write_file, read_file.
package toolset

import "context"

type sessionContextKey struct{}

// SessionContext carries the per-call data a tool handler needs beyond its
// JSON parameters, per the handler contract (input, session_context).
type SessionContext struct {
	UserID   string
	ThreadID string
}

// WithSessionContext attaches sc to ctx for a tool's Execute call to read.
func WithSessionContext(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sc)
}

// SessionContextFrom extracts the SessionContext attached by
// WithSessionContext, if any.
func SessionContextFrom(ctx context.Context) (SessionContext, bool) {
	sc, ok := ctx.Value(sessionContextKey{}).(SessionContext)
	return sc, ok
}
