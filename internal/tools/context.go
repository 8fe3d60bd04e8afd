package tools

import (
	"context"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

// Scope identifies the caller of a tool: which room it acts in, which
// worker (if any) is speaking, and which run (if any) hosts the call.
// Tools refuse to touch rows belonging to another room.
type Scope struct {
	RoomID   int64
	WorkerID *int64
	RunID    *int64
	Role     string // "queen" or worker role
}

type scopeKey struct{}

// WithScope binds the caller scope into the context before dispatch.
func WithScope(ctx context.Context, sc Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, sc)
}

// ScopeFromCtx returns the caller scope. Tool execution without a scope is
// a programming error surfaced as an internal error.
func ScopeFromCtx(ctx context.Context) (Scope, error) {
	sc, ok := ctx.Value(scopeKey{}).(Scope)
	if !ok {
		return Scope{}, errs.New(errs.KindInternal, "tool call without caller scope")
	}
	return sc, nil
}
