package api

import (
	"context"

	"github.com/moltgrid/agentforge/internal/identity"
)

type contextKey string

const agentContextKey contextKey = "agent"

func withAgent(ctx context.Context, a *identity.Agent) context.Context {
	return context.WithValue(ctx, agentContextKey, a)
}

// callerFrom returns the authenticated agent set by requireAPIKey. It
// panics if called from a route not mounted behind that middleware —
// every authenticated handler in this package relies on it running first.
func callerFrom(ctx context.Context) *identity.Agent {
	a, ok := ctx.Value(agentContextKey).(*identity.Agent)
	if !ok {
		panic("api: handler requires requireAPIKey middleware")
	}
	return a
}
