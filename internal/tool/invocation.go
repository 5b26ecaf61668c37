package tool

import "context"

// Invocation is the request-scoped context a handler may read. Handlers never
// see the conversation loop's state.
type Invocation struct {
	SessionID string
	Speaker   string
}

type invocationKey struct{}

func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

func InvocationFrom(ctx context.Context) Invocation {
	inv, _ := ctx.Value(invocationKey{}).(Invocation)
	return inv
}
