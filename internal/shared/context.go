package shared

import "context"

type actorContextKey struct{}

// ContextWithActorID stores the acting user's ID in context. The upstream
// auth layer is responsible for setting it; zero means unattributed.
func ContextWithActorID(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorIDFromContext extracts the acting user's ID from context.
func ActorIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}
