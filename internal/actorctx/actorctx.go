// Package actorctx carries request-scoped identity on a context.Context so
// layers below the HTTP router can see who is acting without importing gin.
package actorctx

import "context"

type (
	userKey     struct{}
	requestKey  struct{}
	clientIPKey struct{}
)

// WithUserID stores the authenticated user id on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userKey{}).(string)

	return v, ok && v != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

func RequestIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestKey{}).(string)

	return v, ok && v != ""
}

// WithClientIP records the caller address resolved by the router.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientIPKey{}).(string)

	return v, ok && v != ""
}
