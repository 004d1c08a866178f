package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// actorKey is the context key the identity middleware stores the actor ID under.
// An unexported struct type so no other package can collide with it.
type actorKey struct{}

// NewIdentityHandler returns a middleware that reads the acting user's ID from
// the X-User-ID header and places it in the request context. Authentication
// itself lives in the surrounding platform; this server only needs to know who
// the already-authenticated caller is.
//
// Requests without a valid UUID in X-User-ID are rejected with 401.
func NewIdentityHandler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(r.Header.Get("X-User-ID"))
			if err != nil {
				http.Error(w, "missing or malformed X-User-ID header", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), id)))
		})
	}
}

// WithActor returns a context carrying id as the acting user.
// Exposed for handler tests that bypass the middleware.
func WithActor(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actorKey{}, id)
}

// ActorFromContext returns the acting user's ID placed by NewIdentityHandler.
// The second return is false when no actor is present (e.g. unauthenticated
// routes like /healthz).
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorKey{}).(uuid.UUID)
	return id, ok
}
