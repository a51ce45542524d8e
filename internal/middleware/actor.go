package middleware

import (
	"context"
	"net/http"
	"strconv"
)

const headerUserID = "X-User-ID"

// actorKey is the context key for the acting user's id.
type actorKey struct{}

// Actor is HTTP middleware that extracts the acting user from the X-User-ID
// header. Requests without a parseable user id are rejected; every lifecycle
// operation needs an actor to attribute the transition to.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(headerUserID), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "missing or invalid "+headerUserID+" header", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActorID(r.Context(), id)))
	})
}

// WithActorID returns a new context with the acting user's id stored.
func WithActorID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, actorKey{}, id)
}

// ActorIDFromContext extracts the acting user's id from the context.
// Returns 0 if no actor is set.
func ActorIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey{}).(int64)
	return id
}
