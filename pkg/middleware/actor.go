package middleware

import (
	"context"
	"net/http"
)

type contextKeyType string

const userIDKey contextKeyType = "user_id"

// ActorHeader carries the identity of the acting user, set by the gateway
// after it has authenticated the request.
const ActorHeader = "X-User-ID"

// Actor extracts the acting user from the ActorHeader and stores it in the
// request context. The service trusts the gateway to have authenticated the
// caller; requests without the header proceed with an empty actor.
func Actor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor := r.Header.Get(ActorHeader); actor != "" {
				ctx := context.WithValue(r.Context(), userIDKey, actor)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext extracts the acting user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
