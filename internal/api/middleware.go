package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const UserIDContextKey = contextKey("userID")

// UserIDMiddleware takes the caller's user id from the Authorization header.
// Both "Bearer <id>" and a bare "<id>" are accepted.
func UserIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromHeader(r.Header.Get("Authorization"))
		if userID == "" {
			respondWithError(w, http.StatusUnauthorized, "missing user credential")
			return
		}
		ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromHeader(header string) string {
	header = strings.TrimSpace(header)
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(rest)
	}
	if strings.EqualFold(header, "bearer") {
		return ""
	}
	return header
}

// UserFromContext returns the user id set by UserIDMiddleware.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	return userID, ok && userID != ""
}
