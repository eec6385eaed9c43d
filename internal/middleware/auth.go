package middleware

import (
	"net/http"

	"github.com/dukerupert/schoolpush/internal/auth"
	"github.com/dukerupert/schoolpush/internal/model"
)

// SessionSource reports the active login session.
type SessionSource interface {
	Session() (model.Session, bool)
}

// RequireSession rejects requests made while nobody is logged in and puts
// the active session into the request context.
func RequireSession(src SessionSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := src.Session()
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"not signed in"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
		})
	}
}
