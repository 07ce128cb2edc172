package auth

import (
	"encoding/json"
	"net/http"
)

// Middleware puts the caller's claims into the request context and answers
// 401 for missing or bad tokens. seen is called for every authenticated
// caller and may be nil.
func Middleware(a *Authenticator, seen func(*Claims)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Authenticate(r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}
			if claims == nil {
				next.ServeHTTP(w, r)
				return
			}
			if seen != nil {
				seen(claims)
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireUser rejects requests that carry no identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
