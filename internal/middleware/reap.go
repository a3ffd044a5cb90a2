package middleware

import "net/http"

// Reaper is implemented by session.Reaper.
type Reaper interface {
	MaybeReap() (removed int, ran bool)
}

// Reap runs an opportunistic expiry check before each request.
func Reap(reaper Reaper) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reaper.MaybeReap()
			next.ServeHTTP(w, r)
		})
	}
}
