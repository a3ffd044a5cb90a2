package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/capitalize-ai/gemini-relay/internal/token"
)

// RateLimit creates rate limiting middleware. Every request counts against
// its client IP; requests carrying a well formed token cookie also count
// against that token, so a token cannot escape the limit by changing IP.
func RateLimit(requestLimit int, windowLength time.Duration, cookieName string) func(http.Handler) http.Handler {
	onLimit := limitHandler(windowLength)

	byIP := httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(onLimit),
	)
	byToken := httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			tok, _ := cookieToken(r, cookieName)
			return "token:" + tok, nil
		}),
		httprate.WithLimitHandler(onLimit),
	)

	return func(next http.Handler) http.Handler {
		withToken := byToken(next)
		return byIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cookieToken(r, cookieName); ok {
				withToken.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func cookieToken(r *http.Request, cookieName string) (string, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}
	tok, err := token.Normalize(c.Value)
	return tok, err == nil
}

func limitHandler(windowLength time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(windowLength.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limit exceeded, try again later"))
	}
}
