package middleware

import (
	"net/http"
	"time"
)

// Timeout wraps handlers with an http.TimeoutHandler, protecting against
// slow-read attacks on JSON endpoints.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"detail":"request timeout"}`)
	}
}
