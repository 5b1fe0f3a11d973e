package middleware

import (
	"net/http"
	"slices"
)

// SkipCompressionFor wraps a compression middleware so requests for any of
// the given paths bypass it. Media payloads are already compressed.
func SkipCompressionFor(compressionHandler func(http.Handler) http.Handler, paths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(paths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
