package middleware

import "net/http"

// MaxBodySize rejects request bodies larger than n bytes. Reads past the
// limit fail inside the handler's JSON decode, which reports it as a bad
// request.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
