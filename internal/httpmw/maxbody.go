package httpmw

import "net/http"

// MaxBody caps request bodies at n bytes. Reads past the cap fail and the
// handler answers 413 or 400 depending on how it reports the read error.
// n <= 0 disables the limit.
func MaxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
