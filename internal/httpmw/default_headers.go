package httpmw

import (
	"context"
	"net/http"
	"sort"

	"golang.org/x/net/http/httpguts"

	"github.com/keithlinneman/nbweb/internal/log"
)

// DefaultHeaders sets X-Frame-Options: SAMEORIGIN and the operator supplied
// header map on every response. Entries in extra override the default.
// Entries whose name or value is not a valid HTTP header field are dropped
// once at construction and logged.
func DefaultHeaders(extra map[string]string, logger log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}

	headers := http.Header{}
	headers.Set("X-Frame-Options", "SAMEORIGIN")

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := extra[name]
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			logger.Warn(context.Background(), "skipping invalid response header",
				"header", name,
			)
			continue
		}
		headers.Set(name, value)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dst := w.Header()
			for k, v := range headers {
				dst[k] = v
			}
			next.ServeHTTP(w, r)
		})
	}
}
