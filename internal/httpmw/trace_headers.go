package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceResponseHeaders echoes the current trace and span ids so a failed
// API call can be matched to its trace. Both headers are listed in
// Access-Control-Expose-Headers, otherwise cross-origin notebook
// frontends cannot read them.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	if traceHeader == "" {
		traceHeader = "X-Trace-Id"
	}
	if spanHeader == "" {
		spanHeader = "X-Span-Id"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
				h := w.Header()
				h.Set(traceHeader, sc.TraceID().String())
				h.Set(spanHeader, sc.SpanID().String())
				h.Add("Access-Control-Expose-Headers", traceHeader+", "+spanHeader)
			}
			next.ServeHTTP(w, r)
		})
	}
}
