package httpmw

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnnotateHTTPRoute names the server span after the chi route pattern once
// routing is done. Requests chi could not match are named "unmatched" so
// notebook and file paths stay out of span names, matching the metrics
// route label.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		ctx := r.Context()
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}

		route := ""
		if rc := chi.RouteContext(ctx); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = "unmatched"
		}
		span.SetAttributes(attribute.String("http.route", route))
		if id := RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("app.request_id", id))
		}
		span.SetName(r.Method + " " + route)
	})
}
