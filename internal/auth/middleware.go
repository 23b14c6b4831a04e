package auth

import (
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/nbweb/internal/log"
)

// Identify resolves the login cookie once per request and stores the
// result in the request context for UserFromContext.
func (a *Authenticator) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.CurrentUser(w, r)
		ctx := WithUser(r.Context(), user, ok)
		if ok {
			ctx = log.With(ctx, "user", user)
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.Bool("app.user.anonymous", user == Anonymous))
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects requests without an identity. GET and HEAD are sent
// to loginURL with the original location in ?next=, other methods get 403.
func RequireUser(loginURL string, onDenied func(http.ResponseWriter, *http.Request, int)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				q := url.Values{"next": {r.URL.RequestURI()}}
				http.Redirect(w, r, loginURL+"?"+q.Encode(), http.StatusFound)
				return
			}
			if onDenied != nil {
				onDenied(w, r, http.StatusForbidden)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}
