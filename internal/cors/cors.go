// Package cors decides the Access-Control-* response headers for requests
// served by the notebook web server.
//
// A Policy is built once from configuration and is safe for concurrent use.
// The exact origin, when configured, takes precedence over the pattern.
package cors

import (
	"net/http"
	"regexp"

	chicors "github.com/go-chi/cors"

	"github.com/keithlinneman/nbweb/internal/xerrors"
)

const (
	headerAllowOrigin      = "Access-Control-Allow-Origin"
	headerAllowCredentials = "Access-Control-Allow-Credentials"
)

// Options configures a Policy.
type Options struct {
	// AllowOrigin is emitted verbatim on every response when non-empty.
	AllowOrigin string

	// AllowOriginPat is matched against the start of the request origin.
	// Ignored when AllowOrigin is set.
	AllowOriginPat string

	// AllowCredentials emits Access-Control-Allow-Credentials: true.
	AllowCredentials bool

	// PreflightMaxAge is the preflight cache lifetime in seconds.
	PreflightMaxAge int
}

// Policy is the immutable CORS configuration of the server.
type Policy struct {
	allowOrigin      string
	originPat        *regexp.Regexp
	allowCredentials bool
	maxAge           int
}

// New compiles the origin pattern and returns the policy.
func New(opts Options) (*Policy, error) {
	p := &Policy{
		allowOrigin:      opts.AllowOrigin,
		allowCredentials: opts.AllowCredentials,
		maxAge:           opts.PreflightMaxAge,
	}
	if p.maxAge <= 0 {
		p.maxAge = 300
	}
	if opts.AllowOriginPat != "" {
		re, err := regexp.Compile(`^(?:` + opts.AllowOriginPat + `)`)
		if err != nil {
			return nil, xerrors.Wrapf(err, "compile allow-origin pattern %q", opts.AllowOriginPat)
		}
		p.originPat = re
	}
	return p, nil
}

// RequestOrigin returns the Origin header, falling back to
// Sec-Websocket-Origin used by older websocket clients.
func RequestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	return r.Header.Get("Sec-Websocket-Origin")
}

// AllowedOrigin returns the Access-Control-Allow-Origin value for a request
// carrying origin, and whether the header should be emitted at all.
func (p *Policy) AllowedOrigin(origin string) (string, bool) {
	if p == nil {
		return "", false
	}
	if p.allowOrigin != "" {
		return p.allowOrigin, true
	}
	if p.originPat != nil && origin != "" && p.originPat.MatchString(origin) {
		return origin, true
	}
	return "", false
}

// Apply sets the CORS headers for r on w.
func (p *Policy) Apply(w http.ResponseWriter, r *http.Request) {
	if p == nil {
		return
	}
	h := w.Header()
	// a pattern makes the response depend on Origin, matched or not
	if p.allowOrigin == "" && p.originPat != nil {
		h.Add("Vary", "Origin")
	}
	if v, ok := p.AllowedOrigin(RequestOrigin(r)); ok {
		h.Set(headerAllowOrigin, v)
	}
	if p.allowCredentials {
		h.Set(headerAllowCredentials, "true")
	}
}

// Middleware applies the policy before calling next.
func (p *Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Apply(w, r)
		next.ServeHTTP(w, r)
	})
}

// allowPreflight reports whether a preflight from origin may proceed.
func (p *Policy) allowPreflight(_ *http.Request, origin string) bool {
	if p.allowOrigin != "" {
		return p.allowOrigin == "*" || p.allowOrigin == origin
	}
	_, ok := p.AllowedOrigin(origin)
	return ok
}

// Preflight answers OPTIONS preflight requests for API routes. Requests
// that are not preflights go straight to next, so the regular policy
// headers stay the only ones on actual responses.
func (p *Policy) Preflight() func(http.Handler) http.Handler {
	h := chicors.Handler(chicors.Options{
		AllowOriginFunc:  p.allowPreflight,
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Xsrftoken"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: p.allowCredentials,
		MaxAge:           p.maxAge,
	})
	return func(next http.Handler) http.Handler {
		pre := h(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				pre.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
