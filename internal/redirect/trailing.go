package redirect

import (
	"net/http"
	"strings"

	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/urlpath"
)

// TrailingSlash redirects GET and HEAD requests for any path ending in "/"
// to the same path without trailing slashes, keeping the query. The site
// root and the base URL are left alone. Other methods on such paths are
// refused with 405 through onError. Mount it ahead of the router so it
// pre-empts every route.
func TrailingSlash(baseURL string, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	base := urlpath.Join("/", baseURL, "/")
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			status := httperr.StatusOf(err)
			http.Error(w, http.StatusText(status), status)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if p == "/" || p == base || !strings.HasSuffix(p, "/") {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Allow", "GET, HEAD")
				onError(w, r, httperr.New(http.StatusMethodNotAllowed, ""))
				return
			}

			// collapse leading slashes so "//host/" cannot become a
			// protocol-relative redirect
			target := "/" + strings.Trim(r.URL.EscapedPath(), "/")
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusFound)
		})
	}
}
