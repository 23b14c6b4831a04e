package redirect

import (
	"net/http"
	"strings"

	"github.com/keithlinneman/nbweb/internal/contents"
	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/urlpath"
)

// Pages renders named HTML templates.
type Pages interface {
	Render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) error
}

// Crumb is one link of the tree page breadcrumb trail.
type Crumb struct {
	Name string
	URL  string
}

// TreeHandler renders the listing of a directory. Paths naming a file are
// redirected to the download handler.
type TreeHandler struct {
	Manager contents.Manager
	Pages   Pages
	BaseURL string

	// Prefix is stripped from the request path, e.g. "/tree/".
	Prefix string
}

func (h *TreeHandler) Serve(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	p, ok := strings.CutPrefix(r.URL.Path, h.Prefix)
	switch {
	case ok:
		p = urlpath.Normalize(p)
	case r.URL.Path+"/" == h.Prefix:
		p = ""
	default:
		return httperr.NotFound()
	}

	isDir, err := h.Manager.PathExists(ctx, p)
	if err != nil {
		return contents.HTTPError(err)
	}
	if !isDir {
		dir, name := urlpath.Split(p)
		found, err := h.Manager.FileExists(ctx, name, dir)
		if err != nil {
			return contents.HTTPError(err)
		}
		if !found {
			return httperr.NotFound()
		}
		http.Redirect(w, r, urlpath.Escape(urlpath.Join(h.BaseURL, "files", p)), http.StatusFound)
		return nil
	}

	model, err := h.Manager.GetModel(ctx, "", p, true)
	if err != nil {
		return contents.HTTPError(err)
	}
	title := p
	if title == "" {
		title = "Home"
	}
	return h.Pages.Render(w, r, http.StatusOK, "tree.html", map[string]any{
		"model":       model,
		"breadcrumbs": Breadcrumbs(h.BaseURL, p),
		"page_title":  title,
	})
}

// Breadcrumbs returns the trail from the root to directory p.
func Breadcrumbs(baseURL, p string) []Crumb {
	crumbs := []Crumb{{Name: "Home", URL: urlpath.Join(baseURL, "tree")}}
	if p == "" {
		return crumbs
	}
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		crumbs = append(crumbs, Crumb{
			Name: seg,
			URL:  urlpath.Escape(urlpath.Join(baseURL, "tree", strings.Join(segs[:i+1], "/"))),
		})
	}
	return crumbs
}
