package redirect

import (
	"net/http"
	"slices"
	"strings"

	"github.com/keithlinneman/nbweb/internal/contents"
	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/urlpath"
)

// FilesHandler sends a path to the page that can show it: directories to
// the tree view, files to the download handler. Pre-2.0 links that carry
// an extra "files/" segment are still honored when the literal path does
// not exist.
type FilesHandler struct {
	Manager contents.Manager
	BaseURL string

	// Prefix is stripped from the request path, e.g. "/notebooks/".
	Prefix string
}

func (h *FilesHandler) Serve(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	p, ok := strings.CutPrefix(r.URL.Path, h.Prefix)
	if !ok {
		return httperr.NotFound()
	}
	p = urlpath.Normalize(p)

	target, err := h.target(r, p)
	if err != nil {
		return err
	}
	log.FromContext(ctx).Debug(ctx, "redirecting", "from", r.URL.Path, "to", target)
	http.Redirect(w, r, target, http.StatusFound)
	return nil
}

func (h *FilesHandler) target(r *http.Request, p string) (string, error) {
	ctx := r.Context()
	isDir, err := h.Manager.PathExists(ctx, p)
	if err != nil {
		return "", contents.HTTPError(err)
	}
	if isDir {
		return urlpath.Escape(urlpath.Join(h.BaseURL, "tree", p)), nil
	}

	parts := strings.Split(p, "/")
	name := parts[len(parts)-1]
	dir := strings.Join(parts[:len(parts)-1], "/")

	found, err := h.Manager.FileExists(ctx, name, dir)
	if err != nil {
		return "", contents.HTTPError(err)
	}
	if !found {
		i := slices.Index(parts[:len(parts)-1], "files")
		if i < 0 {
			return "", httperr.NotFound()
		}
		log.FromContext(ctx).Warn(ctx, "Deprecated files/ URL", "path", p)
		parts = slices.Delete(parts, i, i+1)
		dir = strings.Join(parts[:len(parts)-1], "/")
		if found, err = h.Manager.FileExists(ctx, name, dir); err != nil {
			return "", contents.HTTPError(err)
		}
		if !found {
			return "", httperr.NotFound()
		}
	}
	return urlpath.Escape(urlpath.Join(h.BaseURL, "files", dir, name)), nil
}
