package staticfile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/pathutil"
	"github.com/keithlinneman/nbweb/internal/urlpath"
)

// Handler serves files from the search path, then from the fallback FS.
// It never emits ETag; clients revalidate with Last-Modified.
type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		h.opts.OnError(w, r, httperr.New(http.StatusMethodNotAllowed, ""))
		return
	}

	name, ok := strings.CutPrefix(r.URL.Path, h.opts.Prefix)
	if !ok || name == "" || strings.Contains(name, "\x00") || pathutil.HasDotSegments(name) {
		h.opts.OnError(w, r, httperr.NotFound())
		return
	}
	if pathutil.HasHiddenSegment(name) {
		h.refuseHidden(w, r, name)
		return
	}

	versioned := r.URL.Query().Has("v")

	if abs := h.opts.Resolver.Resolve(name); abs != "" {
		canon, err := h.opts.Resolver.Validate(abs)
		if err != nil {
			if errors.Is(err, ErrHidden) {
				h.refuseHidden(w, r, name)
				return
			}
			h.opts.OnError(w, r, err)
			return
		}
		h.serveDisk(w, r, name, canon, versioned)
		return
	}

	if h.opts.Fallback != nil && existsFile(h.opts.Fallback, name) {
		h.serveFS(w, r, name, versioned)
		return
	}

	h.opts.OnError(w, r, httperr.NotFound())
}

func (h *Handler) refuseHidden(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	log.FromContext(ctx).Info(ctx, "Refusing to serve hidden file, via 404 Error", "file", name)
	if h.opts.OnHidden != nil {
		h.opts.OnHidden()
	}
	h.opts.OnError(w, r, httperr.Wrap(http.StatusNotFound, ErrHidden, ""))
}

func (h *Handler) serveDisk(w http.ResponseWriter, r *http.Request, name, abs string, versioned bool) {
	f, err := os.Open(abs)
	if err != nil {
		h.opts.OnError(w, r, httperr.Wrap(http.StatusNotFound, err, ""))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.opts.OnError(w, r, httperr.Wrap(http.StatusInternalServerError, err, ""))
		return
	}
	h.serveContent(w, r, name, info.ModTime(), f, versioned)
}

func (h *Handler) serveFS(w http.ResponseWriter, r *http.Request, name string, versioned bool) {
	f, err := h.opts.Fallback.Open(name)
	if err != nil {
		h.opts.OnError(w, r, httperr.Wrap(http.StatusNotFound, err, ""))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.opts.OnError(w, r, httperr.Wrap(http.StatusInternalServerError, err, ""))
		return
	}
	rs, ok := f.(io.ReadSeeker)
	if !ok {
		h.opts.OnError(w, r, httperr.New(http.StatusInternalServerError, ""))
		return
	}
	h.serveContent(w, r, name, info.ModTime(), rs, versioned)
}

func (h *Handler) serveContent(w http.ResponseWriter, r *http.Request, name string, mod time.Time, content io.ReadSeeker, versioned bool) {
	hdr := w.Header()
	hdr.Del("Etag")
	if cc := cacheControlForFile(name, versioned, &h.opts); cc != "" {
		hdr.Set("Cache-Control", cc)
	}
	http.ServeContent(w, r, name, mod, content)
}

// URL returns the public URL of a static file under Prefix, with a ?v=
// content hash when the file can be found. Hashes are computed once per
// path.
func (h *Handler) URL(name string) string {
	u := urlpath.Join(h.opts.Prefix, urlpath.Escape(name))
	if v := h.version(name); v != "" {
		u += "?v=" + v
	}
	return u
}

func (h *Handler) version(name string) string {
	res := h.opts.Resolver
	res.mu.Lock()
	v, ok := res.hashes[name]
	res.mu.Unlock()
	if ok {
		return v
	}

	var rc io.ReadCloser
	if abs := res.Resolve(name); abs != "" {
		if canon, err := res.Validate(abs); err == nil {
			if f, err := os.Open(canon); err == nil {
				rc = f
			}
		}
	} else if h.opts.Fallback != nil && existsFile(h.opts.Fallback, name) {
		if f, err := h.opts.Fallback.Open(name); err == nil {
			rc = f
		}
	}
	if rc != nil {
		sum := sha256.New()
		if _, err := io.Copy(sum, rc); err == nil {
			v = hex.EncodeToString(sum.Sum(nil))[:16]
		}
		rc.Close()
	}

	res.mu.Lock()
	res.hashes[name] = v
	res.mu.Unlock()
	return v
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
