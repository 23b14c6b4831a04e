// Package files serves entries of the contents manager as downloads.
package files

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/keithlinneman/nbweb/internal/contents"
	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/pathutil"
	"github.com/keithlinneman/nbweb/internal/urlpath"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

var ErrInvalidOptions = errors.New("invalid files handler options")

type Options struct {
	Manager contents.Manager

	// Prefix is stripped from the request path; default "/files/".
	Prefix string

	// OnError writes error responses; default http.Error with the
	// error's status.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// OnHidden is called for each refused hidden path.
	OnHidden func()
}

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = "/files/"
	}
	if o.OnError == nil {
		o.OnError = func(w http.ResponseWriter, _ *http.Request, err error) {
			status := httperr.StatusOf(err)
			http.Error(w, http.StatusText(status), status)
		}
	}
}

func (o *Options) validate() error {
	if o.Manager == nil {
		return xerrors.Wrap(ErrInvalidOptions, "Manager is required")
	}
	if !strings.HasPrefix(o.Prefix, "/") || !strings.HasSuffix(o.Prefix, "/") {
		return xerrors.Wrapf(ErrInvalidOptions, "Prefix %q must start and end with /", o.Prefix)
	}
	return nil
}

// Handler writes the requested entry verbatim as an attachment. Callers
// must authenticate requests before they reach it.
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
	ctx := r.Context()
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		h.opts.OnError(w, r, httperr.New(http.StatusMethodNotAllowed, ""))
		return
	}

	p, ok := strings.CutPrefix(r.URL.Path, h.opts.Prefix)
	if !ok {
		h.opts.OnError(w, r, httperr.NotFound())
		return
	}
	if pathutil.HasHiddenSegment(p) {
		log.FromContext(ctx).Info(ctx, "Refusing to serve hidden file, via 404 Error", "path", p)
		if h.opts.OnHidden != nil {
			h.opts.OnHidden()
		}
		h.opts.OnError(w, r, httperr.NotFound())
		return
	}

	dir, name := urlpath.Split(p)
	if name == "" {
		h.opts.OnError(w, r, httperr.NotFound())
		return
	}

	model, err := h.opts.Manager.GetModel(ctx, name, dir, true)
	if err != nil {
		if errors.Is(err, contents.ErrHidden) && h.opts.OnHidden != nil {
			h.opts.OnHidden()
		}
		h.opts.OnError(w, r, contents.HTTPError(err))
		return
	}
	if model.Type == contents.TypeDirectory {
		h.opts.OnError(w, r, httperr.Forbidden())
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", model.DownloadMimetype())
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("Content-Disposition", Disposition(name))
	hdr.Set("Content-Length", strconv.Itoa(len(model.Content)))
	if !model.LastModified.IsZero() {
		hdr.Set("Last-Modified", model.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := w.Write(model.Content); err != nil {
		log.FromContext(ctx).Warn(ctx, "write download", "path", p, "error", err.Error())
		return
	}
	if err := http.NewResponseController(w).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.FromContext(ctx).Debug(ctx, "flush download", "error", err.Error())
	}
}

// Disposition returns an attachment Content-Disposition for name. Names
// outside printable ASCII also get an RFC 5987 filename* parameter, with
// a "?"-substituted plain filename for older clients.
func Disposition(name string) string {
	plain := make([]byte, 0, len(name))
	ascii := true
	for _, c := range []byte(name) {
		switch {
		case c == '"' || c == '\\':
			plain = append(plain, '\\', c)
		case c < 0x20 || c > 0x7e:
			ascii = false
			if c < 0x80 || c >= 0xc0 {
				// one '?' per character: skip UTF-8 continuation bytes
				plain = append(plain, '?')
			}
		default:
			plain = append(plain, c)
		}
	}
	v := `attachment; filename="` + string(plain) + `"`
	if !ascii {
		v += "; filename*=UTF-8''" + strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
	}
	return v
}
