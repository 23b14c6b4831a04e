// Package render executes the HTML page templates and renders HTML error
// pages.
//
// Templates are looked up by file name along a search path: operator
// template directories first, then the embedded defaults. Every page is
// parsed together with page.html, which defines the shared "head", "foot"
// and "messages" blocks. Parsed templates are cached for the life of the
// Renderer.
package render

import (
	"bytes"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/keithlinneman/nbweb/internal/auth"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/pathutil"
	"github.com/keithlinneman/nbweb/internal/urlpath"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// ErrTemplateNotFound is returned when no search path entry has the
// requested template.
var ErrTemplateNotFound = errors.New("template not found")

const layoutName = "page.html"

type Options struct {
	Logger log.Logger

	// TemplateDirs are searched in order before Defaults.
	TemplateDirs []string
	Defaults     fs.FS

	BaseURL      string
	WebsocketURL string

	// StaticURL maps a static path to its public URL. Defaults to
	// base_url + "static/" + path.
	StaticURL func(path string) string

	// LoginAvailable reports whether password login is configured.
	LoginAvailable func() bool
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.BaseURL == "" {
		o.BaseURL = "/"
	}
	if o.StaticURL == nil {
		base := o.BaseURL
		o.StaticURL = func(p string) string { return urlpath.Join(base, "static", p) }
	}
	if o.LoginAvailable == nil {
		o.LoginAvailable = func() bool { return false }
	}
}

type Renderer struct {
	opts   Options
	search []fs.FS
	funcs  template.FuncMap

	mu    sync.Mutex
	cache map[string]*template.Template
}

func New(opts Options) (*Renderer, error) {
	opts.setDefaults()

	var search []fs.FS
	for _, dir := range opts.TemplateDirs {
		dir = pathutil.ExpandUser(dir)
		info, err := os.Stat(dir)
		if err != nil {
			return nil, xerrors.Wrapf(err, "template dir %q", dir)
		}
		if !info.IsDir() {
			return nil, xerrors.Newf("template dir %q is not a directory", dir)
		}
		search = append(search, os.DirFS(dir))
	}
	if opts.Defaults != nil {
		search = append(search, opts.Defaults)
	}
	if len(search) == 0 {
		return nil, xerrors.New("render: no template sources configured")
	}

	r := &Renderer{
		opts:   opts,
		search: search,
		cache:  make(map[string]*template.Template),
	}
	r.funcs = template.FuncMap{
		"static_url": opts.StaticURL,
		"url_join":   urlpath.Join,
		"url_escape": urlpath.Escape,
	}
	return r, nil
}

// readTemplate returns the source of name from the first search entry
// that has it.
func (r *Renderer) readTemplate(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, ErrTemplateNotFound
	}
	for _, fsys := range r.search {
		data, err := fs.ReadFile(fsys, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.Wrapf(err, "read template %q", name)
		}
	}
	return nil, ErrTemplateNotFound
}

// Lookup returns the parsed template for name.
func (r *Renderer) Lookup(name string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.cache[name]; ok {
		return t, nil
	}

	src, err := r.readTemplate(name)
	if err != nil {
		return nil, err
	}

	t := template.New(name).Funcs(r.funcs)
	if name != layoutName {
		layout, err := r.readTemplate(layoutName)
		if err != nil && !errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		if layout != nil {
			if _, err := t.New(layoutName).Parse(string(layout)); err != nil {
				return nil, xerrors.Wrapf(err, "parse %s", layoutName)
			}
		}
	}
	if _, err := t.Parse(string(src)); err != nil {
		return nil, xerrors.Wrapf(err, "parse template %q", name)
	}
	r.cache[name] = t
	return t, nil
}

// Namespace returns the values every page template can use.
func (r *Renderer) Namespace(req *http.Request) map[string]any {
	user, ok := auth.UserFromContext(req.Context())
	return map[string]any{
		"base_url":        r.opts.BaseURL,
		"ws_url":          r.opts.WebsocketURL,
		"logged_in":       ok && user != "" && user != auth.Anonymous,
		"login_available": r.opts.LoginAvailable(),
	}
}

// Render executes template name with the global namespace overlaid by data
// and writes it with status. Nothing is written when rendering fails.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, status int, name string, data map[string]any) error {
	t, err := r.Lookup(name)
	if err != nil {
		return err
	}

	ns := r.Namespace(req)
	for k, v := range data {
		ns[k] = v
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ns); err != nil {
		return xerrors.Wrapf(err, "execute template %q", name)
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	if req.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
	}
	return nil
}
