// Package webapp mounts the notebook pages, downloads, static files and
// the contents API under the base URL.
package webapp

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keithlinneman/nbweb/internal/auth"
	"github.com/keithlinneman/nbweb/internal/files"
	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/httpmw"
	"github.com/keithlinneman/nbweb/internal/jsonapi"
	"github.com/keithlinneman/nbweb/internal/redirect"
	"github.com/keithlinneman/nbweb/internal/render"
	"github.com/keithlinneman/nbweb/internal/staticfile"
	"github.com/keithlinneman/nbweb/internal/urlpath"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// App holds the assembled handlers.
type App struct {
	opts     Options
	renderer *render.Renderer
	static   *staticfile.Handler
	files    *files.Handler
	tree     *redirect.TreeHandler
	redirect *redirect.FilesHandler
	api      *contentsAPI
}

func New(opts Options) (*App, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	a := &App{opts: opts}
	base := opts.BaseURL

	resolver, err := staticfile.NewResolver(opts.StaticPaths)
	if err != nil {
		return nil, xerrors.Wrap(err, "static search path")
	}
	resolver.OnLookup = opts.Hooks.StaticLookup

	// renderer and static handler refer to each other through closures
	a.renderer, err = render.New(render.Options{
		Logger:         opts.Logger,
		TemplateDirs:   opts.TemplatePaths,
		Defaults:       opts.DefaultTemplates,
		BaseURL:        base,
		WebsocketURL:   opts.WebsocketURL,
		StaticURL:      func(p string) string { return a.static.URL(p) },
		LoginAvailable: opts.Auth.LoginAvailable,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "templates")
	}

	a.static, err = staticfile.New(staticfile.Options{
		Logger:   opts.Logger,
		Resolver: resolver,
		Fallback: opts.DefaultStatic,
		Prefix:   urlpath.Join(base, "static/"),
		OnError:  a.renderer.WriteError,
		OnHidden: opts.Hooks.Hidden("static"),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "static handler")
	}

	a.files, err = files.New(files.Options{
		Manager:  opts.Contents,
		Prefix:   urlpath.Join(base, "files/"),
		OnError:  a.renderer.WriteError,
		OnHidden: opts.Hooks.Hidden("files"),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "files handler")
	}

	a.tree = &redirect.TreeHandler{
		Manager: opts.Contents,
		Pages:   a.renderer,
		BaseURL: base,
		Prefix:  urlpath.Join(base, "tree/"),
	}
	a.redirect = &redirect.FilesHandler{
		Manager: opts.Contents,
		BaseURL: base,
		Prefix:  urlpath.Join(base, "notebooks/"),
	}
	a.api = &contentsAPI{
		manager: opts.Contents,
		prefix:  urlpath.Join(base, "api/contents/"),
	}
	return a, nil
}

// Renderer returns the HTML renderer shared by every page.
func (a *App) Renderer() *render.Renderer { return a.renderer }

func (a *App) NotFound(w http.ResponseWriter, r *http.Request) {
	if a.isAPI(r) {
		a.apiError(w, r, httperr.NotFound())
		return
	}
	a.renderer.NotFound(w, r)
}

func (a *App) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if a.isAPI(r) {
		a.apiError(w, r, httperr.New(http.StatusMethodNotAllowed, ""))
		return
	}
	a.renderer.MethodNotAllowed(w, r)
}

func (a *App) isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, urlpath.Join(a.opts.BaseURL, "api/"))
}

func (a *App) apiError(w http.ResponseWriter, r *http.Request, err error) {
	jsonapi.Errors(func(http.ResponseWriter, *http.Request) error { return err }, a.opts.Hooks.APIError).ServeHTTP(w, r)
}

// denied answers requests RequireUser turned away.
func (a *App) denied(w http.ResponseWriter, r *http.Request, status int) {
	err := httperr.New(status, "")
	if a.isAPI(r) {
		a.apiError(w, r, err)
		return
	}
	a.renderer.WriteError(w, r, err)
}

// Routes registers middleware and routes on r. It must be called before
// any other route is added to r. The CORS policy is applied at this level
// so redirects and the NotFound/MethodNotAllowed pages carry it too.
func (a *App) Routes(r chi.Router) {
	base := a.opts.BaseURL

	if a.opts.CORS != nil {
		r.Use(a.opts.CORS.Middleware)
	}
	r.Use(redirect.TrailingSlash(base, a.renderer.WriteError))
	r.Use(middleware.GetHead)
	r.Use(a.opts.Auth.Identify)

	if base == "/" {
		a.mount(r)
		return
	}
	r.Route(strings.TrimSuffix(base, "/"), a.mount)
}

func (a *App) mount(r chi.Router) {
	base := a.opts.BaseURL
	loginURL := urlpath.Join(base, "login")
	requireUser := auth.RequireUser(loginURL, a.denied)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, urlpath.Join(base, "tree"), http.StatusFound)
	})

	login := &auth.LoginHandler{
		Auth:      a.opts.Auth,
		Pages:     a.renderer,
		BaseURL:   base,
		OnAttempt: a.opts.Hooks.Login,
	}
	r.With(httpmw.Scope("login")).Get("/login", login.ServeHTTP)
	if a.opts.LoginLimiter != nil {
		r.With(httpmw.Scope("login"), a.opts.LoginLimiter.Middleware).Post("/login", login.ServeHTTP)
	} else {
		r.With(httpmw.Scope("login")).Post("/login", login.ServeHTTP)
	}
	r.Get("/logout", (&auth.LogoutHandler{Auth: a.opts.Auth, Pages: a.renderer}).ServeHTTP)

	r.With(httpmw.Scope("static")).Handle("/static/*", a.static)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.With(httpmw.Scope("files")).Handle("/files/*", a.files)

		tree := a.renderer.Errors(a.tree.Serve)
		r.With(httpmw.Scope("tree")).Get("/tree", tree.ServeHTTP)
		r.With(httpmw.Scope("tree")).Get("/tree/*", tree.ServeHTTP)

		r.With(httpmw.Scope("notebooks")).Get("/notebooks/*", a.renderer.Errors(a.redirect.Serve).ServeHTTP)
	})

	r.Route("/api", func(r chi.Router) {
		if a.opts.CORS != nil {
			r.Use(a.opts.CORS.Preflight())
		}
		r.Use(httpmw.Scope("contents-api"), requireUser)

		get := jsonapi.Errors(a.api.get, a.opts.Hooks.APIError)
		put := jsonapi.Errors(a.api.put, a.opts.Hooks.APIError)
		r.Get("/contents", get.ServeHTTP)
		r.Get("/contents/*", get.ServeHTTP)
		r.Put("/contents/*", put.ServeHTTP)
	})
}
