package staticfile

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/keithlinneman/nbweb/internal/httperr"
)

type handlerFixture struct {
	h      *Handler
	root   string
	errs   []error
	hidden int
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{root: t.TempDir()}
	writeFile(t, filepath.Join(f.root, "style", "site.css"), "body{}")
	writeFile(t, filepath.Join(f.root, "notes.txt"), "plain")
	writeFile(t, filepath.Join(f.root, ".hidden", "x.css"), "x")
	writeFile(t, filepath.Join(f.root, "override.css"), "disk")

	h, err := New(Options{
		Resolver: mustResolver(t, f.root),
		Prefix:   "/nb/static/",
		Fallback: fstest.MapFS{
			"base/favicon.svg": {Data: []byte("<svg/>")},
			"override.css":     {Data: []byte("embedded")},
		},
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			f.errs = append(f.errs, err)
			status := httperr.StatusOf(err)
			w.WriteHeader(status)
		},
		OnHidden: func() { f.hidden++ },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.h = h
	return f
}

func (f *handlerFixture) get(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))
	return rec
}

func TestNew_InvalidOptions(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
	r := mustResolver(t, t.TempDir())
	if _, err := New(Options{Resolver: r, Prefix: "static"}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
}

func TestHandler_Serve(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		target      string
		status      int
		body        string
		contentType string
		cache       string
	}{
		{"disk asset", "GET", "/nb/static/style/site.css", 200, "body{}", "text/css; charset=utf-8", "public, max-age=3600"},
		{"versioned", "GET", "/nb/static/style/site.css?v=abc", 200, "body{}", "text/css; charset=utf-8", "public, max-age=31536000, immutable"},
		{"other type", "GET", "/nb/static/notes.txt", 200, "plain", "text/plain; charset=utf-8", "no-cache"},
		{"embedded fallback", "GET", "/nb/static/base/favicon.svg", 200, "<svg/>", "image/svg+xml", "public, max-age=3600"},
		{"disk beats embedded", "GET", "/nb/static/override.css", 200, "disk", "text/css; charset=utf-8", "public, max-age=3600"},
		{"head", "HEAD", "/nb/static/notes.txt", 200, "", "text/plain; charset=utf-8", "no-cache"},
		{"missing", "GET", "/nb/static/nope.css", 404, "", "", ""},
		{"prefix only", "GET", "/nb/static/", 404, "", "", ""},
		{"wrong prefix", "GET", "/other/site.css", 404, "", "", ""},
		{"dot segments", "GET", "/nb/static/style/../notes.txt", 404, "", "", ""},
		{"method", "POST", "/nb/static/notes.txt", 405, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.get(tt.method, tt.target)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (errs=%v)", rec.Code, tt.status, f.errs)
			}
			if tt.status != 200 {
				return
			}
			if rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
			if got := rec.Header().Get("Content-Type"); got != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", got, tt.contentType)
			}
			if got := rec.Header().Get("Cache-Control"); got != tt.cache {
				t.Errorf("Cache-Control = %q, want %q", got, tt.cache)
			}
			if rec.Header().Get("Etag") != "" {
				t.Error("ETag must never be set")
			}
		})
	}
}

func TestHandler_HiddenRefused(t *testing.T) {
	f := newFixture(t)
	rec := f.get("GET", "/nb/static/.hidden/x.css")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if f.hidden != 1 {
		t.Fatalf("OnHidden calls = %d", f.hidden)
	}
	if len(f.errs) != 1 || !errors.Is(f.errs[0], ErrHidden) {
		t.Fatalf("errs = %v", f.errs)
	}
}

func TestHandler_MethodSetsAllow(t *testing.T) {
	f := newFixture(t)
	rec := f.get("DELETE", "/nb/static/notes.txt")
	if got := rec.Header().Get("Allow"); got != "GET, HEAD" {
		t.Fatalf("Allow = %q", got)
	}
}

func TestHandler_ConditionalGet(t *testing.T) {
	f := newFixture(t)
	first := f.get("GET", "/nb/static/notes.txt")
	lm := first.Header().Get("Last-Modified")
	if lm == "" {
		t.Fatal("disk files should carry Last-Modified")
	}

	req := httptest.NewRequest("GET", "/nb/static/notes.txt", http.NoBody)
	req.Header.Set("If-Modified-Since", lm)
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec.Code)
	}
}

func TestHandler_URL(t *testing.T) {
	f := newFixture(t)

	u := f.h.URL("style/site.css")
	base, v, ok := strings.Cut(u, "?v=")
	if !ok || base != "/nb/static/style/site.css" || len(v) != 16 {
		t.Fatalf("URL = %q", u)
	}
	if again := f.h.URL("style/site.css"); again != u {
		t.Fatalf("version not stable: %q vs %q", again, u)
	}

	if u := f.h.URL("base/favicon.svg"); !strings.HasPrefix(u, "/nb/static/base/favicon.svg?v=") {
		t.Fatalf("embedded URL = %q", u)
	}
	if u := f.h.URL("missing file.js"); u != "/nb/static/missing%20file.js" {
		t.Fatalf("missing URL = %q", u)
	}
}

func TestHandler_DefaultOnError(t *testing.T) {
	h, err := New(Options{Resolver: mustResolver(t, t.TempDir())})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/static/none.css", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCacheControlForFile(t *testing.T) {
	o := &Options{}
	o.setDefaults()
	tests := []struct {
		file      string
		versioned bool
		want      string
	}{
		{"a.css", false, o.AssetCacheControl},
		{"A.JS", false, o.AssetCacheControl},
		{"fonts/x.woff2", false, o.AssetCacheControl},
		{"readme.md", false, o.OtherCacheControl},
		{"noext", false, o.OtherCacheControl},
		{"readme.md", true, o.VersionedCacheControl},
	}
	for _, tt := range tests {
		if got := cacheControlForFile(tt.file, tt.versioned, o); got != tt.want {
			t.Errorf("cacheControlForFile(%q, %v) = %q, want %q", tt.file, tt.versioned, got, tt.want)
		}
	}
}
