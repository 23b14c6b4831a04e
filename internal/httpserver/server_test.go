package httpserver

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/nbweb/internal/httpmw"
	"github.com/keithlinneman/nbweb/internal/log"
)

func testRoutes(r chi.Router) {
	r.Get("/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hi "+httpmw.ClientIPFromContext(r.Context()))
	})
	r.Get("/big", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"cells":"`+strings.Repeat("x", 4096)+`"}`)
	})
	r.Put("/echo", func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
			return
		}
		_, _ = w.Write(b)
	})
	r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
}

func newTestHandler(t *testing.T, mut func(*Options)) http.Handler {
	t.Helper()
	opts := &Options{
		Logger:       log.Nop(),
		Routes:       testRoutes,
		MaxBodyBytes: 16,
		UseRecoverMW: true,
		NotFound: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "custom missing", http.StatusNotFound)
		},
		MethodNotAllowed: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "custom method", http.StatusMethodNotAllowed)
		},
	}
	if mut != nil {
		mut(opts)
	}
	return NewHandler(opts)
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

// ---- middleware stack ----

func TestNewHandler_RoutesAndDefaults(t *testing.T) {
	h := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "hi 203.0.113.9" {
		t.Fatalf("body = %q", got)
	}
	if rec.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Errorf("X-Frame-Options = %q", rec.Header().Get("X-Frame-Options"))
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
}

func TestNewHandler_RequestIDEchoed(t *testing.T) {
	h := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	if got := serve(h, req).Header().Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("X-Request-Id = %q", got)
	}
}

func TestNewHandler_OperatorHeaders(t *testing.T) {
	h := newTestHandler(t, func(o *Options) {
		o.Headers = map[string]string{
			"X-Frame-Options":         "DENY",
			"Content-Security-Policy": "frame-ancestors 'none'",
		}
	})
	// headers also land on error responses
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("X-Frame-Options = %q", rec.Header().Get("X-Frame-Options"))
	}
	if rec.Header().Get("Content-Security-Policy") != "frame-ancestors 'none'" {
		t.Errorf("CSP = %q", rec.Header().Get("Content-Security-Policy"))
	}
}

func TestNewHandler_NotFoundAndMethod(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "custom missing") {
		t.Fatalf("404 = %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/hello", nil))
	if rec.Code != http.StatusMethodNotAllowed || !strings.Contains(rec.Body.String(), "custom method") {
		t.Fatalf("405 = %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewHandler_RecoversPanic(t *testing.T) {
	panics := 0
	h := newTestHandler(t, func(o *Options) { o.OnPanic = func() { panics++ } })

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic calls = %d", panics)
	}
	if rec.Header().Get("X-Frame-Options") == "" {
		t.Error("default headers missing on recovered panic")
	}
}

func TestNewHandler_OptionalMiddlewareSkipped(t *testing.T) {
	h := newTestHandler(t, func(o *Options) {
		o.UseRecoverMW = false
		o.MetricsMW = nil
	})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/hello", nil))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "hi ") {
		t.Fatalf("hello = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" || rec.Header().Get("X-Frame-Options") == "" {
		t.Fatalf("request id and default headers still expected: %v", rec.Header())
	}

	defer func() {
		if recover() == nil {
			t.Fatal("panic should propagate without the recover middleware")
		}
	}()
	serve(h, httptest.NewRequest(http.MethodGet, "/panic", nil))
}

func TestNewHandler_MaxBody(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := serve(h, httptest.NewRequest(http.MethodPut, "/echo", strings.NewReader("small")))
	if rec.Code != http.StatusOK || rec.Body.String() != "small" {
		t.Fatalf("small body = %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(h, httptest.NewRequest(http.MethodPut, "/echo", strings.NewReader(strings.Repeat("y", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("large body status = %d, want 413", rec.Code)
	}
}

func TestNewHandler_Compresses(t *testing.T) {
	h := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := serve(h, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", rec.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if !strings.HasPrefix(string(body), `{"cells":"xxx`) {
		t.Fatalf("decoded body = %.20q", body)
	}
}

func TestNewHandler_MetricsMiddlewareWraps(t *testing.T) {
	var seen []string
	h := newTestHandler(t, func(o *Options) {
		o.MetricsMW = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = append(seen, r.URL.Path)
				next.ServeHTTP(w, r)
			})
		}
	})
	serve(h, httptest.NewRequest(http.MethodGet, "/hello", nil))
	serve(h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if strings.Join(seen, ",") != "/hello,/nope" {
		t.Fatalf("metrics saw %v", seen)
	}
}

func TestShouldTrace(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/tree", true},
		{"/api/contents/a.ipynb", true},
		{"/files/report.csv", true},
		{"/static/js/main.js", false},
		{"/nb/static/custom.css", false},
		{"/favicon.ico", false},
		{"/-/ready", false},
		{"/files/logo.PNG", false},
	}
	for _, tt := range tests {
		if got := shouldTrace(tt.path); got != tt.want {
			t.Errorf("shouldTrace(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

// ---- server lifecycle ----

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler(), 0)
	if srv.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("WriteTimeout = %v", srv.WriteTimeout)
	}
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Errorf("server = %+v", srv)
	}
	if NewServer(":0", nil, 5).WriteTimeout != 5 {
		t.Error("explicit write timeout ignored")
	}
}

func TestStart_ServesAndStops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx := context.Background()
	stop, err := Start(ctx, &Options{Logger: log.Nop(), Port: port, Routes: testRoutes})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/hello", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
