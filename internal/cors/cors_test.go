package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustPolicy(t *testing.T, opts Options) *Policy {
	t.Helper()
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_InvalidPattern(t *testing.T) {
	if _, err := New(Options{AllowOriginPat: "(unclosed"}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		headers   map[string]string
		wantAllow string
		wantCreds string
		wantVary  string
	}{
		{
			name:      "exact origin emitted without request origin",
			opts:      Options{AllowOrigin: "https://app.example.com"},
			wantAllow: "https://app.example.com",
		},
		{
			name:      "exact origin wins over pattern",
			opts:      Options{AllowOrigin: "*", AllowOriginPat: `https://x\.com`},
			headers:   map[string]string{"Origin": "https://x.com"},
			wantAllow: "*",
		},
		{
			name:      "pattern match echoes origin",
			opts:      Options{AllowOriginPat: `https?://localhost(:\d+)?`},
			headers:   map[string]string{"Origin": "http://localhost:8888"},
			wantAllow: "http://localhost:8888",
			wantVary:  "Origin",
		},
		{
			name:      "pattern anchored at start only",
			opts:      Options{AllowOriginPat: `https://good\.com`},
			headers:   map[string]string{"Origin": "https://good.com.evil.net"},
			wantAllow: "https://good.com.evil.net",
			wantVary:  "Origin",
		},
		{
			name:     "pattern not at start",
			opts:     Options{AllowOriginPat: `good\.com`},
			headers:  map[string]string{"Origin": "https://good.com"},
			wantVary: "Origin",
		},
		{
			name:      "websocket origin fallback",
			opts:      Options{AllowOriginPat: `https://ws\.example\.com`},
			headers:   map[string]string{"Sec-Websocket-Origin": "https://ws.example.com"},
			wantAllow: "https://ws.example.com",
			wantVary:  "Origin",
		},
		{
			name:     "no origin with pattern",
			opts:     Options{AllowOriginPat: `.*`},
			wantVary: "Origin",
		},
		{
			name:      "credentials without origin",
			opts:      Options{AllowCredentials: true},
			wantCreds: "true",
		},
		{
			name:      "credentials with exact origin",
			opts:      Options{AllowOrigin: "https://a.com", AllowCredentials: true},
			wantAllow: "https://a.com",
			wantCreds: "true",
		},
		{
			name:    "nothing configured",
			headers: map[string]string{"Origin": "https://a.com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPolicy(t, tt.opts)
			req := httptest.NewRequest(http.MethodGet, "/api/contents", http.NoBody)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			p.Apply(rec, req)

			if got := rec.Header().Get(headerAllowOrigin); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := rec.Header().Get(headerAllowCredentials); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
			if got := rec.Header().Get("Vary"); got != tt.wantVary {
				t.Errorf("Vary = %q, want %q", got, tt.wantVary)
			}
		})
	}
}

func TestApply_NilPolicy(t *testing.T) {
	var p *Policy
	rec := httptest.NewRecorder()
	p.Apply(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if len(rec.Header()) != 0 {
		t.Fatalf("nil policy set headers: %v", rec.Header())
	}
}

func TestMiddleware_CallsNext(t *testing.T) {
	p := mustPolicy(t, Options{AllowOrigin: "*"})
	called := false
	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if w.Header().Get(headerAllowOrigin) != "*" {
			t.Error("headers should be set before next runs")
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if !called {
		t.Fatal("next not called")
	}
}

// ----------------------------------------------------------------------------
// Preflight
// ----------------------------------------------------------------------------

func preflightRequest(origin, method string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/api/contents/a.ipynb", http.NoBody)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", method)
	return req
}

func TestPreflight_AllowedOrigin(t *testing.T) {
	p := mustPolicy(t, Options{AllowOriginPat: `https://.*\.example\.com`, AllowCredentials: true})
	nextCalled := false
	h := p.Preflight()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflightRequest("https://lab.example.com", http.MethodPut))

	if nextCalled {
		t.Fatal("preflight must not reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(headerAllowOrigin); got != "https://lab.example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != http.MethodPut {
		t.Fatalf("Allow-Methods = %q", got)
	}
	if got := rec.Header().Get(headerAllowCredentials); got != "true" {
		t.Fatalf("Allow-Credentials = %q", got)
	}
}

func TestPreflight_RejectedOrigin(t *testing.T) {
	p := mustPolicy(t, Options{AllowOrigin: "https://only.example.com"})
	h := p.Preflight()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflightRequest("https://other.example.com", http.MethodGet))
	if got := rec.Header().Get(headerAllowOrigin); got != "" {
		t.Fatalf("Allow-Origin = %q, want empty", got)
	}
}

func TestPreflight_PassesActualRequests(t *testing.T) {
	p := mustPolicy(t, Options{AllowOrigin: "*"})
	h := p.Preflight()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, m := range []string{http.MethodGet, http.MethodOptions} {
		req := httptest.NewRequest(m, "/api/contents", http.NoBody)
		req.Header.Set("Origin", "https://a.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: status = %d, want 204", m, rec.Code)
		}
		if got := rec.Header().Get(headerAllowOrigin); got != "" {
			t.Errorf("%s: preflight handler leaked Allow-Origin %q", m, got)
		}
	}
}
