package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/nbweb/internal/httpmw"
)

func newTestLimiter(t *testing.T, opts ...Option) *Limiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	all := append([]Option{WithRate(1, 3), WithTTL(time.Hour)}, opts...)
	return New(ctx, all...)
}

// ---- Allow ----

func TestAllow_BurstThenDeny(t *testing.T) {
	l := newTestLimiter(t)
	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("attempt 4 should be denied")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("other clients keep their own bucket")
	}
}

func TestAllow_Hooks(t *testing.T) {
	var first, denied atomic.Int32
	l := newTestLimiter(t,
		WithRate(0.001, 1),
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnDenied(func(string) { denied.Add(1) }),
	)
	for i := 0; i < 4; i++ {
		l.Allow("10.0.0.1")
	}
	if first.Load() != 1 {
		t.Errorf("first-denied hook ran %d times, want 1", first.Load())
	}
	if denied.Load() != 3 {
		t.Errorf("denied hook ran %d times, want 3", denied.Load())
	}
}

func TestAllow_Capacity(t *testing.T) {
	var full atomic.Int32
	l := newTestLimiter(t, WithMaxClients(2), WithOnCapacity(func() { full.Add(1) }))

	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("clients below the cap should be allowed")
	}
	if l.Allow("c") {
		t.Fatal("new client over the cap should be denied")
	}
	if !l.Allow("a") {
		t.Fatal("known clients are unaffected by the cap")
	}
	if full.Load() != 1 || l.Len() != 2 {
		t.Fatalf("capacity hook=%d len=%d", full.Load(), l.Len())
	}
}

func TestEvict(t *testing.T) {
	var first atomic.Int32
	l := newTestLimiter(t, WithRate(0.001, 1), WithTTL(time.Minute), WithOnFirstDenied(func(string) { first.Add(1) }))

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.1")
	l.evict(time.Now().Add(2 * time.Minute))
	if l.Len() != 0 {
		t.Fatalf("idle client should be evicted, len=%d", l.Len())
	}

	// a re-created entry reports its first denial again
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.1")
	if first.Load() != 2 {
		t.Fatalf("first-denied hook ran %d times, want 2", first.Load())
	}
}

func TestEvictLoop_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(ctx, WithTTL(20*time.Millisecond))
	l.Allow("10.0.0.1")
	cancel()
	time.Sleep(60 * time.Millisecond)
	if l.Len() != 1 {
		t.Fatal("entries should persist once the eviction loop has stopped")
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := newTestLimiter(t, WithRate(0.001, 50))
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("10.0.0.1") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 50 {
		t.Fatalf("allowed = %d, want exactly the burst of 50", allowed.Load())
	}
}

// ---- Middleware ----

func serve(h http.Handler, addr string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r = r.WithContext(httpmw.WithClientIP(r.Context(), addr))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware(t *testing.T) {
	l := newTestLimiter(t, WithRate(0.001, 1), WithRetryAfter(90*time.Second))
	var reached atomic.Int32
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))

	if w := serve(h, "203.0.113.9"); w.Code != http.StatusNoContent {
		t.Fatalf("first request: %d", w.Code)
	}
	w := serve(h, "203.0.113.9")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "90" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if got := w.Body.String(); got != `{"message":"too many requests"}` {
		t.Errorf("body = %q", got)
	}
	if reached.Load() != 1 {
		t.Errorf("handler reached %d times, want 1", reached.Load())
	}
}

func TestDefaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := New(ctx)
	if l.burst != 10 || l.perSecond != 0.2 || l.ttl != 10*time.Minute || l.maxClients != 10000 {
		t.Fatalf("defaults = burst %d rate %v ttl %v max %d", l.burst, l.perSecond, l.ttl, l.maxClients)
	}
}
