package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/nbweb/internal/httpmw"
)

// client is the bucket and bookkeeping for one address.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reported is set after the first denial hook ran; it resets when the
	// entry is evicted
	reported bool
}

// Limiter holds one token bucket per client address.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client

	perSecond  rate.Limit
	burst      int
	ttl        time.Duration
	maxClients int
	retryAfter time.Duration

	onFirstDenied func(addr string)
	onDenied      func(addr string)
	onCapacity    func()
}

type Option func(*Limiter)

// WithRate sets the refill rate and bucket size. WithRate(0.5, 5) allows
// five attempts at once, then one every two seconds.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle client stays tracked.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) { l.ttl = d }
}

// WithMaxClients caps the number of tracked clients. Unknown clients are
// denied while the table is full.
func WithMaxClients(n int) Option {
	return func(l *Limiter) { l.maxClients = n }
}

// WithRetryAfter sets the Retry-After hint sent with 429 responses.
func WithRetryAfter(d time.Duration) Option {
	return func(l *Limiter) { l.retryAfter = d }
}

// WithOnFirstDenied runs fn once per client when it is first denied.
func WithOnFirstDenied(fn func(addr string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnDenied runs fn on every denial.
func WithOnDenied(fn func(addr string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnCapacity runs fn whenever a new client is turned away because the
// table is full.
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.onCapacity = fn }
}

// New returns a Limiter whose eviction loop runs until ctx is done.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		clients:    make(map[string]*client),
		perSecond:  0.2,
		burst:      10,
		ttl:        10 * time.Minute,
		maxClients: 10000,
		retryAfter: 30 * time.Second,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

// Allow reports whether addr may proceed and consumes a token if so.
func (l *Limiter) Allow(addr string) bool {
	now := time.Now()

	l.mu.Lock()
	c, ok := l.clients[addr]
	if !ok {
		if l.maxClients > 0 && len(l.clients) >= l.maxClients {
			l.mu.Unlock()
			if l.onCapacity != nil {
				l.onCapacity()
			}
			if l.onDenied != nil {
				l.onDenied(addr)
			}
			return false
		}
		c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[addr] = c
	}
	c.lastSeen = now
	allowed := c.limiter.AllowN(now, 1)
	first := !allowed && !c.reported
	if first {
		c.reported = true
	}
	// hooks may log or touch metrics; run them unlocked
	l.mu.Unlock()

	if allowed {
		return true
	}
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(addr)
	}
	if l.onDenied != nil {
		l.onDenied(addr)
	}
	return false
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, c := range l.clients {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.clients, addr)
		}
	}
}

// Middleware answers 429 with a JSON error body once the client address
// from httpmw.ClientIP is over its limit.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	retry := strconv.Itoa(int(l.retryAfter.Round(time.Second) / time.Second))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", retry)
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusTooManyRequests)
			// no detail about the remaining budget
			_, _ = w.Write([]byte(`{"message":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
