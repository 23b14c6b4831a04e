package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/nbweb/internal/httpmw"
	"github.com/keithlinneman/nbweb/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Routes mounts the application on the root router. Middleware it
	// registers with Use runs before route matching.
	Routes           func(chi.Router)
	NotFound         http.HandlerFunc
	MethodNotAllowed http.HandlerFunc

	// Headers are set on every response, X-Frame-Options: SAMEORIGIN
	// unless overridden.
	Headers      map[string]string
	MaxBodyBytes int64
	ClientIPOpts httpmw.ClientIPOptions

	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler

	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
}
