package webapp

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/keithlinneman/nbweb/internal/auth"
	"github.com/keithlinneman/nbweb/internal/contents"
	"github.com/keithlinneman/nbweb/internal/cors"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/ratelimit"
	"github.com/keithlinneman/nbweb/internal/webassets"
)

var ErrInvalidOptions = errors.New("invalid webapp options")

// Hooks receive per-request observations. Any of them may be nil.
type Hooks struct {
	StaticLookup func(cached bool)
	Hidden       func(handler string) func()
	APIError     func(status int)
	Login        func(success bool)
}

type Options struct {
	Logger  log.Logger
	BaseURL string

	// WebsocketURL is exposed to templates as ws_url.
	WebsocketURL string

	Auth     *auth.Authenticator
	Contents contents.Manager
	CORS     *cors.Policy

	// LoginLimiter throttles POST /login per client address when set.
	LoginLimiter *ratelimit.Limiter

	// StaticPaths and TemplatePaths are searched before the embedded
	// defaults.
	StaticPaths      []string
	TemplatePaths    []string
	DefaultStatic    fs.FS
	DefaultTemplates fs.FS

	Hooks Hooks
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.BaseURL == "" {
		o.BaseURL = "/"
	}
	if o.DefaultStatic == nil {
		o.DefaultStatic = webassets.StaticFS()
	}
	if o.DefaultTemplates == nil {
		o.DefaultTemplates = webassets.TemplatesFS()
	}
	if o.Hooks.Hidden == nil {
		o.Hooks.Hidden = func(string) func() { return nil }
	}
}

func (o *Options) validate() error {
	if o.Auth == nil {
		return fmt.Errorf("%w: Auth is required", ErrInvalidOptions)
	}
	if o.Contents == nil {
		return fmt.Errorf("%w: Contents is required", ErrInvalidOptions)
	}
	if !strings.HasPrefix(o.BaseURL, "/") || !strings.HasSuffix(o.BaseURL, "/") {
		return fmt.Errorf("%w: BaseURL %q must start and end with /", ErrInvalidOptions, o.BaseURL)
	}
	return nil
}
