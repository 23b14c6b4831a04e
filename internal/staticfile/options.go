package staticfile

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/log"
)

var ErrInvalidOptions = errors.New("invalid staticfile options")

type Options struct {
	Logger   log.Logger
	Resolver *Resolver

	// Fallback is consulted when no search root has the file.
	Fallback fs.FS

	// Prefix is the URL path the handler is mounted at, e.g. "/static/".
	Prefix string

	// OnError writes the response for a failed request. Defaults to a
	// plain http.Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// OnHidden is called every time a hidden file is refused.
	OnHidden func()

	// Cache policies. Versioned applies to requests carrying ?v=.
	VersionedCacheControl string // default: "public, max-age=31536000, immutable"
	AssetCacheControl     string // default: "public, max-age=3600"
	OtherCacheControl     string // default: "no-cache"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Prefix == "" {
		o.Prefix = "/static/"
	}
	if o.OnError == nil {
		o.OnError = func(w http.ResponseWriter, _ *http.Request, err error) {
			status := httperr.StatusOf(err)
			http.Error(w, http.StatusText(status), status)
		}
	}
	if o.VersionedCacheControl == "" {
		o.VersionedCacheControl = "public, max-age=31536000, immutable"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=3600"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "no-cache"
	}
}

func (o *Options) validate() error {
	if o.Resolver == nil {
		return fmt.Errorf("%w: Resolver is nil", ErrInvalidOptions)
	}
	if o.Prefix[0] != '/' || o.Prefix[len(o.Prefix)-1] != '/' {
		return fmt.Errorf("%w: Prefix %q must start and end with /", ErrInvalidOptions, o.Prefix)
	}
	return nil
}
