package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/pathutil"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// web application
	BaseURL       string
	WebsocketURL  string
	StaticPaths   StringList
	TemplatePaths StringList
	Headers       HeaderList
	MaxBodyBytes  int64
	TrustedHops   int

	// auth
	CookieName         string
	CookieSecret       string
	CookieSecretSSM    string
	CookieSecretKMS    string
	PasswordHash       string
	PasswordHashSSM    string
	LoginRatePerSecond float64
	LoginBurst         int

	// cors
	AllowOrigin      string
	AllowOriginPat   string
	AllowCredentials bool

	// contents
	ContentsRoot     string
	ContentsS3Bucket string
	ContentsS3Prefix string
	ContentsMaxBytes int64
}

// StringList is a repeatable string flag.
type StringList []string

func (s *StringList) String() string { return strings.Join(*s, ",") }

// Set appends a value; comma separated values (as delivered by env vars)
// are split into separate entries.
func (s *StringList) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}

// HeaderList is a repeatable "Name: value" flag. Entries are stored in
// the order given; validity of names and values is checked where they
// are applied.
type HeaderList []Header

type Header struct {
	Name  string
	Value string
}

func (h *HeaderList) String() string {
	parts := make([]string, 0, len(*h))
	for _, x := range *h {
		parts = append(parts, x.Name+": "+x.Value)
	}
	return strings.Join(parts, "; ")
}

func (h *HeaderList) Set(v string) error {
	var parsed []Header
	for _, entry := range strings.Split(v, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, ":")
		if !ok {
			return fmt.Errorf("header %q must be in Name: value form", entry)
		}
		parsed = append(parsed, Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	*h = append(*h, parsed...)
	return nil
}

// Map returns the headers keyed by name, later entries winning.
func (h HeaderList) Map() map[string]string {
	out := make(map[string]string, len(h))
	for _, x := range h {
		out[x.Name] = x.Value
	}
	return out
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8888, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.BaseURL, "base-url", "/", "URL prefix the application is mounted under")
	fs.StringVar(&c.WebsocketURL, "websocket-url", "", "websocket origin exposed to templates as ws_url (empty = same host)")
	fs.Var(&c.StaticPaths, "static-path", "directory searched for /static files, in order (repeatable)")
	fs.Var(&c.TemplatePaths, "template-path", "directory searched for page templates before the built-in ones (repeatable)")
	fs.Var(&c.Headers, "header", "extra response header as 'Name: value' (repeatable)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 16<<20, "maximum request body size in bytes")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in X-Forwarded-For")

	fs.StringVar(&c.CookieName, "cookie-name", "", "login cookie name (default username-<host>)")
	fs.StringVar(&c.CookieSecret, "cookie-secret", "", "secret (>= 32 bytes) used to sign login cookies (random per process when empty)")
	fs.StringVar(&c.CookieSecretSSM, "cookie-secret-ssm-param", "", "ssm parameter holding the cookie secret")
	fs.StringVar(&c.CookieSecretKMS, "cookie-secret-kms", "", "base64 KMS ciphertext of the cookie secret")
	fs.StringVar(&c.PasswordHash, "password-hash", "", "bcrypt hash of the login password (empty disables login)")
	fs.StringVar(&c.PasswordHashSSM, "password-hash-ssm-param", "", "ssm parameter holding the bcrypt password hash")
	fs.Float64Var(&c.LoginRatePerSecond, "login-rate", 0.2, "login attempts per second allowed per client ip")
	fs.IntVar(&c.LoginBurst, "login-burst", 5, "login attempt burst per client ip")

	fs.StringVar(&c.AllowOrigin, "allow-origin", "", "exact Access-Control-Allow-Origin value ('*' allowed)")
	fs.StringVar(&c.AllowOriginPat, "allow-origin-pat", "", "regular expression matched against the request origin")
	fs.BoolVar(&c.AllowCredentials, "allow-credentials", false, "send Access-Control-Allow-Credentials: true")

	fs.StringVar(&c.ContentsRoot, "contents-root", ".", "local directory served through the contents manager")
	fs.StringVar(&c.ContentsS3Bucket, "contents-s3-bucket", "", "serve contents from this s3 bucket instead of contents-root")
	fs.StringVar(&c.ContentsS3Prefix, "contents-s3-prefix", "", "s3 key prefix for contents")
	fs.Int64Var(&c.ContentsMaxBytes, "contents-max-bytes", 64<<20, "largest file the contents manager will read")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Web application
	if !strings.HasPrefix(c.BaseURL, "/") {
		errs = append(errs, fmt.Errorf("BASE_URL must start with / (got %q)", c.BaseURL))
	} else if strings.ContainsAny(c.BaseURL, "?#\\") || pathutil.HasDotSegments(c.BaseURL) {
		errs = append(errs, fmt.Errorf("BASE_URL %q is not a clean path", c.BaseURL))
	}
	if c.WebsocketURL != "" {
		if u, err := url.Parse(c.WebsocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Errorf("WEBSOCKET_URL must be a ws:// or wss:// URL (got %q)", c.WebsocketURL))
		}
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive (got %d)", c.MaxBodyBytes))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}

	// Auth
	if countSet(c.CookieSecret, c.CookieSecretSSM, c.CookieSecretKMS) > 1 {
		errs = append(errs, fmt.Errorf("COOKIE_SECRET, COOKIE_SECRET_SSM_PARAM and COOKIE_SECRET_KMS are mutually exclusive"))
	}
	if c.CookieSecret != "" && len(c.CookieSecret) < 32 {
		errs = append(errs, fmt.Errorf("COOKIE_SECRET must be at least 32 bytes"))
	}
	if c.PasswordHash != "" && c.PasswordHashSSM != "" {
		errs = append(errs, fmt.Errorf("PASSWORD_HASH and PASSWORD_HASH_SSM_PARAM are mutually exclusive"))
	}
	if c.PasswordHash != "" && !strings.HasPrefix(c.PasswordHash, "$2") {
		errs = append(errs, fmt.Errorf("PASSWORD_HASH must be a bcrypt hash (see -hash-password)"))
	}
	if c.LoginRatePerSecond <= 0 || c.LoginBurst < 1 {
		errs = append(errs, fmt.Errorf("LOGIN_RATE must be > 0 and LOGIN_BURST >= 1 (got %.3f, %d)", c.LoginRatePerSecond, c.LoginBurst))
	}

	// CORS
	if c.AllowOriginPat != "" {
		if _, err := regexp.Compile(c.AllowOriginPat); err != nil {
			errs = append(errs, fmt.Errorf("invalid ALLOW_ORIGIN_PAT %q: %w", c.AllowOriginPat, err))
		}
	}

	// Contents
	if c.ContentsS3Bucket == "" && c.ContentsRoot == "" {
		errs = append(errs, fmt.Errorf("one of CONTENTS_ROOT or CONTENTS_S3_BUCKET is required"))
	}
	if c.ContentsS3Prefix != "" && c.ContentsS3Bucket == "" {
		errs = append(errs, fmt.Errorf("CONTENTS_S3_PREFIX requires CONTENTS_S3_BUCKET"))
	}
	if c.ContentsMaxBytes < 1 {
		errs = append(errs, fmt.Errorf("CONTENTS_MAX_BYTES must be positive (got %d)", c.ContentsMaxBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func countSet(vals ...string) int {
	n := 0
	for _, v := range vals {
		if v != "" {
			n++
		}
	}
	return n
}
