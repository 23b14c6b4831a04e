// Package auth manages the signed login cookie that identifies a browser
// session, and the optional password login in front of it.
package auth

import (
	"context"
	"crypto/rand"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// Anonymous is the identity used when login is not required.
const Anonymous = "anonymous"

var nonAlphaNum = regexp.MustCompile(`[^A-Za-z0-9]`)

// CookieName returns configured when set, otherwise "username-<host>" with
// every character outside [A-Za-z0-9] replaced by '-'.
func CookieName(configured, host string) string {
	if configured != "" {
		return configured
	}
	return nonAlphaNum.ReplaceAllString("username-"+host, "-")
}

type Options struct {
	Logger log.Logger

	// CookieName overrides the per-host default name.
	CookieName string

	// Secret signs the cookie. A random key is generated when empty, so
	// logins do not survive a restart.
	Secret []byte

	// PasswordHash is a bcrypt hash. Empty disables login entirely.
	PasswordHash string

	// CookiePath scopes the cookie. Default "/".
	CookiePath string

	// MaxAge bounds how long a signed cookie is accepted. Default 30 days.
	MaxAge time.Duration
}

// Authenticator reads and writes the login cookie.
type Authenticator struct {
	logger       log.Logger
	codec        *securecookie.SecureCookie
	cookieName   string
	cookiePath   string
	maxAge       time.Duration
	passwordHash string
}

func New(opts Options) (*Authenticator, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * 24 * time.Hour
	}
	secret := opts.Secret
	if len(secret) == 0 {
		secret = make([]byte, 64)
		if _, err := rand.Read(secret); err != nil {
			return nil, xerrors.Wrap(err, "generate cookie secret")
		}
	}
	if len(secret) < 32 {
		return nil, xerrors.Newf("cookie secret must be at least 32 bytes (got %d)", len(secret))
	}

	codec := securecookie.New(secret, nil)
	codec.MaxAge(int(opts.MaxAge.Seconds()))

	return &Authenticator{
		logger:       opts.Logger,
		codec:        codec,
		cookieName:   opts.CookieName,
		cookiePath:   opts.CookiePath,
		maxAge:       opts.MaxAge,
		passwordHash: opts.PasswordHash,
	}, nil
}

// CookieName returns the cookie name used for requests to r.Host.
func (a *Authenticator) CookieName(r *http.Request) string {
	return CookieName(a.cookieName, r.Host)
}

// LoginAvailable reports whether a password is configured.
func (a *Authenticator) LoginAvailable() bool {
	return a.passwordHash != ""
}

// CurrentUser returns the identity carried by the request's login cookie.
//
// A valid cookie with an empty value is "anonymous". A cookie that fails
// verification is cleared. Without a usable cookie the user is "anonymous"
// when login is not available, and ok is false otherwise. A non-empty
// user is always returned with ok true.
func (a *Authenticator) CurrentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := a.CookieName(r)
	c, err := r.Cookie(name)
	if err == nil {
		var user string
		derr := a.codec.Decode(name, c.Value, &user)
		if derr == nil {
			if user == "" {
				user = Anonymous
			}
			return user, true
		}
		a.logger.Debug(r.Context(), "invalid login cookie, clearing", "cookie", name, "reason", derr.Error())
		a.ClearLoginCookie(w, r)
	}
	if !a.LoginAvailable() {
		return Anonymous, true
	}
	return "", false
}

// LoggedIn reports whether the request carries a real, non-anonymous
// identity.
func (a *Authenticator) LoggedIn(w http.ResponseWriter, r *http.Request) bool {
	user, ok := a.CurrentUser(w, r)
	return ok && user != Anonymous
}

// SetLoginCookie writes a signed cookie carrying user.
func (a *Authenticator) SetLoginCookie(w http.ResponseWriter, r *http.Request, user string) error {
	name := a.CookieName(r)
	encoded, err := a.codec.Encode(name, user)
	if err != nil {
		return xerrors.Wrap(err, "encode login cookie")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    encoded,
		Path:     a.cookiePath,
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(a.maxAge),
		MaxAge:   int(a.maxAge.Seconds()),
	})
	return nil
}

// ClearLoginCookie expires the login cookie on the client.
func (a *Authenticator) ClearLoginCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.CookieName(r),
		Value:    "",
		Path:     a.cookiePath,
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

// identity is what Identify stores per request.
type identity struct {
	user string
	ok   bool
}

type ctxKey struct{}

// WithUser attaches a resolved identity to ctx.
func WithUser(ctx context.Context, user string, ok bool) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity{user: user, ok: ok})
}

// UserFromContext returns the identity resolved by Identify. ok is false
// when the request is not logged in or Identify did not run.
func UserFromContext(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(ctxKey{}).(identity)
	return id.user, id.ok
}
