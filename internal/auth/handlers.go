package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/keithlinneman/nbweb/internal/log"
)

// Pages renders a named page template with extra namespace values.
type Pages interface {
	Render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) error
}

// LoginHandler serves the login form and verifies posted passwords.
type LoginHandler struct {
	Auth    *Authenticator
	Pages   Pages
	BaseURL string

	// OnAttempt is called after every password check.
	OnAttempt func(success bool)
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.get(w, r)
	case http.MethodPost:
		h.post(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (h *LoginHandler) get(w http.ResponseWriter, r *http.Request) {
	next := SafeNext(r.URL.Query().Get("next"), h.BaseURL)
	if h.Auth.LoggedIn(w, r) {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	h.render(w, r, http.StatusOK, next, nil)
}

func (h *LoginHandler) post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}
	next := SafeNext(r.PostForm.Get("next"), h.BaseURL)
	if next == h.BaseURL {
		next = SafeNext(r.URL.Query().Get("next"), h.BaseURL)
	}

	if h.Auth.LoginAvailable() {
		ok := CheckPassword(h.Auth.passwordHash, r.PostForm.Get("password"))
		if h.OnAttempt != nil {
			h.OnAttempt(ok)
		}
		if !ok {
			L.Warn(ctx, "login failed")
			h.render(w, r, http.StatusUnauthorized, next, map[string]string{"error": "Invalid password"})
			return
		}
		user := uuid.NewString()
		if err := h.Auth.SetLoginCookie(w, r, user); err != nil {
			L.Error(ctx, err, "set login cookie")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		L.Info(ctx, "login succeeded", "user", user)
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (h *LoginHandler) render(w http.ResponseWriter, r *http.Request, status int, next string, message map[string]string) {
	err := h.Pages.Render(w, r, status, "login.html", map[string]any{
		"next":    next,
		"message": message,
	})
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "render login page")
	}
}

// LogoutHandler clears the login cookie and renders the logout page.
type LogoutHandler struct {
	Auth  *Authenticator
	Pages Pages
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Auth.ClearLoginCookie(w, r)

	message := map[string]string{"info": "Successfully logged out."}
	if !h.Auth.LoginAvailable() {
		message = map[string]string{"warning": "Cannot log out. Notebook authentication is disabled."}
	}
	// the cookie is already on its way out; render as logged out
	ctx := WithUser(r.Context(), "", false)
	err := h.Pages.Render(w, r.WithContext(ctx), http.StatusOK, "logout.html", map[string]any{
		"message": message,
	})
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "render logout page")
	}
}

// SafeNext returns next when it is a local path under baseURL, and baseURL
// otherwise.
func SafeNext(next, baseURL string) string {
	if next == "" || !strings.HasPrefix(next, baseURL) {
		return baseURL
	}
	if strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return baseURL
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return baseURL
	}
	return next
}
