package render

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// WriteError renders the error page for err. It tries "<status>.html",
// then "error.html", and finally writes a plain text body. The page
// receives status_code, status_message, message and exception on top of
// the global namespace.
func (r *Renderer) WriteError(w http.ResponseWriter, req *http.Request, err error) {
	if err == nil {
		return
	}
	ctx := req.Context()
	L := log.FromContext(ctx)

	status := httperr.StatusOf(err)
	if status < 100 || status > 999 {
		status = http.StatusInternalServerError
	}
	var reason, message string
	if he, ok := httperr.As(err); ok {
		reason = he.Reason
		message = he.Message()
	}
	statusMessage := httperr.StatusMessage(status, reason)

	switch {
	case status >= 500:
		L.Error(ctx, xerrors.EnsureTrace(err), "request failed", "http.response.status_code", status)
	case status == http.StatusNotFound:
		L.Debug(ctx, "not found", "error", err.Error())
	default:
		L.Warn(ctx, "request rejected", "http.response.status_code", status, "error", err.Error())
	}

	data := map[string]any{
		"status_code":    status,
		"status_message": statusMessage,
		"message":        message,
		"exception":      err.Error(),
		"page_title":     fmt.Sprintf("%d %s", status, statusMessage),
	}

	// error pages are never served from cache
	w.Header().Set("Cache-Control", "no-store")

	for _, name := range []string{fmt.Sprintf("%d.html", status), "error.html"} {
		rerr := r.Render(w, req, status, name, data)
		if rerr == nil {
			return
		}
		if !errors.Is(rerr, ErrTemplateNotFound) {
			L.Error(ctx, rerr, "render error page", "template", name)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	if message == "" {
		message = statusMessage
	}
	_, _ = fmt.Fprintf(w, "%d: %s\n", status, message)
}

// NotFound renders the 404 page.
func (r *Renderer) NotFound(w http.ResponseWriter, req *http.Request) {
	r.WriteError(w, req, httperr.NotFound())
}

// MethodNotAllowed renders the 405 page.
func (r *Renderer) MethodNotAllowed(w http.ResponseWriter, req *http.Request) {
	r.WriteError(w, req, httperr.New(http.StatusMethodNotAllowed, ""))
}

// HandlerFunc is an HTML handler that reports failures by returning an
// error instead of writing a response.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Errors adapts fn to an http.Handler. A returned error or a panic renders
// the error page, unless fn already started the response.
func (r *Renderer) Errors(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			err = xerrors.WithStack(err)
			if tw.wroteHeader {
				log.FromContext(req.Context()).Error(req.Context(), err, "html handler panic",
					"panic.stack", string(debug.Stack()),
				)
				return
			}
			r.WriteError(w, req, httperr.Wrap(http.StatusInternalServerError, err, ""))
		}()

		err := fn(tw, req)
		if err == nil {
			return
		}
		if tw.wroteHeader {
			log.FromContext(req.Context()).Error(req.Context(), err, "handler failed after response started")
			return
		}
		r.WriteError(w, req, err)
	})
}

type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }
