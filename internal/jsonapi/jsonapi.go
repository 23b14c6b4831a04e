// Package jsonapi turns handler errors into the JSON error envelope used by
// every /api/ endpoint:
//
//	{"message": "..."}                    for an *httperr.Error
//	{"message": "...", "traceback": "..."} for anything else, with status 500
//
// Successful handlers are passed through untouched.
package jsonapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

const unknownServerError = "Unknown server error"

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// HandlerFunc is an API handler that reports failures by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Errors adapts fn to an http.Handler that writes the JSON error envelope
// for returned errors and recovered panics. onError, when non-nil, is called
// with the final status of every failed request.
func Errors(fn HandlerFunc, onError func(status int)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
			traceback := fmt.Sprintf("%v\n%s", rec, debug.Stack())
			fail(tw, r, xerrors.WithStack(err), traceback, onError)
		}()

		if err := fn(tw, r); err != nil {
			fail(tw, r, err, xerrors.StackText(err), onError)
		}
	})
}

func fail(tw *trackingWriter, r *http.Request, err error, traceback string, onError func(int)) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	status := http.StatusInternalServerError
	body := ErrorBody{Message: unknownServerError, Traceback: traceback}

	if he, ok := httperr.As(err); ok && he.Status >= 100 && he.Status <= 999 {
		status = he.Status
		body = ErrorBody{Message: he.Message()}
		if body.Message == "" {
			body.Message = httperr.StatusMessage(status, he.Reason)
		}
		L.Warn(ctx, "api request failed",
			"http.response.status_code", status,
			"error", err.Error(),
		)
	} else {
		L.Error(ctx, xerrors.EnsureTrace(err), "api handler error")
	}

	if onError != nil {
		onError(status)
	}
	if tw.wroteHeader {
		// headers are gone; the client sees a truncated response
		return
	}

	h := tw.Header()
	h.Del("Content-Length")
	h.Del("Content-Disposition")
	h.Set("Cache-Control", "no-store")
	WriteJSON(tw, status, body)
}

// WriteJSON encodes v as the response body with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"message":"`+unknownServerError+`"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// DecodeBody decodes the JSON request body into v. A missing body is
// reported as "no body"; malformed JSON as 400 "Invalid JSON in body of
// request".
func DecodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return httperr.BadRequest("no body")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return httperr.BadRequest("no body")
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return httperr.Wrap(http.StatusRequestEntityTooLarge, err, "request body exceeds %d bytes", mbe.Limit)
		}
		return httperr.Wrap(http.StatusBadRequest, err, "Invalid JSON in body of request")
	}
	return nil
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
