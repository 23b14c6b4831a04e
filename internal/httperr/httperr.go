// Package httperr defines the error value handlers return to end a request
// with a specific HTTP status.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Error carries an HTTP status and an optional message template. The
// formatted message is what API clients and error pages show; Reason
// replaces the standard reason phrase when set.
type Error struct {
	Status     int
	LogMessage string
	Args       []any
	Reason     string
	Err        error
}

// New returns an *Error for status. msg is a fmt template applied to args
// when the message is rendered.
func New(status int, msg string, args ...any) *Error {
	return &Error{Status: status, LogMessage: msg, Args: args}
}

// Wrap returns an *Error for status that keeps err in its chain.
func Wrap(status int, err error, msg string, args ...any) *Error {
	return &Error{Status: status, LogMessage: msg, Args: args, Err: err}
}

// WithReason sets a custom reason phrase.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d: %s", e.Status, StatusMessage(e.Status, e.Reason))
	if m := e.Message(); m != "" {
		b.WriteString(" (")
		b.WriteString(m)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Message formats LogMessage with Args. A template whose verbs do not
// match its arguments, in count or type, yields "" rather than a garbled
// message. Arguments are never inspected, so "%!" inside one is kept.
func (e *Error) Message() string {
	if e.LogMessage == "" {
		return ""
	}
	if len(e.Args) == 0 {
		return e.LogMessage
	}
	vs, ok := verbs(e.LogMessage)
	if !ok {
		// explicit indexes and '*' widths: fall back to fmt's own markers
		out := fmt.Sprintf(e.LogMessage, e.Args...)
		if strings.Contains(out, "%!") {
			return ""
		}
		return out
	}
	if len(vs) != len(e.Args) {
		return ""
	}
	for i, v := range vs {
		bad := "%!" + v.verb + "(" + fmt.Sprintf("%T", e.Args[i])
		if strings.HasPrefix(fmt.Sprintf(v.spec, e.Args[i]), bad) {
			return ""
		}
	}
	return fmt.Sprintf(e.LogMessage, e.Args...)
}

type verb struct {
	spec string // "%-8.2f"
	verb string // "f"
}

// verbs lists the formatting directives in tmpl, skipping "%%". It
// reports false for templates it does not model: argument indexes, '*'
// widths and a trailing '%'.
func verbs(tmpl string) ([]verb, bool) {
	var out []verb
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' {
			continue
		}
		j := i + 1
		if j < len(tmpl) && tmpl[j] == '%' {
			i = j
			continue
		}
		for j < len(tmpl) && strings.IndexByte("+-# 0123456789.", tmpl[j]) >= 0 {
			j++
		}
		if j >= len(tmpl) || tmpl[j] == '[' || tmpl[j] == '*' {
			return nil, false
		}
		_, size := utf8.DecodeRuneInString(tmpl[j:])
		out = append(out, verb{spec: tmpl[i : j+size], verb: tmpl[j : j+size]})
		i = j + size - 1
	}
	return out, true
}

// StatusMessage returns reason when non-empty, else the standard reason
// phrase for code, else "Unknown HTTP Error".
func StatusMessage(code int, reason string) string {
	if reason != "" {
		return reason
	}
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "Unknown HTTP Error"
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) && he != nil {
		return he, true
	}
	return nil, false
}

// StatusOf returns the status carried by err, 500 for any other non-nil
// error and 200 for nil.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if he, ok := As(err); ok {
		return he.Status
	}
	return http.StatusInternalServerError
}

func NotFound() *Error { return New(http.StatusNotFound, "") }

func Forbidden() *Error { return New(http.StatusForbidden, "") }

func BadRequest(msg string, args ...any) *Error { return New(http.StatusBadRequest, msg, args...) }
