// Package xerrors wraps errors with call-site information so log records
// and API error bodies can point back at where a failure started.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const maxDepth = 64

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

type hasStack interface{ StackPCs() []uintptr }

func captureStack(skip int) []uintptr {
	pcs := make([]uintptr, maxDepth)
	// 2 skips runtime.Callers + captureStack
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: captureStack(skip)}
}

// WithStack records the caller's stack on err.
func WithStack(err error) error { return withStackSkip(err, 2) }

// EnsureTrace records a stack only when err does not carry one yet.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	if pcs := StackPCs(err); len(pcs) > 0 {
		return err
	}
	return withStackSkip(err, 2)
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	// 2 skips runtime.Callers + callerPC
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

func New(msg string) error             { return withStackSkip(errors.New(msg), 2) }
func Newf(f string, args ...any) error { return withStackSkip(fmt.Errorf(f, args...), 2) }

// StackPCs returns the first captured stack found in err's chain.
func StackPCs(err error) []uintptr {
	var hs hasStack
	if errors.As(err, &hs) && hs != nil {
		return hs.StackPCs()
	}
	return nil
}

// FormatPCs renders program counters as "func\n\tfile:line" blocks,
// stopping at the first runtime frame.
func FormatPCs(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// StackText returns the error message followed by its captured stack, or
// the message alone when no stack was recorded.
func StackText(err error) string {
	if err == nil {
		return ""
	}
	st := FormatPCs(StackPCs(err))
	if st == "" {
		return err.Error()
	}
	return err.Error() + "\n" + strings.TrimRight(st, "\n")
}
