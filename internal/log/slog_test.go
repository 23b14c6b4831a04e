package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// helpers

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	if opts.App == "" {
		opts.App = "nbweb-test"
	}
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// jsonRecord parses the last non-empty JSON line in buf.
func jsonRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("parse JSON log line: %v\nraw: %s", err, last)
	}
	return m
}

// ---- construction

func TestNewSlog_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "nbweb", Version: "1.2.3", Commit: "abc", JsonFormat: true})

	l.Info(context.Background(), "hello")

	m := jsonRecord(t, &buf)
	if m["app"] != "nbweb" || m["version"] != "1.2.3" || m["commit"] != "abc" {
		t.Fatalf("base attrs = app:%v version:%v commit:%v", m["app"], m["version"], m["commit"])
	}
	if _, ok := m["build_id"]; ok {
		t.Fatal("empty build_id should be omitted")
	}
}

func TestNewSlog_Defaults(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{})
	if l.maxErrorLinks != 8 {
		t.Fatalf("maxErrorLinks = %d, want 8", l.maxErrorLinks)
	}
	l.Info(context.Background(), "text line")
	if !strings.Contains(buf.String(), "msg=\"text line\"") {
		t.Fatalf("expected logfmt output, got %q", buf.String())
	}
}

// ---- levels and attrs

func TestSlogLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true, Level: slog.LevelWarn})
	ctx := context.Background()

	l.Debug(ctx, "debug")
	l.Info(ctx, "info")
	if buf.Len() != 0 {
		t.Fatalf("debug/info should be filtered, got %q", buf.String())
	}
	l.Warn(ctx, "warn", "k", "v")
	m := jsonRecord(t, &buf)
	if m["msg"] != "warn" || m["k"] != "v" {
		t.Fatalf("record = %v", m)
	}
}

func TestSlogLogger_With_CopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{JsonFormat: true})
	ctx := context.Background()

	child := base.With("request_id", "r1", 42, "ignored", "dangling")
	child.Info(ctx, "child")
	m := jsonRecord(t, &buf)
	if m["request_id"] != "r1" {
		t.Fatalf("request_id = %v", m["request_id"])
	}
	if _, ok := m["dangling"]; ok {
		t.Fatal("odd trailing key should be dropped")
	}

	buf.Reset()
	base.Info(ctx, "base")
	m = jsonRecord(t, &buf)
	if _, ok := m["request_id"]; ok {
		t.Fatal("With must not mutate the parent logger")
	}
}

func TestSlogLogger_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true})

	l.With("cookie_secret", "s3cr3t-key").Info(context.Background(), "login",
		"password", "hunter2",
		"Authorization", "token abc",
		"user", "alice",
		"cookie_name", "username-localhost-8888",
	)
	m := jsonRecord(t, &buf)
	for _, k := range []string{"cookie_secret", "password", "Authorization"} {
		if m[k] != redacted {
			t.Errorf("%s = %v, want %s", k, m[k], redacted)
		}
	}
	if m["user"] != "alice" || m["cookie_name"] != "username-localhost-8888" {
		t.Errorf("plain fields changed: user=%v cookie_name=%v", m["user"], m["cookie_name"])
	}
	if strings.Contains(buf.String(), "hunter2") || strings.Contains(buf.String(), "s3cr3t-key") {
		t.Fatalf("secret value leaked: %s", buf.String())
	}
}

// ---- error enrichment

func TestSlogLogger_Error_Enrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true, IncludeErrorLinks: true, MaxErrorLinks: 4})

	root := errors.New("root cause")
	l.Error(context.Background(), fmt.Errorf("outer: %w", root), "request failed", "path", "/files/a.txt")

	m := jsonRecord(t, &buf)
	for _, k := range []string{"err", "error_type", "cause_type", "error_chain", "error_links", "stack"} {
		if _, ok := m[k]; !ok {
			t.Errorf("%s missing from record", k)
		}
	}
	chain, _ := m["error_chain"].([]any)
	if len(chain) != 2 {
		t.Fatalf("error_chain = %v, want 2 entries", m["error_chain"])
	}
	if m["path"] != "/files/a.txt" {
		t.Fatalf("extra kv lost: %v", m["path"])
	}
}

func TestSlogLogger_Error_NilError(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true})

	l.Error(context.Background(), nil, "nil error msg")

	m := jsonRecord(t, &buf)
	if _, found := m["err"]; found {
		t.Fatal("err field should not be present for nil error")
	}
}

func TestErrorChain_JoinAndDedup(t *testing.T) {
	same := errors.New("same")
	chain := errorChain(fmt.Errorf("%w", same))
	if len(chain) != 1 {
		t.Fatalf("identical messages should collapse, got %v", chain)
	}

	joined := errors.Join(errors.New("a"), errors.New("b"))
	chain = errorChain(joined)
	if len(chain) != 3 {
		t.Fatalf("joined chain = %v, want joined message plus both parts", chain)
	}
}

func TestClassifyTypes(t *testing.T) {
	if s, r := classifyTypes(nil); s != "" || r != "" {
		t.Fatalf("nil error: surface=%q root=%q", s, r)
	}
	surface, root := classifyTypes(fmt.Errorf("wrap: %w", errors.New("x")))
	if surface != "*errors.errorString" || root != "*errors.errorString" {
		t.Fatalf("surface=%q root=%q", surface, root)
	}
}

func TestChainLinks_RespectsMax(t *testing.T) {
	err := fmt.Errorf("a: %w", fmt.Errorf("b: %w", errors.New("c")))
	if got := chainLinks(err, 1); len(got) != 1 {
		t.Fatalf("chainLinks max=1 returned %d links", len(got))
	}
	if _, _, _, ok := frameFromPC(0); ok {
		t.Fatal("frameFromPC(0) should fail")
	}
	if _, _, _, ok := firstExtFrame(nil); ok {
		t.Fatal("firstExtFrame(nil) should fail")
	}
}

// ---- handlers

func TestOtelHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	l.Info(trace.ContextWithSpanContext(context.Background(), sc), "traced msg")

	m := jsonRecord(t, &buf)
	if m["trace_id"] != "0102030405060708090a0b0c0d0e0f10" || m["span_id"] != "0102030405060708" {
		t.Fatalf("trace_id=%v span_id=%v", m["trace_id"], m["span_id"])
	}
}

func TestStackHandler_Threshold(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true, StacktraceLevel: slog.LevelWarn})
	ctx := context.Background()

	l.Info(ctx, "info msg")
	if _, found := jsonRecord(t, &buf)["stack"]; found {
		t.Fatal("stack should not be present below threshold")
	}

	buf.Reset()
	l.Warn(ctx, "warn msg")
	if s, _ := jsonRecord(t, &buf)["stack"].(string); s == "" {
		t.Fatal("stack should be a non-empty string at threshold")
	}
}
