package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/nbweb/internal/log"
)

type logEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// spyLogger records every call; With returns the same spy and remembers
// the fields so tests can assert on enrichment.
type spyLogger struct {
	mu      sync.Mutex
	entries []logEntry
	withs   [][]any
}

func (s *spyLogger) With(kv ...any) log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withs = append(s.withs, kv)
	return s
}

func (s *spyLogger) add(e logEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) {
	s.add(logEntry{level: "debug", msg: msg, kv: kv})
}
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any) {
	s.add(logEntry{level: "info", msg: msg, kv: kv})
}
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any) {
	s.add(logEntry{level: "warn", msg: msg, kv: kv})
}
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.add(logEntry{level: "error", msg: msg, err: err, kv: kv})
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) find(level, msg string) (logEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func (s *spyLogger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// kvValue returns the value following key in a flat key/value list.
func kvValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			return kv[i+1], true
		}
	}
	return nil, false
}
