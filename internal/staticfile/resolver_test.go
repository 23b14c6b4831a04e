package staticfile

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keithlinneman/nbweb/internal/httperr"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustResolver(t *testing.T, paths ...string) *Resolver {
	t.Helper()
	r, err := NewResolver(paths)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	if got := httperr.StatusOf(err); got != status {
		t.Fatalf("status = %d, want %d (err=%v)", got, status, err)
	}
}

func TestNewResolver_Roots(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	wd, _ := os.Getwd()

	r := mustResolver(t, "~/custom", "relative", "", "/srv/static/")
	roots := r.Roots()
	want := []string{
		filepath.Join(home, "custom") + string(filepath.Separator),
		filepath.Join(wd, "relative") + string(filepath.Separator),
		"/srv/static/",
	}
	if strings.Join(roots, "|") != strings.Join(want, "|") {
		t.Fatalf("roots = %v, want %v", roots, want)
	}
}

func TestResolve_FirstRootWins(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(a, "style", "site.css"), "a")
	writeFile(t, filepath.Join(b, "style", "site.css"), "b")
	writeFile(t, filepath.Join(b, "only-b.js"), "b")
	if err := os.Mkdir(filepath.Join(a, "dir.js"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(b, "dir.js"), "b")

	r := mustResolver(t, a, b)
	tests := []struct {
		path string
		want string
	}{
		{"style/site.css", filepath.Join(a, "style", "site.css")},
		{"only-b.js", filepath.Join(b, "only-b.js")},
		{"dir.js", filepath.Join(b, "dir.js")},
		{"missing.css", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := r.Resolve(tt.path); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestResolve_CachesHitsAndMisses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.css"), "a")
	r := mustResolver(t, dir)

	var hits, misses int
	r.OnLookup = func(cached bool) {
		if cached {
			hits++
		} else {
			misses++
		}
	}

	first := r.Resolve("a.css")
	if r.Resolve("late.css") != "" {
		t.Fatal("late.css should not exist yet")
	}

	// the cache is never invalidated
	if err := os.Remove(filepath.Join(dir, "a.css")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "late.css"), "late")

	if got := r.Resolve("a.css"); got != first {
		t.Fatalf("cached hit changed: %q", got)
	}
	if got := r.Resolve("late.css"); got != "" {
		t.Fatalf("cached miss changed: %q", got)
	}
	if hits != 2 || misses != 2 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}

	// the stale hit is caught by Validate
	_, err := r.Validate(first)
	wantStatus(t, err, http.StatusNotFound)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "static")
	sibling := filepath.Join(dir, "static-other")
	writeFile(t, filepath.Join(root, "ok.css"), "ok")
	writeFile(t, filepath.Join(root, ".secret", "key.txt"), "k")
	writeFile(t, filepath.Join(root, ".env"), "k")
	writeFile(t, filepath.Join(root, "sub", "x.js"), "x")
	writeFile(t, filepath.Join(sibling, "evil.css"), "evil")
	writeFile(t, filepath.Join(dir, "outside.txt"), "o")

	r := mustResolver(t, root)
	tests := []struct {
		name   string
		abs    string
		status int
	}{
		{"ok", filepath.Join(root, "ok.css"), 200},
		{"nested", filepath.Join(root, "sub", "x.js"), 200},
		{"empty", "", 404},
		{"missing", filepath.Join(root, "nope.css"), 404},
		{"hidden dir", filepath.Join(root, ".secret", "key.txt"), 404},
		{"hidden file", filepath.Join(root, ".env"), 404},
		{"outside", filepath.Join(dir, "outside.txt"), 403},
		{"sibling prefix", filepath.Join(sibling, "evil.css"), 403},
		{"traversal", filepath.Join(root, "..", "outside.txt"), 403},
		{"directory", filepath.Join(root, "sub"), 403},
		{"root itself", root, 403},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canon, err := r.Validate(tt.abs)
			if tt.status == 200 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if canon == "" {
					t.Fatal("empty canonical path")
				}
				return
			}
			wantStatus(t, err, tt.status)
		})
	}
}

func TestValidate_HiddenIsMarked(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden.css"), "h")
	_, err := mustResolver(t, root).Validate(filepath.Join(root, ".hidden.css"))
	if !errors.Is(err, ErrHidden) {
		t.Fatalf("err = %v, want ErrHidden", err)
	}
}

func TestValidate_HiddenRootAllowed(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".jupyter", "static")
	writeFile(t, filepath.Join(root, "custom.css"), "c")
	if _, err := mustResolver(t, root).Validate(filepath.Join(root, "custom.css")); err != nil {
		t.Fatalf("hidden components above the root must not count: %v", err)
	}
}

func TestValidate_SymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "static")
	writeFile(t, filepath.Join(dir, "secret.txt"), "s")
	writeFile(t, filepath.Join(root, "real.css"), "r")
	if err := os.Symlink(filepath.Join(dir, "secret.txt"), filepath.Join(root, "link.css")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "real.css"), filepath.Join(root, "alias.css")); err != nil {
		t.Fatal(err)
	}

	r := mustResolver(t, root)
	_, err := r.Validate(r.Resolve("link.css"))
	wantStatus(t, err, http.StatusForbidden)

	if _, err := r.Validate(r.Resolve("alias.css")); err != nil {
		t.Fatalf("symlink inside root should be served: %v", err)
	}
}

func TestValidate_NonRegular(t *testing.T) {
	root := t.TempDir()
	fifo := filepath.Join(root, "pipe.css")
	if err := mkfifo(fifo); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}
	_, err := mustResolver(t, root).Validate(fifo)
	wantStatus(t, err, http.StatusForbidden)
}
