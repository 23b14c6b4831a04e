// Package staticfile serves static assets found along an ordered search
// path of directories, with an embedded fallback.
//
// A Resolver maps request paths to absolute file paths and remembers every
// answer, including misses, for the life of the process. Resolved paths are
// only served after Validate confirms they are regular, non-hidden files
// inside one of the search roots.
package staticfile

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/pathutil"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// ErrHidden marks a refusal to serve a hidden file. It is reported to
// clients as 404.
var ErrHidden = errors.New("hidden file")

type root struct {
	// dir is the absolute root with a trailing separator.
	dir string
	// canon is dir with symlinks evaluated, used for containment checks.
	canon string
}

// Resolver finds files along a search path. It is safe for concurrent use.
type Resolver struct {
	roots []root

	// OnLookup, when set, is called for every Resolve with whether the
	// answer came from the cache.
	OnLookup func(cached bool)

	mu     sync.Mutex
	cache  map[string]string
	hashes map[string]string
}

// NewResolver expands "~", makes every path absolute and terminates it with
// a separator. Order is preserved; the first root holding a file wins.
func NewResolver(paths []string) (*Resolver, error) {
	r := &Resolver{
		cache:  make(map[string]string),
		hashes: make(map[string]string),
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(pathutil.ExpandUser(p))
		if err != nil {
			return nil, xerrors.Wrapf(err, "static path %q", p)
		}
		canon := abs
		if c, err := filepath.EvalSymlinks(abs); err == nil {
			canon = c
		}
		r.roots = append(r.roots, root{dir: withSep(abs), canon: withSep(canon)})
	}
	return r, nil
}

func withSep(p string) string {
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return p
	}
	return p + string(filepath.Separator)
}

// Roots returns the separator terminated search roots in order.
func (r *Resolver) Roots() []string {
	out := make([]string, len(r.roots))
	for i, rt := range r.roots {
		out[i] = rt.dir
	}
	return out
}

// Resolve returns the absolute path of the first regular file named p
// (slash separated, relative) under the search roots, or "" when none
// exists. Answers are cached, misses included.
func (r *Resolver) Resolve(p string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if abs, ok := r.cache[p]; ok {
		if r.OnLookup != nil {
			r.OnLookup(true)
		}
		return abs
	}
	if r.OnLookup != nil {
		r.OnLookup(false)
	}

	abs := r.search(p)
	r.cache[p] = abs
	return abs
}

func (r *Resolver) search(p string) string {
	rel := filepath.FromSlash(strings.TrimLeft(p, "/"))
	if rel == "" {
		return ""
	}
	for _, rt := range r.roots {
		candidate := filepath.Join(rt.dir, rel)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

// Validate checks that abs may be served and returns its canonical path.
// Errors are *httperr.Error values: 404 for "", missing and hidden files,
// 403 for paths outside every root, directories and non-regular files.
func (r *Resolver) Validate(abs string) (string, error) {
	if abs == "" {
		return "", httperr.NotFound()
	}

	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", httperr.Wrap(http.StatusNotFound, err, "")
		}
		return "", httperr.Wrap(http.StatusForbidden, err, "")
	}

	rt, ok := r.containing(abs, canon)
	if !ok {
		return "", httperr.New(http.StatusForbidden, "%s is not in root static directory", abs)
	}
	if pathutil.IsHidden(abs, rt.dir) || pathutil.IsHidden(canon, rt.canon) {
		return "", httperr.Wrap(http.StatusNotFound, ErrHidden, "")
	}

	info, err := os.Stat(canon)
	if err != nil {
		return "", httperr.Wrap(http.StatusNotFound, err, "")
	}
	if info.IsDir() {
		return "", httperr.New(http.StatusForbidden, "%s is a directory", abs)
	}
	if !info.Mode().IsRegular() {
		return "", httperr.New(http.StatusForbidden, "%s is not a file", abs)
	}
	return canon, nil
}

// containing returns the root that holds both the requested and the
// canonical path. Comparison is by relative path, so "/srv/static-other"
// is not inside "/srv/static".
func (r *Resolver) containing(abs, canon string) (root, bool) {
	for _, rt := range r.roots {
		if within(abs, rt.dir) && within(canon, rt.canon) {
			return rt, true
		}
	}
	return root{}, false
}

func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
