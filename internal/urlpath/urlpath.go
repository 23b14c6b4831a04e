// Package urlpath holds the URL pattern fragments shared by route
// definitions and helpers for building slash separated URL paths.
package urlpath

import (
	"net/url"
	"regexp"
	"strings"
)

// Fragments for composing route patterns. They use named groups "path"
// and "name" and are joined with "/".
const (
	PathRegex         = `(?P<path>(?:/.*)*)`
	NotebookNameRegex = `(?P<name>[^/]+\.ipynb)`
	NotebookPathRegex = PathRegex + `/` + NotebookNameRegex
	FileNameRegex     = `(?P<name>[^/]+)`
	FilePathRegex     = PathRegex + `/` + FileNameRegex
)

var (
	notebookPathRe = regexp.MustCompile(`^` + NotebookPathRegex + `$`)
	filePathRe     = regexp.MustCompile(`^` + FilePathRegex + `$`)
)

// MatchNotebookPath splits p ("/dir/sub/nb.ipynb") into its parent path
// and notebook name. ok is false when p does not name a notebook.
func MatchNotebookPath(p string) (dir, name string, ok bool) {
	return match(notebookPathRe, p)
}

// MatchFilePath splits p ("/dir/file.txt") into parent path and name.
func MatchFilePath(p string) (dir, name string, ok bool) {
	return match(filePathRe, p)
}

func match(re *regexp.Regexp, p string) (dir, name string, ok bool) {
	m := re.FindStringSubmatch(p)
	if m == nil {
		return "", "", false
	}
	return m[re.SubexpIndex("path")], m[re.SubexpIndex("name")], true
}

// Join joins URL path pieces with single slashes. A leading slash on the
// first piece and a trailing slash on the last piece are kept.
func Join(pieces ...string) string {
	if len(pieces) == 0 {
		return ""
	}
	initial := strings.HasPrefix(pieces[0], "/")
	final := strings.HasSuffix(pieces[len(pieces)-1], "/")

	parts := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if s := strings.Trim(p, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	out := strings.Join(parts, "/")
	if initial {
		out = "/" + out
	}
	if final {
		out += "/"
	}
	if out == "//" {
		out = "/"
	}
	return out
}

// Escape percent-encodes each segment of p, keeping the slashes.
func Escape(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Split divides p at its last slash into parent path and final name.
// A path without a slash has an empty parent.
func Split(p string) (dir, name string) {
	p = strings.Trim(p, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// Normalize strips surrounding slashes so "" denotes the root.
func Normalize(p string) string {
	return strings.Trim(p, "/")
}
