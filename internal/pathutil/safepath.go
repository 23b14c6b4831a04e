// Package pathutil holds small path predicates shared by the file serving
// handlers.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// HasHiddenSegment reports whether any segment of the slash separated
// path p starts with a dot. Empty segments are ignored.
func HasHiddenSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// IsHidden reports whether absPath, taken relative to absRoot, has a
// component starting with a dot. Components of absRoot itself are not
// considered. A path outside absRoot is checked in full.
func IsHidden(absPath, absRoot string) bool {
	rel := absPath
	if absRoot != "" {
		if r, err := filepath.Rel(absRoot, absPath); err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			rel = r
		}
	}
	if rel == "." {
		return false
	}
	return HasHiddenSegment(filepath.ToSlash(rel))
}

// ExpandUser replaces a leading "~" with the current user's home
// directory. Paths are returned unchanged when the home directory is
// unknown or p names another user's home.
func ExpandUser(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	return filepath.Join(home, p[1:])
}
