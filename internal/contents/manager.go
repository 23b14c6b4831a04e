package contents

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/pathutil"
	"github.com/keithlinneman/nbweb/internal/urlpath"
)

var (
	ErrNotFound    = errors.New("contents: not found")
	ErrHidden      = errors.New("contents: hidden path")
	ErrOutsideRoot = errors.New("contents: path outside root")
	ErrTooLarge    = errors.New("contents: entry too large")
	ErrBadPath     = errors.New("contents: invalid path")
)

// Manager stores notebooks, files and directories. Paths are slash
// separated and relative to the manager's root; name "" addresses the
// directory at path itself.
type Manager interface {
	// GetModel returns the entry name in directory path. Content is loaded
	// when content is true.
	GetModel(ctx context.Context, name, path string, content bool) (*Model, error)

	// PathExists reports whether path is a directory.
	PathExists(ctx context.Context, path string) (bool, error)

	// FileExists reports whether name in path is a file or notebook.
	FileExists(ctx context.Context, name, path string) (bool, error)

	// Save writes m as name in path and returns the stored model without
	// content.
	Save(ctx context.Context, m *Model, name, path string) (*Model, error)
}

// key joins path and name into the entry location and rejects paths that
// would leave the root or touch hidden entries.
func key(name, path string) (string, error) {
	segs := strings.Split(urlpath.Join(path, name), "/")
	kept := segs[:0]
	for _, s := range segs {
		if s != "" {
			kept = append(kept, s)
		}
	}
	p := strings.Join(kept, "/")
	if strings.Contains(p, "\\") || strings.Contains(p, "\x00") || pathutil.HasDotSegments(p) {
		return "", ErrBadPath
	}
	if pathutil.HasHiddenSegment(p) {
		return "", ErrHidden
	}
	return p, nil
}

// HTTPError maps manager errors onto HTTP status errors. Errors that are
// already *httperr.Error, and unknown errors, are returned unchanged.
func HTTPError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := httperr.As(err); ok {
		return err
	}
	var fe *FormatError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrHidden):
		return httperr.Wrap(http.StatusNotFound, err, "")
	case errors.Is(err, ErrOutsideRoot):
		return httperr.Wrap(http.StatusForbidden, err, "")
	case errors.Is(err, ErrBadPath):
		return httperr.Wrap(http.StatusBadRequest, err, "invalid path")
	case errors.Is(err, ErrTooLarge):
		return httperr.Wrap(http.StatusRequestEntityTooLarge, err, "")
	case errors.As(err, &fe):
		return httperr.Wrap(http.StatusBadRequest, err, fe.Msg)
	}
	return err
}
