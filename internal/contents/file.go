package contents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/keithlinneman/nbweb/internal/pathutil"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// FileManager keeps contents in a local directory tree. Hidden entries are
// neither listed nor served, and symlinks may not lead out of the root.
type FileManager struct {
	root     string
	maxBytes int64
}

// NewFileManager returns a manager rooted at dir. Files larger than
// maxBytes are refused with ErrTooLarge; maxBytes <= 0 means no limit.
func NewFileManager(dir string, maxBytes int64) (*FileManager, error) {
	abs, err := filepath.Abs(pathutil.ExpandUser(dir))
	if err != nil {
		return nil, xerrors.Wrapf(err, "contents root %q", dir)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, xerrors.Wrapf(err, "contents root %q", dir)
	}
	info, err := os.Stat(canon)
	if err != nil {
		return nil, xerrors.Wrapf(err, "contents root %q", dir)
	}
	if !info.IsDir() {
		return nil, xerrors.Newf("contents root %q is not a directory", dir)
	}
	return &FileManager{root: canon, maxBytes: maxBytes}, nil
}

// Root returns the canonical root directory.
func (m *FileManager) Root() string { return m.root }

// osPath maps an entry location to its file system path. When the path
// exists its symlinks are resolved and it must stay below the root.
func (m *FileManager) osPath(name, dir string) (string, string, error) {
	p, err := key(name, dir)
	if err != nil {
		return "", "", err
	}
	full := filepath.Join(m.root, filepath.FromSlash(p))
	canon, err := filepath.EvalSymlinks(full)
	switch {
	case err == nil:
		if err := m.contain(canon); err != nil {
			return "", "", err
		}
		return p, canon, nil
	case errors.Is(err, fs.ErrNotExist):
		// not created yet; its nearest existing ancestor must be inside
		for dir := filepath.Dir(full); dir != full; dir = filepath.Dir(dir) {
			canonDir, err := filepath.EvalSymlinks(dir)
			if err == nil {
				if err := m.contain(canonDir); err != nil {
					return "", "", err
				}
				break
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return "", "", xerrors.Wrapf(err, "resolve %q", p)
			}
			full = dir
		}
		return p, filepath.Join(m.root, filepath.FromSlash(p)), nil
	}
	return "", "", xerrors.Wrapf(err, "resolve %q", p)
}

// contain checks that the canonical path canon lies below the root and
// has no hidden component.
func (m *FileManager) contain(canon string) error {
	if canon != m.root {
		rel, err := filepath.Rel(m.root, canon)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return ErrOutsideRoot
		}
	}
	if pathutil.IsHidden(canon, m.root) {
		return ErrHidden
	}
	return nil
}

func (m *FileManager) PathExists(_ context.Context, dir string) (bool, error) {
	_, full, err := m.osPath("", dir)
	if err != nil {
		if errors.Is(err, ErrHidden) || errors.Is(err, ErrOutsideRoot) {
			return false, nil
		}
		return false, err
	}
	info, err := os.Stat(full)
	return err == nil && info.IsDir(), nil
}

func (m *FileManager) FileExists(_ context.Context, name, dir string) (bool, error) {
	if name == "" {
		return false, nil
	}
	_, full, err := m.osPath(name, dir)
	if err != nil {
		if errors.Is(err, ErrHidden) || errors.Is(err, ErrOutsideRoot) {
			return false, nil
		}
		return false, err
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular(), nil
}

func (m *FileManager) GetModel(_ context.Context, name, dir string, content bool) (*Model, error) {
	p, full, err := m.osPath(name, dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrapf(err, "stat %q", p)
	}

	model := baseModel(p, info)
	switch {
	case info.IsDir():
		if content {
			if err := m.listDir(model, full); err != nil {
				return nil, err
			}
		}
	case info.Mode().IsRegular():
		if content {
			data, err := m.readFile(full, info.Size())
			if err != nil {
				return nil, err
			}
			model.fill(data)
		}
	default:
		return nil, ErrNotFound
	}
	return model, nil
}

func baseModel(p string, info fs.FileInfo) *Model {
	m := &Model{
		Name:         path.Base("/" + p),
		Path:         p,
		LastModified: info.ModTime(),
		Created:      info.ModTime(),
		Writable:     info.Mode().Perm()&0o200 != 0,
	}
	if p == "" {
		m.Name = ""
	}
	if info.IsDir() {
		m.Type = TypeDirectory
	} else {
		m.Type = TypeForName(m.Name)
		m.Size = info.Size()
	}
	return m
}

func (m *FileManager) listDir(model *Model, full string) error {
	entries, err := os.ReadDir(full)
	if err != nil {
		return xerrors.Wrapf(err, "list %q", model.Path)
	}
	children := make([]Model, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := os.Stat(filepath.Join(full, e.Name()))
		if err != nil {
			// dangling symlink
			continue
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}
		children = append(children, *baseModel(path.Join(model.Path, e.Name()), info))
	}
	sort.Slice(children, func(i, j int) bool {
		if (children[i].Type == TypeDirectory) != (children[j].Type == TypeDirectory) {
			return children[i].Type == TypeDirectory
		}
		return strings.ToLower(children[i].Name) < strings.ToLower(children[j].Name)
	})
	model.Children = children
	model.HasContent = true
	model.Format = FormatJSON
	return nil
}

func (m *FileManager) readFile(full string, size int64) ([]byte, error) {
	if m.maxBytes > 0 && size > m.maxBytes {
		return nil, ErrTooLarge
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open %q", full)
	}
	defer f.Close()

	var r io.Reader = f
	if m.maxBytes > 0 {
		r = io.LimitReader(f, m.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %q", full)
	}
	if m.maxBytes > 0 && int64(len(data)) > m.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (m *FileManager) Save(ctx context.Context, model *Model, name, dir string) (*Model, error) {
	if model == nil {
		return nil, &FormatError{Msg: "no model"}
	}
	p, full, err := m.osPath(name, dir)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, ErrBadPath
	}

	typ := model.Type
	if typ == "" {
		typ = TypeForName(name)
	}

	switch typ {
	case TypeDirectory:
		if err := os.MkdirAll(full, 0o755); err != nil {
			return nil, xerrors.Wrapf(err, "mkdir %q", p)
		}
	case TypeNotebook, TypeFile:
		if !model.HasContent {
			return nil, &FormatError{Msg: "no content"}
		}
		if typ == TypeNotebook && !json.Valid(model.Content) {
			return nil, &FormatError{Msg: "notebook content must be JSON"}
		}
		if m.maxBytes > 0 && int64(len(model.Content)) > m.maxBytes {
			return nil, ErrTooLarge
		}
		if err := writeAtomic(full, model.Content); err != nil {
			return nil, xerrors.Wrapf(err, "save %q", p)
		}
	default:
		return nil, &FormatError{Msg: "unknown type " + typ}
	}
	dirPath, base := splitKey(p)
	return m.GetModel(ctx, base, dirPath, false)
}

func splitKey(p string) (dir, name string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// writeAtomic writes data to a temp file next to dst and renames it over
// dst, so readers never see a partial file.
func writeAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".~"+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
