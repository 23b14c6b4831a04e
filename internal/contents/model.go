// Package contents models notebooks, files and directories and provides
// the managers that store them: a local directory tree and an S3 bucket.
package contents

import (
	"encoding/base64"
	"encoding/json"
	"mime"
	"path"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	TypeNotebook  = "notebook"
	TypeFile      = "file"
	TypeDirectory = "directory"

	FormatJSON   = "json"
	FormatText   = "text"
	FormatBase64 = "base64"
)

// Model describes one entry. Path is the slash separated location relative
// to the contents root, without leading or trailing slash, and includes
// Name. Content holds the raw bytes of notebooks and files and is nil
// when the model was fetched without content. Children lists directory
// entries, themselves without content.
type Model struct {
	Name         string
	Path         string
	Type         string
	Format       string
	Mimetype     string
	Size         int64
	Created      time.Time
	LastModified time.Time
	Writable     bool

	Content    []byte
	Children   []Model
	HasContent bool
}

type wireModel struct {
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	Type         string          `json:"type"`
	Format       *string         `json:"format"`
	Mimetype     *string         `json:"mimetype"`
	Size         *int64          `json:"size,omitempty"`
	Created      time.Time       `json:"created"`
	LastModified time.Time       `json:"last_modified"`
	Writable     bool            `json:"writable"`
	Content      json.RawMessage `json:"content"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalJSON writes the contents API representation: content is null
// unless loaded, a JSON document for notebooks, a string for files and a
// list of entries for directories.
func (m Model) MarshalJSON() ([]byte, error) {
	w := wireModel{
		Name:         m.Name,
		Path:         m.Path,
		Type:         m.Type,
		Created:      m.Created.UTC(),
		LastModified: m.LastModified.UTC(),
		Writable:     m.Writable,
		Content:      json.RawMessage("null"),
	}
	if m.Type != TypeDirectory {
		size := m.Size
		w.Size = &size
	}
	if !m.HasContent {
		return json.Marshal(w)
	}

	w.Format = optional(m.Format)
	w.Mimetype = optional(m.Mimetype)

	var err error
	switch m.Type {
	case TypeDirectory:
		children := m.Children
		if children == nil {
			children = []Model{}
		}
		w.Content, err = json.Marshal(children)
	case TypeNotebook:
		if json.Valid(m.Content) {
			w.Content = json.RawMessage(m.Content)
		} else {
			w.Content, err = json.Marshal(string(m.Content))
		}
	default:
		if m.Format == FormatBase64 {
			w.Content, err = json.Marshal(base64.StdEncoding.EncodeToString(m.Content))
		} else {
			w.Content, err = json.Marshal(string(m.Content))
		}
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a model sent by a client for saving.
func (m *Model) UnmarshalJSON(data []byte) error {
	var w wireModel
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Model{
		Name:     w.Name,
		Path:     w.Path,
		Type:     w.Type,
		Writable: w.Writable,
	}
	if w.Format != nil {
		m.Format = *w.Format
	}
	if w.Mimetype != nil {
		m.Mimetype = *w.Mimetype
	}
	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}

	m.HasContent = true
	switch m.Type {
	case TypeNotebook:
		if m.Format == "" {
			m.Format = FormatJSON
		}
		m.Content = append([]byte(nil), w.Content...)
	case TypeDirectory:
		// directory content is never written
		m.HasContent = false
	default:
		var s string
		if err := json.Unmarshal(w.Content, &s); err != nil {
			return &FormatError{Msg: "file content must be a string"}
		}
		switch m.Format {
		case FormatBase64:
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return &FormatError{Msg: "invalid base64 content"}
			}
			m.Content = b
		case FormatText, "":
			m.Format = FormatText
			m.Content = []byte(s)
		default:
			return &FormatError{Msg: "unknown format " + m.Format}
		}
	}
	m.Size = int64(len(m.Content))
	return nil
}

// FormatError reports a model body that cannot be decoded.
type FormatError struct{ Msg string }

func (e *FormatError) Error() string { return "contents: " + e.Msg }

// TypeForName returns the entry type implied by a file name.
func TypeForName(name string) string {
	if strings.HasSuffix(name, ".ipynb") {
		return TypeNotebook
	}
	return TypeFile
}

// detectFormat picks the format and mimetype for file content.
func detectFormat(name string, data []byte) (format, mimetype string) {
	mimetype = mime.TypeByExtension(path.Ext(name))
	if utf8.Valid(data) {
		if mimetype == "" {
			mimetype = "text/plain"
		}
		return FormatText, mimetype
	}
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	return FormatBase64, mimetype
}

// fill sets the content fields of m from data.
func (m *Model) fill(data []byte) {
	m.Content = data
	m.HasContent = true
	m.Size = int64(len(data))
	if m.Type == TypeNotebook {
		m.Format = FormatJSON
		m.Mimetype = ""
		return
	}
	m.Format, m.Mimetype = detectFormat(m.Name, data)
}

// DownloadMimetype is the Content-Type for serving m as a download.
func (m *Model) DownloadMimetype() string {
	switch {
	case m.Type == TypeNotebook:
		return "application/json"
	case m.Mimetype != "":
		return m.Mimetype
	default:
		return "application/octet-stream"
	}
}
