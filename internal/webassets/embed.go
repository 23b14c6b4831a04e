// Package webassets embeds the default page templates and static files
// shipped with the server. Operator supplied directories are searched
// before these.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed templates static
var embedded embed.FS

// TemplatesFS returns the default templates rooted at templates/.
func TemplatesFS() fs.FS { return mustSub("templates") }

// StaticFS returns the default static files rooted at static/.
func StaticFS() fs.FS { return mustSub("static") }

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return sub
}
