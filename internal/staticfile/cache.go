package staticfile

import (
	"path"
	"strings"
)

func cacheControlForFile(name string, versioned bool, o *Options) string {
	if versioned {
		return o.VersionedCacheControl
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".css", ".js", ".mjs",
		".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".eot",
		".map":
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
