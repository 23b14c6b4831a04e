// Package redirect holds the URL normalizing handlers: trailing slash
// stripping, legacy notebook and files/ URLs, and the directory tree page
// that hands files off to the download handler.
package redirect
