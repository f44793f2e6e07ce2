// Package webfs embeds the scan form's templates and static assets. The same
// tree is served by the HTTP server and, through it, the desktop window.
package webfs

import "embed"

// FS holds templates/ and static/
//
//go:embed all:static all:templates
var FS embed.FS
