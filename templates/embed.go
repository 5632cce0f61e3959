// Package templates embeds the default configuration and the fallback entity templates.
package templates

import (
	"embed"
	"io/fs"
)

//go:embed config.yaml schemas
var FS embed.FS

// Schemas returns the fallback entity templates rooted at their directory.
func Schemas() fs.FS {
	sub, err := fs.Sub(FS, "schemas")
	if err != nil {
		panic(err)
	}
	return sub
}
