// Package templates embeds files copied into new baton projects.
package templates

import "embed"

//go:embed flow.example.json
var FS embed.FS
