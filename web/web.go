// Package web holds the embedded HTML templates and static assets.
package web

import "embed"

//go:embed static templates
var Content embed.FS
