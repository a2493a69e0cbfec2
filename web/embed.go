// Package web embeds the page and fragment templates.
package web

import "embed"

// Files holds web/templates.
//
//go:embed templates
var Files embed.FS

// Template patterns within Files.
const (
	FragmentsPattern = "templates/fragments/*.html"
	PagesPattern     = "templates/*.html"
)
