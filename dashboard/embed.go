// Package dashboard provides the embedded relay page.
//
// The page is a single HTML file with inline CSS and JavaScript. It loads
// /api/snapshot once, then follows /api/sse and redraws each channel card as
// updates arrive.
//
// The embedded assets are served by the server package at the root path ("/").
package dashboard

import "embed"

// Assets is an embedded filesystem containing the relay page.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Relay page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
