package web

import (
	"embed"
)

// staticFiles holds the remote trigger page.
//
//go:embed static/*
var staticFiles embed.FS
