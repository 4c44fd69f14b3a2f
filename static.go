// Package report carries assets embedded at the repository root.
package report

import "embed"

//go:embed static/*
var StaticFiles embed.FS
