//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./cmd/corpusd
//
// Section embeddings are still scored in Go by SearchVector; the cgo driver
// brings the native FTS5 build for keyword search over section text.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether the driver was built with sqlite-vec
	VectorExtensionAvailable = true

	// BuildMode is reported by /health and --version
	BuildMode = "cgo"
)
