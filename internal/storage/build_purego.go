//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build. Pure Go SQLite, no C toolchain needed:
//
//	CGO_ENABLED=0 go build -tags "purego" ./cmd/corpusd
//
// FTS5 is compiled into modernc.org/sqlite, so keyword search behaves the
// same as the cgo build.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether the driver was built with sqlite-vec
	VectorExtensionAvailable = false

	// BuildMode is reported by /health and --version
	BuildMode = "purego"
)
