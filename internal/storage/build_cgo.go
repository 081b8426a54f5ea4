//go:build sqlite_cgo && !purego
// +build sqlite_cgo,!purego

package storage

// This file is compiled when building with CGO and the sqlite_cgo tag.
// mattn/go-sqlite3 only compiles FTS5 in when the sqlite_fts5 tag is also set.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_cgo,sqlite_fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
