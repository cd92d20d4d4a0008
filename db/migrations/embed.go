// Package dbmigrations exposes embedded SQL migrations for finance binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into finance binaries.
//
//go:embed *.sql
var Files embed.FS
