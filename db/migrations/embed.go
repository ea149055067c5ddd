// Package dbmigrations exposes embedded SQL migrations for strategyd binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into strategyd binaries.
//
//go:embed *.sql
var Files embed.FS
