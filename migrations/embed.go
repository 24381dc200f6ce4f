package migrations

import "embed"

// Files exposes embedded SQL migrations, one directory per dialect
// (postgres/, sqlite/), each ordered lexicographically.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
