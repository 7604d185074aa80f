package migrations

import "embed"

// Postgres contains the PostgreSQL schema files.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite contains the SQLite schema files.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
