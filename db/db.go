// Package db ships the schema migrations inside the binary so deployments
// never depend on a SQL directory being present on disk.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
