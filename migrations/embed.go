// Package migrations embeds the SQL migration files into the binary so the
// agent can create its schema without the files present on the device.
package migrations

import "embed"

// FS holds every *.sql file in this directory at the root of the FS.
//
//go:embed *.sql
var FS embed.FS
