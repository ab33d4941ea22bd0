// Package migrations embeds the service's SQL migrations so binaries can
// migrate without a migrations directory on disk.
package migrations

import "embed"

// FS holds every *.sql migration in golang-migrate naming.
//
//go:embed *.sql
var FS embed.FS
