package migrations

import "embed"

// FS contains the embedded record log migrations.
//
//go:embed *.sql
var FS embed.FS
