// Package migrations embeds the SQL schema files run at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
