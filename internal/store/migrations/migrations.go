// Package migrations embeds the replica schema migration sources.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
