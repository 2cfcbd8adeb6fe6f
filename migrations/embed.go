// Package migrations embeds the pricing engine schema.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
