// Package migrations embeds the devio SQL schema into the binary so the
// journal can be created without SQL files on disk.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql file in this directory, at its root.
//
//go:embed *.sql
var FS embed.FS
