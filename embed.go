// Package persistentchat carries the embedded database migrations applied at
// startup.
package persistentchat

import "embed"

//go:embed migrations/*.sql
var MigrationsFS embed.FS
