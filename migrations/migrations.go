// Package migrations embeds the SQL schema migrations for every supported database driver.
// Files are laid out as <dialect>/<version>_<title>.{up,down}.sql, the golang-migrate convention.
package migrations

import "embed"

// FS holds the postgresql, mysql and sqlite migration directories.
//
//go:embed postgresql/*.sql mysql/*.sql sqlite/*.sql
var FS embed.FS
