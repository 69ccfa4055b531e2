//go:build sqlite_purego

package sqlite

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
