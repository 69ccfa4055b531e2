//go:build !sqlite_purego

package sqlite

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
