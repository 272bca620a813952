// Package tests provides shared helpers for package tests.
package tests

import (
	"github.com/google/uuid"
)

// Sqlite3URL returns a URI for a fresh in-memory SQLite database.
func Sqlite3URL() string {
	return "file::" + uuid.NewString() + ":?mode=memory&cache=shared&_foreign_keys=on"
}
