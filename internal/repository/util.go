package repository

import "strings"

// isUniqueConstraintErr recognizes SQLite's and Postgres's distinct unique-
// violation error text. GORM does not normalize this across drivers, so we
// pattern-match the driver error strings rather than importing both drivers'
// error types here.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}
