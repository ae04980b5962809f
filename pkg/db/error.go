package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsSerializationFailure reports whether err is a transient isolation
// conflict that is safe to retry.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// PostgreSQL (error code 40001)
	if strings.Contains(msg, "could not serialize access") {
		return true
	}
	if strings.Contains(msg, "SQLSTATE 40001") {
		return true
	}

	// MySQL (error code 1213)
	if strings.Contains(msg, "Deadlock found when trying to get lock") {
		return true
	}

	// SQLite: writers conflict under concurrent transactions
	if strings.Contains(msg, "database is locked") {
		return true
	}

	return false
}
