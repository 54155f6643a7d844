package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes the service branches on.
const (
	PGUniqueViolation      = "23505"
	PGSerializationFailure = "40001"
	PGLockNotAvailable     = "55P03"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || HasPGCode(err, PGUniqueViolation) {
		return true
	}

	msg := err.Error()
	// postgres without a typed error, mysql 1062, sqlite 2067
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

func HasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// IsPGError reports whether err carries a postgres server error.
func IsPGError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
