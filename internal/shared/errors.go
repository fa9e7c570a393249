package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreNotInitialised is returned by nil stores.
var ErrStoreNotInitialised = errors.New("shared: store not initialised")

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
