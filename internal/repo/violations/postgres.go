package violations

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// see https://www.postgresql.org/docs/14/errcodes-appendix.html
const pgUniqueViolationCode = "23505"

// IsUniqueConstraint reports whether err is a postgres unique-constraint
// violation. Needed because not every driver path goes through gorm's
// TranslateError.
func IsUniqueConstraint(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}

	return false
}
