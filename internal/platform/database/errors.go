package database

import (
	"errors"

	"github.com/lib/pq"
)

// IsDuplicateKey reports a PostgreSQL unique constraint violation (23505).
func IsDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsForeignKeyViolation reports a PostgreSQL foreign key violation (23503).
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
