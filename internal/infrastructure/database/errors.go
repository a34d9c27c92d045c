package database

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

const uniqueViolation = "23505"

// isUniqueViolation reports whether the error is a unique constraint breach,
// the losing side of a concurrent append.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}

func storageError(operation string, err error) error {
	return errors.NewStorageUnavailableError(operation + " failed").WithCause(err)
}
