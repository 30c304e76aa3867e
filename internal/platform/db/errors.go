package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrUniqueViolation     = errors.New("unique constraint violated")
	ErrForeignKeyViolation = errors.New("foreign key constraint violated")
	ErrExclusionViolation  = errors.New("exclusion constraint violated")
)

// SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeExclusionViolation  = "23P01"
)

// ClassifyError maps driver errors onto the package sentinels. The original
// error stays in the chain; unrecognised errors are returned as is.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s: %w", ErrUniqueViolation, pgErr.ConstraintName, err)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s: %w", ErrForeignKeyViolation, pgErr.ConstraintName, err)
		case codeExclusionViolation:
			return fmt.Errorf("%w: %s: %w", ErrExclusionViolation, pgErr.ConstraintName, err)
		}
	}
	return err
}

// IsConstraintViolation reports whether err is a unique or exclusion
// violation, i.e. a lost race on a constrained resource.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation) || errors.Is(err, ErrExclusionViolation)
}
