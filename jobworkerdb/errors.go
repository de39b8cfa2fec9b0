package jobworkerdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/domonda/go-errs"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	ErrNotConnected      errs.Sentinel = "no database connection"
	ErrTransactionClosed errs.Sentinel = "transaction already closed"
	ErrTableNotFound     errs.Sentinel = "table not found"
)

// DbError is a failed query or statement
// reported by the database server.
type DbError struct {
	// SQLState is the five character error code of the server.
	SQLState string
	Message  string
	Detail   string
	Hint     string
	// Context is the server side context of the error,
	// like the PL/pgSQL call stack.
	Context string

	Err error
}

func (e *DbError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.SQLState != "" {
		fmt.Fprintf(&b, " (SQLSTATE %s)", e.SQLState)
	}
	if e.Detail != "" {
		b.WriteString("\nDETAIL: ")
		b.WriteString(e.Detail)
	}
	if e.Hint != "" {
		b.WriteString("\nHINT: ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *DbError) Unwrap() error {
	return e.Err
}

// IsDataException returns true for errors of the
// SQLSTATE class 22 "data exception".
func (e *DbError) IsDataException() bool {
	return strings.HasPrefix(e.SQLState, "22")
}

// IsDataException returns true if err wraps a DbError
// of the SQLSTATE class 22 "data exception".
func IsDataException(err error) bool {
	var dbErr *DbError
	return errors.As(err, &dbErr) && dbErr.IsDataException()
}

// queryError returns err as *DbError.
// Errors without server details like connection failures
// are wrapped in a DbError without SQLState.
func queryError(err error) error {
	if err == nil {
		return nil
	}
	err = asDbError(err)
	var dbErr *DbError
	if errors.As(err, &dbErr) {
		return err
	}
	return &DbError{Message: err.Error(), Err: err}
}

// asDbError converts a *pgconn.PgError within err to a *DbError.
// Other errors are returned unchanged.
func asDbError(err error) error {
	if err == nil {
		return nil
	}
	var dbErr *DbError
	if errors.As(err, &dbErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	return &DbError{
		SQLState: pgErr.Code,
		Message:  pgErr.Message,
		Detail:   pgErr.Detail,
		Hint:     pgErr.Hint,
		Context:  pgErr.Where,
		Err:      err,
	}
}
