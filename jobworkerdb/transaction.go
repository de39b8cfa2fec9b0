package jobworkerdb

import (
	"context"
	"errors"
	"strings"

	"github.com/domonda/go-errs"
	"github.com/domonda/golog"
	"github.com/jackc/pgx/v5"
)

type exitAction struct {
	description string
	action      func(ctx context.Context) error
}

// Transaction wraps a database transaction and the
// actions that have to run after it ended.
//
// Close commits the transaction unless it was discarded
// or a statement failed, in which case it is rolled back.
// After that the exit actions run in the order they were added,
// independent of the outcome of the transaction.
type Transaction struct {
	conn *pgx.Conn
	tx   pgx.Tx
	log  *golog.Logger

	exitActions []exitAction
	discard     bool
	failed      bool
	closed      bool
}

// Discard makes Close roll back the transaction.
func (t *Transaction) Discard() {
	t.discard = true
}

// Failed returns true if a statement of the transaction failed
// in a way that requires a rollback.
func (t *Transaction) Failed() bool {
	return t.failed || t.conn.PgConn().TxStatus() == 'E'
}

// AddExitAction adds a function that will be called
// after the transaction was committed or rolled back.
// Errors of exit actions are logged and ignored.
func (t *Transaction) AddExitAction(description string, action func(ctx context.Context) error) {
	t.exitActions = append(t.exitActions, exitAction{description: description, action: action})
}

// AddExitStatement adds a SQL statement that will be executed
// after the transaction was committed or rolled back.
func (t *Transaction) AddExitStatement(sql string) {
	t.AddExitAction(sql, func(ctx context.Context) error {
		_, err := t.conn.Exec(ctx, sql)
		return err
	})
}

// Close commits or rolls back the transaction and runs the exit actions.
// The returned error is the error of the commit or rollback.
// Calling Close more than once is a no-op.
func (t *Transaction) Close(ctx context.Context) (err error) {
	if t.closed {
		return nil
	}
	t.closed = true

	if t.discard || t.Failed() {
		err = t.tx.Rollback(ctx)
	} else {
		err = queryError(t.tx.Commit(ctx))
	}

	for _, exit := range t.exitActions {
		e := exit.action(ctx)
		if e != nil {
			t.log.Warn("Transaction exit action failed").
				Str("action", exit.description).
				Err(e).
				Log()
		}
	}
	t.exitActions = nil

	return err
}

// check converts server errors to DbError
// and marks the transaction as failed.
func (t *Transaction) check(err error) error {
	if err == nil {
		return nil
	}
	t.failed = true
	return queryError(err)
}

func (t *Transaction) checkOpen() error {
	if t.closed {
		return ErrTransactionClosed
	}
	return nil
}

// Exec executes sql without parameters
// and returns the number of affected rows.
func (t *Transaction) Exec(ctx context.Context, sql string) (rowsAffected int64, err error) {
	return t.ExecParams(ctx, sql)
}

// ExecParams executes sql with the positional parameters args
// and returns the number of affected rows.
//
// Parameters are passed as Go strings in the text format of the
// server type or as nil for NULL, so any server type can be bound
// as long as the SQL states or implies its type.
func (t *Transaction) ExecParams(ctx context.Context, sql string, args ...any) (rowsAffected int64, err error) {
	if err = t.checkOpen(); err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, t.check(err)
	}
	return tag.RowsAffected(), nil
}

// Prepare creates the prepared statement name for sql.
// The statement is deallocated after the transaction ended.
func (t *Transaction) Prepare(ctx context.Context, name, sql string) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, name, sql)

	if err = t.checkOpen(); err != nil {
		return err
	}
	_, err = t.tx.Prepare(ctx, name, sql)
	if err != nil {
		return t.check(err)
	}
	t.AddExitAction("deallocate "+name, func(ctx context.Context) error {
		return t.conn.Deallocate(ctx, name)
	})
	return nil
}

// ExecPrepared executes the prepared statement name
// with the positional parameters args.
func (t *Transaction) ExecPrepared(ctx context.Context, name string, args ...any) (rowsAffected int64, err error) {
	return t.ExecParams(ctx, name, args...)
}

// ExecIsolated executes sql or a prepared statement name within a savepoint.
//
// If the statement fails the transaction is rolled back to the savepoint
// and stays usable. The error is returned as DbError
// without marking the transaction as failed,
// so the caller decides if the error aborts the transaction.
func (t *Transaction) ExecIsolated(ctx context.Context, sql string, args ...any) (rowsAffected int64, err error) {
	if err = t.checkOpen(); err != nil {
		return 0, err
	}
	savepoint, err := t.tx.Begin(ctx)
	if err != nil {
		return 0, t.check(err)
	}
	tag, err := savepoint.Exec(ctx, sql, args...)
	if err != nil {
		if e := savepoint.Rollback(ctx); e != nil {
			return 0, t.check(errors.Join(err, e))
		}
		return 0, queryError(err)
	}
	err = savepoint.Commit(ctx)
	if err != nil {
		return 0, t.check(err)
	}
	return tag.RowsAffected(), nil
}

// QueryRows executes the query sql and calls scan for every result row.
func (t *Transaction) QueryRows(ctx context.Context, sql string, args []any, scan func(pgx.Rows) error) (err error) {
	if err = t.checkOpen(); err != nil {
		return err
	}
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return t.check(err)
	}
	defer rows.Close()

	for rows.Next() {
		err = scan(rows)
		if err != nil {
			return err
		}
	}
	return t.check(rows.Err())
}

// QueryValue executes the query sql and scans the
// single value of the first result row into T.
// Returns pgx.ErrNoRows if the query returned no rows.
func QueryValue[T any](ctx context.Context, t *Transaction, sql string, args ...any) (value T, err error) {
	if err = t.checkOpen(); err != nil {
		return value, err
	}
	err = t.tx.QueryRow(ctx, sql, args...).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return value, err
	}
	return value, t.check(err)
}

// SetDateStyleISO sets the date style of the transaction
// to ISO with year, month, day ordering.
func (t *Transaction) SetDateStyleISO(ctx context.Context) error {
	_, err := t.Exec(ctx, `set local datestyle to 'ISO, YMD'`)
	return err
}

// CreateTempTable creates a temporary table named tempName
// with the columns of fromSchema.fromTable but without rows
// or constraints. The table is dropped after the transaction ended.
// Returns the quoted name of the temporary table.
func (t *Transaction) CreateTempTable(ctx context.Context, fromSchema, fromTable, tempName string) (quotedTempName string, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, fromSchema, fromTable, tempName)

	quotedFrom, err := t.QuoteAndJoinIdent(ctx, ".", fromSchema, fromTable)
	if err != nil {
		return "", err
	}
	quotedTempName, err = t.QuoteIdent(ctx, tempName)
	if err != nil {
		return "", err
	}
	_, err = t.Exec(ctx,
		/*sql*/ `create temporary table `+quotedTempName+` as select * from `+quotedFrom+` with no data`,
	)
	if err != nil {
		return "", err
	}
	t.AddExitStatement(`drop table if exists pg_temp.` + quotedTempName)
	return quotedTempName, nil
}

// QuoteIdent quotes ident as SQL identifier using the server.
func (t *Transaction) QuoteIdent(ctx context.Context, ident string) (string, error) {
	return QueryValue[string](ctx, t, `select quote_ident($1)`, ident)
}

// QuoteIdents quotes every ident as SQL identifier using the server.
func (t *Transaction) QuoteIdents(ctx context.Context, idents ...string) ([]string, error) {
	if len(idents) == 0 {
		return nil, nil
	}
	quoted, err := QueryValue[[]string](ctx, t,
		/*sql*/ `select array_agg(quote_ident(i) order by n) from unnest($1::text[]) with ordinality as u(i, n)`,
		idents,
	)
	if err != nil {
		return nil, err
	}
	if len(quoted) != len(idents) {
		return nil, errs.Errorf("quoted %d identifiers instead of %d", len(quoted), len(idents))
	}
	return quoted, nil
}

// QuoteAndJoinIdent quotes every ident and joins them with sep.
func (t *Transaction) QuoteAndJoinIdent(ctx context.Context, sep string, idents ...string) (string, error) {
	quoted, err := t.QuoteIdents(ctx, idents...)
	if err != nil {
		return "", err
	}
	return strings.Join(quoted, sep), nil
}
