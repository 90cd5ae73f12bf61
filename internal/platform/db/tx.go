package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	DBConnKey contextKey = "db_conn"
	DBTxKey   contextKey = "db_tx"
)

// WithConn returns a context carrying an acquired connection. Repositories
// prefer it over the shared pool so a request's queries share a session.
func WithConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, DBConnKey, conn)
}

// ConnFromContext retrieves the request-scoped database connection, if any.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// WithTx begins a transaction on the context connection and returns the
// transaction plus a derived context that repositories will route their
// queries through. The caller owns commit/rollback.
func WithTx(ctx context.Context) (pgx.Tx, context.Context, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return nil, ctx, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, ctx, err
	}
	return tx, context.WithValue(ctx, DBTxKey, tx), nil
}

// TxFromContext retrieves the active transaction, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// RunInTx executes fn inside a pool-level transaction, committing on nil
// and rolling back otherwise.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// TxRunner adapts a pool to the atomic-unit contract domain services
// depend on. Repositories that honor TxFromContext route every query in
// fn through the same transaction.
type TxRunner struct {
	Pool *pgxpool.Pool
}

func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, r.Pool, fn)
}
