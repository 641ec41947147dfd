package pgx

import (
	"context"
	"database/sql"

	"github.com/go-saas/reqtx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Beginner is implemented by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var (
	_ Beginner = (*pgxpool.Pool)(nil)
	_ Beginner = (*pgx.Conn)(nil)
)

type DB struct {
	pool Beginner
}

var _ reqtx.TransactionalDb = (*DB)(nil)

func New(pool Beginner) *DB {
	return &DB{pool: pool}
}

// Begin starts a transaction that is rolled back when ctx is done before it
// was committed or rolled back, so that an abandoned request returns its connection.
func (d *DB) Begin(ctx context.Context, opt ...*sql.TxOptions) (reqtx.Txn, error) {
	tx, err := d.pool.BeginTx(ctx, TxOptions(opt...))
	if err != nil {
		return nil, err
	}
	t := &Tx{tx: tx}
	t.stop = context.AfterFunc(ctx, func() {
		_ = tx.Rollback(context.Background())
	})
	return t, nil
}

// TxOptions converts database/sql options to pgx options.
func TxOptions(opt ...*sql.TxOptions) pgx.TxOptions {
	var o pgx.TxOptions
	if len(opt) == 0 || opt[0] == nil {
		return o
	}
	switch opt[0].Isolation {
	case sql.LevelReadUncommitted:
		o.IsoLevel = pgx.ReadUncommitted
	case sql.LevelReadCommitted:
		o.IsoLevel = pgx.ReadCommitted
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		o.IsoLevel = pgx.RepeatableRead
	case sql.LevelSerializable, sql.LevelLinearizable:
		o.IsoLevel = pgx.Serializable
	}
	if opt[0].ReadOnly {
		o.AccessMode = pgx.ReadOnly
	}
	return o
}

type Tx struct {
	tx   pgx.Tx
	stop func() bool
}

var _ reqtx.Txn = (*Tx)(nil)

func (t *Tx) Commit(ctx context.Context) error {
	t.stop()
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	t.stop()
	return t.tx.Rollback(ctx)
}

func (t *Tx) Tx() pgx.Tx {
	return t.tx
}

// Use runs fn with the request transaction.
func Use(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return reqtx.UseAs(ctx, func(ctx context.Context, tx *Tx) error {
		return fn(ctx, tx.tx)
	})
}
