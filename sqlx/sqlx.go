package sqlx

import (
	"context"
	"database/sql"

	"github.com/go-saas/reqtx"
	"github.com/jmoiron/sqlx"
)

// DB begins request transactions on a sqlx.DB.
type DB struct {
	db *sqlx.DB
}

var _ reqtx.TransactionalDb = (*DB)(nil)

func New(db *sqlx.DB) *DB {
	return &DB{db: db}
}

func (d *DB) Begin(ctx context.Context, opt ...*sql.TxOptions) (reqtx.Txn, error) {
	var o *sql.TxOptions
	if len(opt) > 0 {
		o = opt[0]
	}
	tx, err := d.db.BeginTxx(ctx, o)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps sqlx.Tx as reqtx.Txn
type Tx struct {
	tx *sqlx.Tx
}

var _ reqtx.Txn = (*Tx)(nil)

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}

// Tx returns the underlying sqlx.Tx
func (t *Tx) Tx() *sqlx.Tx {
	return t.tx
}

// Use runs fn with the request transaction.
func Use(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return reqtx.UseAs(ctx, func(ctx context.Context, tx *Tx) error {
		return fn(tx.tx)
	})
}
