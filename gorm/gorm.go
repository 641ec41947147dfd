package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-saas/reqtx"
	"gorm.io/gorm"
)

type TransactionDb struct {
	*gorm.DB
}

var (
	_ reqtx.TransactionalDb = (*TransactionDb)(nil)
	_ reqtx.Txn             = (*TransactionDb)(nil)
)

// NewTransactionDb create a wrapper which implements reqtx.TransactionalDb and reqtx.Txn
func NewTransactionDb(db *gorm.DB) *TransactionDb {
	return &TransactionDb{
		DB: db,
	}
}

// Begin starts a transaction bound to ctx. database/sql rolls it back if ctx is
// cancelled before Commit.
func (t *TransactionDb) Begin(ctx context.Context, opt ...*sql.TxOptions) (reqtx.Txn, error) {
	tx := t.DB.WithContext(ctx).Begin(opt...)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return NewTransactionDb(tx), nil
}

func (t *TransactionDb) Commit(ctx context.Context) error {
	return t.DB.Commit().Error
}

func (t *TransactionDb) Rollback(ctx context.Context) error {
	return t.DB.Rollback().Error
}

// Use runs fn with the request transaction.
func Use(ctx context.Context, fn func(db *gorm.DB) error) error {
	return reqtx.UseAs(ctx, func(ctx context.Context, tx *TransactionDb) error {
		return fn(tx.DB.WithContext(ctx))
	})
}

// Acquire leases the request transaction. Release the lease before the handler returns.
func Acquire(ctx context.Context) (*gorm.DB, *reqtx.Lease, error) {
	l, err := reqtx.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	tx, err := l.Txn()
	if err != nil {
		l.Release()
		return nil, nil, err
	}
	db, ok := reqtx.As[*TransactionDb](tx)
	if !ok {
		l.Release()
		return nil, nil, fmt.Errorf("request transaction is %T, not *gorm.TransactionDb", tx)
	}
	return db.DB, l, nil
}
