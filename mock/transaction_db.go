package mock

import (
	"context"
	"database/sql"
	"sync"

	"github.com/go-saas/reqtx"
)

// DB is an in-memory reqtx.TransactionalDb recording every driver call.
// Rows written through a Txn become visible only after Commit.
type DB struct {
	mtx sync.Mutex

	BeginErr    error
	CommitErr   error
	RollbackErr error

	begins    int
	commits   int
	rollbacks int
	rows      map[string]string
	txns      []*Txn
}

var _ reqtx.TransactionalDb = (*DB)(nil)

func NewDB() *DB {
	return &DB{rows: map[string]string{}}
}

func (d *DB) Begin(ctx context.Context, opt ...*sql.TxOptions) (reqtx.Txn, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.begins++
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	tx := &Txn{db: d, Ctx: ctx, staged: map[string]string{}}
	if len(opt) > 0 {
		tx.Opt = opt[0]
	}
	d.txns = append(d.txns, tx)
	return tx, nil
}

// Calls returns the number of begin, commit and rollback calls so far.
func (d *DB) Calls() (begins, commits, rollbacks int) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.begins, d.commits, d.rollbacks
}

// Row returns a committed row.
func (d *DB) Row(key string) (string, bool) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	v, ok := d.rows[key]
	return v, ok
}

func (d *DB) Txns() []*Txn {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return append([]*Txn(nil), d.txns...)
}

type Txn struct {
	db     *DB
	// Ctx is the context the transaction was begun on
	Ctx    context.Context
	Opt    *sql.TxOptions
	staged map[string]string
	done   bool
}

var _ reqtx.Txn = (*Txn)(nil)

func (t *Txn) Insert(key, value string) error {
	t.db.mtx.Lock()
	defer t.db.mtx.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.staged[key] = value
	return nil
}

func (t *Txn) Commit(ctx context.Context) error {
	t.db.mtx.Lock()
	defer t.db.mtx.Unlock()
	t.db.commits++
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if t.db.CommitErr != nil {
		return t.db.CommitErr
	}
	for k, v := range t.staged {
		t.db.rows[k] = v
	}
	return nil
}

func (t *Txn) Rollback(ctx context.Context) error {
	t.db.mtx.Lock()
	defer t.db.mtx.Unlock()
	t.db.rollbacks++
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	return t.db.RollbackErr
}
