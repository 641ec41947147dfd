package event

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/go-saas/reqtx"
)

// TransactionalDb decorates a reqtx.TransactionalDb so that events sent during a
// request are published only after the request transaction committed.
type TransactionalDb struct {
	db       reqtx.TransactionalDb
	producer Producer
}

// Wrap returns db with an outbox for producer
func Wrap(db reqtx.TransactionalDb, producer Producer) *TransactionalDb {
	return &TransactionalDb{db: db, producer: producer}
}

var _ reqtx.TransactionalDb = (*TransactionalDb)(nil)

func (t *TransactionalDb) Begin(ctx context.Context, opt ...*sql.TxOptions) (reqtx.Txn, error) {
	inner, err := t.db.Begin(ctx, opt...)
	if err != nil {
		return nil, err
	}
	return &Transactional{inner: inner, producer: t.producer}, nil
}

// Transactional buffers events until the wrapped transaction is finalized.
type Transactional struct {
	inner    reqtx.Txn
	producer Producer
	events   []Event
	sync.Mutex
}

var (
	_ reqtx.Txn       = (*Transactional)(nil)
	_ reqtx.Unwrapper = (*Transactional)(nil)
)

func (t *Transactional) Unwrap() reqtx.Txn {
	return t.inner
}

func (t *Transactional) Commit(ctx context.Context) error {
	if err := t.inner.Commit(ctx); err != nil {
		return err
	}
	events := t.drain()
	if len(events) == 0 {
		return nil
	}
	if err := t.producer.BatchSend(ctx, events); err != nil {
		return fmt.Errorf("publish %d event(s) after commit: %w", len(events), err)
	}
	return nil
}

func (t *Transactional) Rollback(ctx context.Context) error {
	t.drain()
	return t.inner.Rollback(ctx)
}

func (t *Transactional) Send(msg ...Event) {
	t.Lock()
	defer t.Unlock()
	t.events = append(t.events, msg...)
}

// Pending returns the number of buffered events
func (t *Transactional) Pending() int {
	t.Lock()
	defer t.Unlock()
	return len(t.events)
}

func (t *Transactional) drain() []Event {
	t.Lock()
	defer t.Unlock()
	events := t.events
	t.events = nil
	return events
}

// TransactionalProducer buffers into the request transaction when there is a request scope
// and sends directly otherwise.
type TransactionalProducer struct {
	wrap Producer
}

func NewTransactionalProducer(wrap Producer) *TransactionalProducer {
	return &TransactionalProducer{wrap: wrap}
}

func (t *TransactionalProducer) Close() error {
	return t.wrap.Close()
}

func (t *TransactionalProducer) Send(ctx context.Context, msg Event) error {
	return t.BatchSend(ctx, []Event{msg})
}

func (t *TransactionalProducer) BatchSend(ctx context.Context, msg []Event) error {
	if _, ok := reqtx.FromContext(ctx); !ok {
		return t.wrap.BatchSend(ctx, msg)
	}
	//resolve Transactional from the request transaction
	return reqtx.UseAs(ctx, func(ctx context.Context, tx *Transactional) error {
		tx.Send(msg...)
		return nil
	})
}

var _ Producer = (*TransactionalProducer)(nil)
