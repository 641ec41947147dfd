package reqtx

import (
	"context"
	"database/sql"
	"net/http"
)

// TransactionalDb is the pool handle a Manager begins request transactions on.
type TransactionalDb interface {
	// Begin a transaction
	Begin(ctx context.Context, opt ...*sql.TxOptions) (Txn, error)
}

type Txn interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Unwrapper is implemented by transactions that decorate another transaction.
type Unwrapper interface {
	Unwrap() Txn
}

// As walks the Unwrap chain of tx and returns the first transaction of type T.
func As[T Txn](tx Txn) (T, bool) {
	for tx != nil {
		if t, ok := tx.(T); ok {
			return t, true
		}
		u, ok := tx.(Unwrapper)
		if !ok {
			break
		}
		tx = u.Unwrap()
	}
	var zero T
	return zero, false
}

// BeginFunc starts the transaction of a request scope.
type BeginFunc func(ctx context.Context) (Txn, error)

type Decision int

const (
	Rollback Decision = iota
	Commit
)

func (d Decision) String() string {
	if d == Commit {
		return "commit"
	}
	return "rollback"
}

// Decider maps the final response status to a Decision.
type Decider func(status int) Decision

// DecideByStatus commits on 2XX and rolls back on everything else.
func DecideByStatus(status int) Decision {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return Commit
	}
	return Rollback
}
