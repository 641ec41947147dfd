package reqtx

import (
	"context"
	"fmt"
)

// Acquire returns a lease on the request transaction, beginning it on first use.
// Every call within one request leases the same transaction. Release the lease
// before the handler returns.
func Acquire(ctx context.Context) (*Lease, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, ErrMissingScope
	}
	return s.GetOrBegin(ctx)
}

// Use runs [fn] with the request transaction and releases the lease when [fn] returns.
func Use(ctx context.Context, fn func(ctx context.Context, tx Txn) error) error {
	l, err := Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.Release()
	tx, err := l.Txn()
	if err != nil {
		return err
	}
	return fn(ctx, tx)
}

// UseAs is Use for a concrete transaction type, looked up with As.
func UseAs[T Txn](ctx context.Context, fn func(ctx context.Context, tx T) error) error {
	return Use(ctx, func(ctx context.Context, tx Txn) error {
		t, ok := As[T](tx)
		if !ok {
			var zero T
			return fmt.Errorf("request transaction is %T, not %T", tx, zero)
		}
		return fn(ctx, t)
	})
}
