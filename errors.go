package reqtx

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingScope = errors.New("transaction scope not found, did you add the reqtx middleware?")
	// ErrInconsistent reports use of a transaction after its request scope was reclaimed or finalized.
	ErrInconsistent = errors.New("transaction used after commit or rollback")
)

// DriverError wraps a begin, commit or rollback failure of the underlying database.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s transaction fail: %s", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// LeaseInfo describes a lease that was still outstanding when the scope ended.
type LeaseInfo struct {
	ID     string
	Caller string
}

// LeakError is returned by Reclaim when leases are still outstanding.
type LeakError struct {
	Outstanding int
	Leases      []LeaseInfo
}

func (e *LeakError) Error() string {
	callers := make([]string, 0, len(e.Leases))
	for _, l := range e.Leases {
		callers = append(callers, l.Caller)
	}
	return fmt.Sprintf("transaction leaked: %d lease(s) still outstanding after request end [%s]",
		e.Outstanding, strings.Join(callers, ", "))
}
