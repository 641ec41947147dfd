package reqtx

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	orderedmap "github.com/elliotchance/orderedmap/v2"
)

const modulePath = "github.com/go-saas/reqtx"

// Handle shares one live transaction between the leases of a request.
//
// Any number of leases may be outstanding while the request runs. Reclaim hands the
// transaction back to a single owner, and only when no lease is left. A Handle is
// never finalized behind the back of a lease holder.
type Handle struct {
	mtx    sync.Mutex
	tx     Txn
	state  State
	owned  bool
	began  time.Time
	idGen  IdGenerator
	err    error
	leases *orderedmap.OrderedMap[string, *leaseRecord]
}

// leaseRecord keeps the raw call stack of a lease. It is only symbolized when the
// lease is reported as leaked.
type leaseRecord struct {
	pcs [16]uintptr
	n   int
}

func newHandle(tx Txn, idGen IdGenerator) *Handle {
	return &Handle{
		tx:     tx,
		state:  StateActive,
		began:  time.Now(),
		idGen:  idGen,
		leases: orderedmap.NewOrderedMap[string, *leaseRecord](),
	}
}

// Borrow returns a new lease on the transaction. The caller must Release it.
func (h *Handle) Borrow(ctx context.Context) (*Lease, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.state != StateActive || h.owned {
		return nil, ErrInconsistent
	}
	id := h.idGen(ctx)
	rec := &leaseRecord{}
	rec.n = runtime.Callers(2, rec.pcs[:])
	h.leases.Set(id, rec)
	return &Lease{id: id, h: h}, nil
}

// Outstanding returns the number of unreleased leases.
func (h *Handle) Outstanding() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.leases.Len()
}

func (h *Handle) State() State {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.state
}

// Age returns the time since the transaction began.
func (h *Handle) Age() time.Duration {
	return time.Since(h.began)
}

// Reclaim converts the handle into exclusive ownership of the transaction.
//
// It fails with a *LeakError when leases are still outstanding. The handle is then
// marked leaked: it can no longer be borrowed, reclaimed or finalized.
func (h *Handle) Reclaim() (*Owned, error) {
	return h.reclaim(true)
}

func (h *Handle) reclaim(markLeaked bool) (*Owned, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.state != StateActive || h.owned {
		return nil, ErrInconsistent
	}
	if n := h.leases.Len(); n > 0 {
		infos := make([]LeaseInfo, 0, n)
		for el := h.leases.Front(); el != nil; el = el.Next() {
			infos = append(infos, LeaseInfo{ID: el.Key, Caller: el.Value.caller()})
		}
		if markLeaked {
			h.state = StateLeaked
		}
		return nil, &LeakError{Outstanding: n, Leases: infos}
	}
	h.owned = true
	tx := h.tx
	h.tx = nil
	return &Owned{h: h, tx: tx}, nil
}

func (h *Handle) setState(s State) {
	h.mtx.Lock()
	h.state = s
	h.mtx.Unlock()
}

// Err returns the commit failure of a handle in StateCommitFailed.
func (h *Handle) Err() error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.err
}

func (h *Handle) fail(err error) {
	h.mtx.Lock()
	h.state = StateCommitFailed
	h.err = err
	h.mtx.Unlock()
}

// Owned is the exclusively owned transaction returned by Handle.Reclaim.
type Owned struct {
	h  *Handle
	tx Txn
}

func (o *Owned) Txn() Txn {
	return o.tx
}

// Finalize commits or rolls back the transaction. It can be called once.
func (o *Owned) Finalize(ctx context.Context, d Decision) error {
	if o.tx == nil {
		return ErrInconsistent
	}
	tx := o.tx
	o.tx = nil
	if d == Commit {
		if err := tx.Commit(ctx); err != nil {
			derr := &DriverError{Op: "commit", Err: err}
			o.h.fail(derr)
			return derr
		}
		o.h.setState(StateCommitted)
		return nil
	}
	err := tx.Rollback(ctx)
	o.h.setState(StateRolledBack)
	if err != nil {
		return &DriverError{Op: "rollback", Err: err}
	}
	return nil
}

// Lease is a non-owning reference to a request transaction.
type Lease struct {
	id string
	h  *Handle
}

func (l *Lease) ID() string {
	return l.id
}

// Txn returns the leased transaction. It fails with ErrInconsistent once the lease
// is released or the scope has ended.
func (l *Lease) Txn() (Txn, error) {
	l.h.mtx.Lock()
	defer l.h.mtx.Unlock()
	if _, ok := l.h.leases.Get(l.id); !ok || l.h.state != StateActive || l.h.owned {
		return nil, ErrInconsistent
	}
	return l.h.tx, nil
}

// Release ends the lease. Releasing twice is a no-op.
func (l *Lease) Release() {
	l.h.mtx.Lock()
	l.h.leases.Delete(l.id)
	l.h.mtx.Unlock()
}

// Commit releases the lease and commits the transaction before the request ends.
//
// It fails with a *LeakError if other leases are still outstanding; the transaction
// then stays active and is resolved at request end. Once committed, the middleware
// leaves the transaction alone whatever the response status.
func (l *Lease) Commit(ctx context.Context) error {
	l.Release()
	o, err := l.h.reclaim(false)
	if err != nil {
		return err
	}
	return o.Finalize(ctx, Commit)
}

// caller finds the first frame outside this module, test files excepted.
func (r *leaseRecord) caller() string {
	if r.n == 0 {
		return "unknown"
	}
	frames := runtime.CallersFrames(r.pcs[:r.n])
	for {
		f, more := frames.Next()
		internal := strings.HasPrefix(f.Function, modulePath+".") || strings.HasPrefix(f.Function, modulePath+"/")
		if !internal || strings.HasSuffix(f.File, "_test.go") {
			return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
		if !more {
			return "unknown"
		}
	}
}
