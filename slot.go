package reqtx

import (
	"context"
	"sync"
)

// Slot holds the transaction of one request, if any was started.
//
// The slot only keeps a shared reference. Ownership is taken back by the Manager
// through Take and Handle.Reclaim once the downstream handlers returned.
type Slot struct {
	mtx     sync.Mutex
	ctx     context.Context
	begin   BeginFunc
	idGen   IdGenerator
	onBegin func(err error)
	handle  *Handle
	closed  bool
}

func newSlot(ctx context.Context, begin BeginFunc, idGen IdGenerator, onBegin func(err error)) *Slot {
	return &Slot{
		ctx:     ctx,
		begin:   begin,
		idGen:   idGen,
		onBegin: onBegin,
	}
}

// GetOrBegin returns a lease on the request transaction, beginning it on first use.
// A failed begin leaves the slot empty so that a later call may retry.
//
// The transaction is begun on the scope context, never on ctx: a caller may hand in a
// derived context that ends long before the request does.
func (s *Slot) GetOrBegin(ctx context.Context) (*Lease, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return nil, ErrInconsistent
	}
	if s.handle == nil {
		tx, err := s.begin(s.ctx)
		if s.onBegin != nil {
			s.onBegin(err)
		}
		if err != nil {
			return nil, &DriverError{Op: "begin", Err: err}
		}
		s.handle = newHandle(tx, s.idGen)
	}
	return s.handle.Borrow(ctx)
}

// Started reports whether a transaction was begun.
func (s *Slot) Started() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.handle != nil
}

// Take detaches the handle and closes the slot. ok is false when no transaction was begun.
func (s *Slot) Take() (h *Handle, ok bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.closed = true
	h, s.handle = s.handle, nil
	return h, h != nil
}
