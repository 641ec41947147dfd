package reqtx

import "context"

type slotKey struct{}

// NewContext attaches the request slot to ctx.
func NewContext(ctx context.Context, s *Slot) context.Context {
	return context.WithValue(ctx, slotKey{}, s)
}

func FromContext(ctx context.Context) (s *Slot, ok bool) {
	s, ok = ctx.Value(slotKey{}).(*Slot)
	return
}
