package http

import (
	"context"
	"net/http"

	"github.com/go-saas/reqtx"
)

var (
	SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
)

func contains(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}

	return false
}

// SkipFunc identity whether a request should run without a transaction scope
type SkipFunc func(r *http.Request) bool

// SkipSafeMethods skips SafeMethods like "GET", "HEAD", "OPTIONS", "TRACE"
func SkipSafeMethods(r *http.Request) bool {
	return contains(SafeMethods, r.Method)
}

// EncodeErrorFunc how to encode an error of the request transaction
type EncodeErrorFunc func(http.ResponseWriter, *http.Request, error)

// DefaultErrorEncoder writes a 500 response carrying the error message.
func DefaultErrorEncoder(w http.ResponseWriter, r *http.Request, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type option struct {
	skip       SkipFunc
	errEncoder EncodeErrorFunc
}

type Option func(*option)

// WithSkip change the skip function. default will run every request in a scope,
// a transaction is only begun when a handler asks for it
func WithSkip(f SkipFunc) Option {
	return func(o *option) {
		o.skip = f
	}
}

// WithErrorEncoder error encoder. default is DefaultErrorEncoder
func WithErrorEncoder(f EncodeErrorFunc) Option {
	return func(o *option) {
		o.errEncoder = f
	}
}

func newOption(opts []Option) *option {
	opt := &option{
		skip: func(r *http.Request) bool {
			return false
		},
		errEncoder: DefaultErrorEncoder,
	}
	for _, o := range opts {
		o(opt)
	}
	return opt
}

// Middleware runs every request within a transaction scope of mgr.
//
// The response of next is buffered. It is sent once the transaction is resolved, or
// replaced by the error encoder output if the transaction leaked or failed to commit.
// Streaming responses are therefore not supported below this middleware.
func Middleware(mgr reqtx.Manager, opts ...Option) func(http.Handler) http.Handler {
	opt := newOption(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opt.skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			buf := NewResponseBuffer()
			_, err := mgr.WithNew(r.Context(), func(ctx context.Context) int {
				next.ServeHTTP(buf, r.WithContext(ctx))
				return buf.Status()
			})
			if err != nil {
				opt.errEncoder(w, r, err)
				return
			}
			_ = buf.FlushTo(w)
		})
	}
}

// Handle adapts a HandlerFunc. A returned error is written by the error encoder,
// so return before writing anything to w.
func Handle(handler HandlerFunc, opts ...Option) http.Handler {
	opt := newOption(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := handler(w, r); err != nil {
			opt.errEncoder(w, r, err)
		}
	})
}

// Tx wrap HandlerFunc with a request transaction scope
func Tx(mgr reqtx.Manager, handler HandlerFunc, opts ...Option) http.Handler {
	return Middleware(mgr, opts...)(Handle(handler, opts...))
}
