package kratos

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/go-saas/reqtx"
	uhttp "github.com/go-saas/reqtx/http"
)

const (
	ReasonLeaked       = "TRANSACTION_LEAKED"
	ReasonCommitFailed = "TRANSACTION_COMMIT_FAILED"
	ReasonBeginFailed  = "TRANSACTION_BEGIN_FAILED"
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
type SkipFunc func(ctx context.Context, req interface{}) bool

type option struct {
	skip    SkipFunc
	skipOps []string
}

type Option func(*option)

// WithSkip change the skip function. default will run every request in a scope,
// a transaction is only begun when a handler asks for it
func WithSkip(f SkipFunc) Option {
	return func(o *option) {
		o.skip = f
	}
}

// WithForceSkipOp use selector.Server to skip operation
func WithForceSkipOp(ops ...string) Option {
	return func(o *option) {
		o.skipOps = ops
	}
}

// SkipReadOperations skip operation method prefixed by "get" and "list" (case-insensitive),
// http request will skip safeMethods like "GET", "HEAD", "OPTIONS", "TRACE"
func SkipReadOperations() SkipFunc {
	return func(ctx context.Context, req interface{}) bool {
		if t, ok := transport.FromServerContext(ctx); ok {
			//resolve by operation
			if len(t.Operation()) > 0 && skipOperation(t.Operation()) {
				log.Debugf("[reqtx] read operation %s. skip transaction scope", t.Operation())
				return true
			}
			// can not identify
			if ht, ok := t.(*khttp.Transport); ok {
				if uhttp.SkipSafeMethods(ht.Request()) {
					log.Debugf("[reqtx] safe method %s. skip transaction scope", ht.Request().Method)
					return true
				}
			}
			return false
		}
		return false
	}
}

// StatusOf maps a handler result to the status deciding the transaction.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return int(errors.FromError(err).Code)
}

// Server request transaction middleware
func Server(mgr reqtx.Manager, opts ...Option) middleware.Middleware {
	opt := &option{
		skip: func(ctx context.Context, req interface{}) bool {
			return false
		},
	}
	for _, o := range opts {
		o(opt)
	}
	return selector.Server(func(next middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if opt.skip(ctx, req) {
				return next(ctx, req)
			}
			var res interface{}
			var herr error
			_, err := mgr.WithNew(ctx, func(ctx context.Context) int {
				res, herr = next(ctx, req)
				return StatusOf(herr)
			})
			if err != nil {
				return nil, encodeError(err)
			}
			return res, herr
		}
	}).Match(func(ctx context.Context, operation string) bool {
		return !contains(opt.skipOps, operation)
	}).Build()
}

// FromError converts a reqtx error returned to a handler into a kratos error.
func FromError(err error) error {
	if err == nil {
		return nil
	}
	return encodeError(err)
}

func encodeError(err error) *errors.Error {
	var leak *reqtx.LeakError
	var derr *reqtx.DriverError
	switch {
	case errors.As(err, &leak):
		return errors.InternalServer(ReasonLeaked, err.Error())
	case errors.As(err, &derr) && derr.Op == "begin":
		return errors.InternalServer(ReasonBeginFailed, err.Error())
	case errors.As(err, &derr):
		return errors.InternalServer(ReasonCommitFailed, err.Error())
	default:
		return errors.InternalServer("", err.Error())
	}
}

// skipOperation return true if operation action start with "get" and "list" (case-insensitive)
func skipOperation(operation string) bool {
	s := strings.Split(operation, "/")
	act := strings.ToLower(s[len(s)-1])
	return strings.HasPrefix(act, "get") || strings.HasPrefix(act, "list")
}
