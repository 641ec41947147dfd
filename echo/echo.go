package echo

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-saas/reqtx"
	uhttp "github.com/go-saas/reqtx/http"
	"github.com/labstack/echo/v4"
)

// SkipFunc identity whether a request should run without a transaction scope
type SkipFunc func(c echo.Context) bool

type option struct {
	skip SkipFunc
}

type Option func(*option)

func WithSkip(f SkipFunc) Option {
	return func(o *option) {
		o.skip = f
	}
}

// Middleware runs every request within a transaction scope of mgr.
//
// Leaks and commit failures are returned as a 500 *echo.HTTPError in place of the
// buffered handler response, for the echo error handler to render.
func Middleware(mgr reqtx.Manager, opts ...Option) echo.MiddlewareFunc {
	opt := &option{
		skip: func(c echo.Context) bool {
			return false
		},
	}
	for _, o := range opts {
		o(opt)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if opt.skip(c) {
				return next(c)
			}
			res := c.Response()
			orig := res.Writer
			buf := uhttp.NewResponseBuffer()
			res.Writer = buf

			var herr error
			_, err := mgr.WithNew(c.Request().Context(), func(ctx context.Context) int {
				c.SetRequest(c.Request().WithContext(ctx))
				herr = next(c)
				return statusOf(herr, res)
			})
			res.Writer = orig
			if err != nil {
				res.Committed = false
				res.Size = 0
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
			}
			if buf.Written() {
				if ferr := buf.FlushTo(orig); ferr != nil {
					return ferr
				}
			}
			return herr
		}
	}
}

func statusOf(err error, res *echo.Response) int {
	if err == nil {
		return res.Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
