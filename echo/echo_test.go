package echo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-saas/reqtx"
	"github.com/go-saas/reqtx/mock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func insert(c echo.Context, key string) error {
	return reqtx.UseAs(c.Request().Context(), func(ctx context.Context, tx *mock.Txn) error {
		return tx.Insert(key, key)
	})
}

func newEcho(db *mock.DB, h echo.HandlerFunc, opts ...Option) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(reqtx.NewManager(db), opts...))
	e.POST("/numbers", h)
	e.GET("/numbers", h)
	return e
}

func do(e *echo.Echo, method string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, "/numbers", nil))
	return rec
}

func TestEchoCommit(t *testing.T) {
	db := mock.NewDB()
	e := newEcho(db, func(c echo.Context) error {
		if err := insert(c, "42"); err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, 42)
	})

	rec := do(e, http.MethodPost)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, "42", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
	_, ok := db.Row("42")
	assert.True(t, ok)
}

func TestEchoRollbackOnHTTPError(t *testing.T) {
	db := mock.NewDB()
	e := newEcho(db, func(c echo.Context) error {
		if err := insert(c, "-1"); err != nil {
			return err
		}
		return echo.NewHTTPError(http.StatusTeapot, "negative number")
	})

	rec := do(e, http.MethodPost)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, rec.Body.String(), "negative number")
	_, commits, rollbacks := db.Calls()
	assert.Zero(t, commits)
	assert.Equal(t, 1, rollbacks)
	_, ok := db.Row("-1")
	assert.False(t, ok)
}

func TestEchoCommitFailure(t *testing.T) {
	db := mock.NewDB()
	db.CommitErr = errors.New("disk full")
	e := newEcho(db, func(c echo.Context) error {
		if err := insert(c, "42"); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, 42)
	})

	rec := do(e, http.MethodPost)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")
}

func TestEchoNoTransaction(t *testing.T) {
	db := mock.NewDB()
	e := newEcho(db, func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	rec := do(e, http.MethodGet)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	begins, _, _ := db.Calls()
	assert.Zero(t, begins)
}

func TestEchoSkip(t *testing.T) {
	db := mock.NewDB()
	e := newEcho(db, func(c echo.Context) error {
		if _, ok := reqtx.FromContext(c.Request().Context()); ok {
			return c.String(http.StatusOK, "scoped")
		}
		return c.String(http.StatusOK, "unscoped")
	}, WithSkip(func(c echo.Context) bool {
		return c.Request().Method == http.MethodGet
	}))

	assert.Equal(t, "unscoped", do(e, http.MethodGet).Body.String())
	assert.Equal(t, "scoped", do(e, http.MethodPost).Body.String())
}
