package gorm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-saas/reqtx"
	uhttp "github.com/go-saas/reqtx/http"
	"github.com/mattn/go-sqlite3"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type post struct {
	gorm.Model
}

var (
	client *gorm.DB
)

type L struct {
}

func (l L) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	fmt.Println(msg)
	fmt.Printf("%+v\n", data)
}

func TestMain(m *testing.M) {
	var err error
	db := sqldblogger.OpenDriver("file:test.DB?cache=shared&mode=memory", &sqlite3.SQLiteDriver{}, L{})

	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	client, err = gorm.Open(&sqlite.Dialector{
		DriverName: sqlite.DriverName,
		Conn:       db,
	}, &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		panic(err)
	}

	err = client.AutoMigrate(&post{})
	if err != nil {
		panic(err)
	}

	exitCode := m.Run()
	os.Exit(exitCode)
}

func serve(handler uhttp.HandlerFunc) *httptest.ResponseRecorder {
	mgr := reqtx.NewManager(NewTransactionDb(client))
	rec := httptest.NewRecorder()
	uhttp.Tx(mgr, handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts", nil))
	return rec
}

func exists(t *testing.T, id uint) bool {
	t.Helper()
	var count int64
	require.NoError(t, client.Model(&post{}).Where("id = ?", id).Count(&count).Error)
	return count > 0
}

func TestCommit(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) error {
		err := Use(r.Context(), func(db *gorm.DB) error {
			return db.Create(&post{gorm.Model{ID: 1001}}).Error
		})
		if err != nil {
			return err
		}
		w.WriteHeader(http.StatusCreated)
		return nil
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, exists(t, 1001))
}

func TestRollback(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) error {
		err := Use(r.Context(), func(db *gorm.DB) error {
			return db.Create(&post{gorm.Model{ID: 1000}}).Error
		})
		if err != nil {
			return err
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		return nil
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, exists(t, 1000))
}

func TestSameTransaction(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) error {
		for _, id := range []uint{1002, 1003} {
			id := id
			err := Use(r.Context(), func(db *gorm.DB) error {
				return db.Create(&post{gorm.Model{ID: id}}).Error
			})
			if err != nil {
				return err
			}
		}
		// both rows are visible inside the request transaction
		db, l, err := Acquire(r.Context())
		if err != nil {
			return err
		}
		defer l.Release()
		var count int64
		if err := db.Model(&post{}).Where("id IN ?", []uint{1002, 1003}).Count(&count).Error; err != nil {
			return err
		}
		if count != 2 {
			return fmt.Errorf("expected 2 rows, got %d", count)
		}
		return nil
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, exists(t, 1002))
	assert.True(t, exists(t, 1003))
}

func TestHandlerErrorRollsBack(t *testing.T) {
	fakeError := errors.New("fake error")
	rec := serve(func(w http.ResponseWriter, r *http.Request) error {
		err := Use(r.Context(), func(db *gorm.DB) error {
			return db.Create(&post{gorm.Model{ID: 1004}}).Error
		})
		if err != nil {
			return err
		}
		return fakeError
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, exists(t, 1004))
}

func TestExplicitCommit(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) error {
		db, l, err := Acquire(r.Context())
		if err != nil {
			return err
		}
		if err := db.Create(&post{gorm.Model{ID: 1005}}).Error; err != nil {
			l.Release()
			return err
		}
		if err := l.Commit(r.Context()); err != nil {
			return err
		}
		w.WriteHeader(http.StatusBadRequest)
		return nil
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, exists(t, 1005))
}

func TestFirstUseUnderCancelledContext(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) error {
		ctx, cancel := context.WithCancel(r.Context())
		err := Use(ctx, func(db *gorm.DB) error {
			return db.Create(&post{gorm.Model{ID: 1006}}).Error
		})
		cancel()
		if err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
		return nil
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, exists(t, 1006))
}

func TestUseWithoutScope(t *testing.T) {
	err := Use(context.Background(), func(db *gorm.DB) error {
		return nil
	})
	assert.ErrorIs(t, err, reqtx.ErrMissingScope)
}
