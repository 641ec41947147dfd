package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/go-saas/reqtx"
	ugorm "github.com/go-saas/reqtx/gorm"
	"github.com/go-saas/reqtx/event"
	uhttp "github.com/go-saas/reqtx/http"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Number struct {
	ID     uint  `gorm:"primaryKey"`
	Number int32 `gorm:"not null"`
}

// OpenDB opens the sqlite database and migrates the numbers table.
func OpenDB(cfg DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormsqlite.Open(cfg.DSN), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Number{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// logProducer publishes events to the log.
type logProducer struct {
	log *zap.Logger
}

var _ event.Producer = (*logProducer)(nil)

func (p *logProducer) Close() error {
	return nil
}

func (p *logProducer) Send(ctx context.Context, msg event.Event) error {
	return p.BatchSend(ctx, []event.Event{msg})
}

func (p *logProducer) BatchSend(ctx context.Context, msg []event.Event) error {
	for _, m := range msg {
		p.log.Info("event", zap.String("key", m.Key()), zap.ByteString("value", m.Value()))
	}
	return nil
}

type numbers struct {
	gen    func() int32
	events event.Producer
}

// NewRouter mounts /numbers behind the transaction middleware. events must be the
// producer wrapped into the manager's db with event.Wrap. metrics is optional.
func NewRouter(mgr reqtx.Manager, events event.Producer, gen func() int32, metrics http.Handler) http.Handler {
	h := &numbers{gen: gen, events: event.NewTransactionalProducer(events)}
	r := chi.NewRouter()
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Group(func(r chi.Router) {
		r.Use(uhttp.Middleware(mgr))
		r.Method(http.MethodGet, "/numbers", uhttp.Handle(h.list))
		r.Method(http.MethodPost, "/numbers", uhttp.Handle(h.generate))
	})
	return r
}

func (h *numbers) list(w http.ResponseWriter, r *http.Request) error {
	result := []int32{}
	err := ugorm.Use(r.Context(), func(db *gorm.DB) error {
		return db.Model(&Number{}).Order("id").Pluck("number", &result).Error
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (h *numbers) generate(w http.ResponseWriter, r *http.Request) error {
	n := &Number{Number: h.gen()}
	err := ugorm.Use(r.Context(), func(db *gorm.DB) error {
		return db.Create(n).Error
	})
	if err != nil {
		return err
	}
	// published only if the insert commits
	msg := event.NewMessage("number.created", []byte(strconv.Itoa(int(n.Number))))
	if err := h.events.Send(r.Context(), msg); err != nil {
		return err
	}
	// anything but 2XX rolls the insert back
	status := http.StatusOK
	if n.Number <= 0 {
		status = http.StatusTeapot
	}
	return writeJSON(w, status, n.Number)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
