package reqtx

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

type Manager interface {
	// CreateNew creates an empty request scope and attaches it to the returned context
	CreateNew(ctx context.Context) (context.Context, *Slot)
	// Resolve finalizes the scope by the response status once downstream processing completed
	Resolve(ctx context.Context, s *Slot, status int) (State, error)
	// WithNew runs [fn] within a new request scope and resolves it by the status [fn] returns
	WithNew(ctx context.Context, fn func(ctx context.Context) int) (State, error)
}

type IdGenerator func(ctx context.Context) string

var (
	DefaultIdGenerator IdGenerator = func(ctx context.Context) string {
		return uuid.New().String()
	}
)

// Observer receives transaction lifecycle events, e.g. for metrics.
type Observer interface {
	ObserveBegin(err error)
	ObserveResolve(state State, age time.Duration, err error)
}

type manager struct {
	cfg *Config
	db  TransactionalDb
	log *log.Helper
}

var _ Manager = (*manager)(nil)

type Config struct {
	EagerBegin bool
	decider    Decider
	idGen      IdGenerator
	txOpt      []*sql.TxOptions
	logger     log.Logger
	observer   Observer
}

type Option func(*Config)

// WithEagerBegin begins the transaction before downstream processing. A begin failure
// then aborts the request before any handler runs.
func WithEagerBegin() Option {
	return func(config *Config) {
		config.EagerBegin = true
	}
}

func WithDecider(d Decider) Option {
	return func(config *Config) {
		config.decider = d
	}
}

func WithIdGenerator(idGen IdGenerator) Option {
	return func(config *Config) {
		config.idGen = idGen
	}
}

func WithTxOptions(opt ...*sql.TxOptions) Option {
	return func(config *Config) {
		config.txOpt = opt
	}
}

func WithLogger(logger log.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

func WithObserver(o Observer) Option {
	return func(config *Config) {
		config.observer = o
	}
}

// NewManager creates a Manager beginning request transactions on db.
func NewManager(db TransactionalDb, opts ...Option) Manager {
	cfg := &Config{
		decider: DecideByStatus,
		idGen:   DefaultIdGenerator,
		logger:  log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &manager{
		cfg: cfg,
		db:  db,
		log: log.NewHelper(log.With(cfg.logger, "module", "reqtx")),
	}
}

func (m *manager) CreateNew(ctx context.Context) (context.Context, *Slot) {
	// the transaction lives as long as the scope context, i.e. the request
	s := newSlot(ctx, func(ctx context.Context) (Txn, error) {
		return m.db.Begin(ctx, m.cfg.txOpt...)
	}, m.cfg.idGen, m.observeBegin)
	return NewContext(ctx, s), s
}

func (m *manager) Resolve(ctx context.Context, s *Slot, status int) (State, error) {
	h, ok := s.Take()
	if !ok {
		return StateNoTransaction, nil
	}
	if st := h.State(); st.Terminal() {
		// resolved by a handler, e.g. Lease.Commit
		err := h.Err()
		m.observeResolve(st, h, err)
		if st == StateCommitFailed {
			m.log.Errorw("msg", "[reqtx] explicit commit failed", "status", status, "error", err)
			return st, err
		}
		m.log.Debugf("[reqtx] transaction already %s", st)
		return st, nil
	}
	owned, err := h.Reclaim()
	if err != nil {
		var leak *LeakError
		if errors.As(err, &leak) {
			m.log.Errorw("msg", "[reqtx] transaction not finalized", "status", status, "outstanding", leak.Outstanding, "error", err)
			m.observeResolve(StateLeaked, h, err)
			return StateLeaked, err
		}
		return h.State(), err
	}

	d := m.cfg.decider(status)
	if ctx.Err() != nil {
		// cancelled request
		d = Rollback
	}
	err = owned.Finalize(context.WithoutCancel(ctx), d)
	st := h.State()
	m.observeResolve(st, h, err)
	switch {
	case err == nil:
		m.log.Debugf("[reqtx] transaction %s, status %d", st, status)
		return st, nil
	case st == StateCommitFailed:
		m.log.Errorw("msg", "[reqtx] commit failed", "status", status, "error", err)
		return st, err
	default:
		// the response already reports the failure
		m.log.Errorw("msg", "[reqtx] rollback failed", "status", status, "error", err)
		return st, nil
	}
}

func (m *manager) WithNew(ctx context.Context, fn func(ctx context.Context) int) (State, error) {
	ctx, s := m.CreateNew(ctx)
	if m.cfg.EagerBegin {
		l, err := s.GetOrBegin(ctx)
		if err != nil {
			s.Take()
			return StateNoTransaction, err
		}
		l.Release()
	}
	panicked := true
	defer func() {
		if panicked {
			_, _ = m.Resolve(ctx, s, http.StatusInternalServerError)
		}
	}()
	status := fn(ctx)
	panicked = false
	return m.Resolve(ctx, s, status)
}

func (m *manager) observeBegin(err error) {
	if err != nil {
		m.log.Errorw("msg", "[reqtx] begin failed", "error", err)
	}
	if m.cfg.observer != nil {
		m.cfg.observer.ObserveBegin(err)
	}
}

func (m *manager) observeResolve(st State, h *Handle, err error) {
	if m.cfg.observer != nil {
		m.cfg.observer.ObserveResolve(st, h.Age(), err)
	}
}
