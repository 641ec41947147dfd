package metrics

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-saas/reqtx"
	"github.com/go-saas/reqtx/mock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	require.NotNil(t, m)
	assert.NotNil(t, m.TransactionsTotal)
	assert.NotNil(t, m.TransactionDuration)
	assert.NotNil(t, m.BeginsTotal)
	assert.NotNil(t, m.BeginFailuresTotal)
}

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ObserveBegin(nil)
	m.ObserveBegin(errors.New("refused"))
	m.ObserveResolve(reqtx.StateCommitted, 10*time.Millisecond, nil)
	m.ObserveResolve(reqtx.StateCommitted, 20*time.Millisecond, nil)
	m.ObserveResolve(reqtx.StateLeaked, time.Second, errors.New("leak"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BeginsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BeginFailuresTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("committed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("leaked")))

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "reqtx_transaction_duration_seconds" {
			found = true
			assert.Equal(t, 2, len(f.GetMetric()))
		}
	}
	assert.True(t, found, "reqtx_transaction_duration_seconds metric not found")
}

func TestManagerObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	mgr := reqtx.NewManager(mock.NewDB(), reqtx.WithObserver(m))

	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusCreated} {
		_, err := mgr.WithNew(context.Background(), func(ctx context.Context) int {
			l, err := reqtx.Acquire(ctx)
			require.NoError(t, err)
			l.Release()
			return status
		})
		require.NoError(t, err)
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(m.BeginsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("committed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("rolled_back")))
}
