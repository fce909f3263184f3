package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("bank:process_email").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("bank:process_email").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("bank:process_email", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("bank:process_email", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("bank:process_email")))
}

func TestAddItemsIgnoresNonPositive(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddItems("invoices:overdue_sweep", "overdue", 3)
	m.AddItems("invoices:overdue_sweep", "overdue", 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.items.WithLabelValues("invoices:overdue_sweep", "overdue")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("x").End(boom), boom)
	assert.NotPanics(t, func() { m.AddItems("x", "y", 1) })
}
