package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "clinic")

	m.ObserveAdmission("ADMITTED", 5*time.Millisecond)
	m.ObserveAdmission("SLOT_OVERLAP", time.Millisecond)
	m.ObserveAdmission("SLOT_OVERLAP", time.Millisecond)
	m.IncAdmissionRetry()
	m.IncTransition("PENDING", "CONFIRMED", "ok")
	m.IncCascade("DECREASE")
	m.ObserveSlotQuery("ok", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Admissions.WithLabelValues("ADMITTED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Admissions.WithLabelValues("SLOT_OVERLAP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmissionRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("PENDING", "CONFIRMED", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CascadePreviews.WithLabelValues("DECREASE")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AdmissionLatency))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAdmission("ADMITTED", time.Millisecond)
		m.ObserveSlotQuery("ok", time.Millisecond)
		m.IncAdmissionRetry()
		m.IncTransition("PENDING", "CANCELLED", "ok")
		m.IncCascade("INCREASE")
	})
}
