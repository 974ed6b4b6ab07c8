package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue 从注册表中读取计数器的值
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetrics_RecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordOperation("store", time.Now(), nil)
	m.RecordOperation("store", time.Now(), nil)
	m.RecordOperation("store", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, counterValue(t, reg, "draftfiles_lifecycle_operations_total", map[string]string{"operation": "store", "result": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "draftfiles_lifecycle_operations_total", map[string]string{"operation": "store", "result": "error"}))
}

func TestMetrics_RecordPersistAndSweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPersist(3, 1, 1)
	m.RecordPersistWarning("scan")
	m.RecordSweep("drafts", 5, nil)

	assert.Equal(t, 3.0, counterValue(t, reg, "draftfiles_attachments_bound_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "draftfiles_attachments_pruned_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "draftfiles_persist_warnings_total", map[string]string{"stage": "scan"}))
	assert.Equal(t, 5.0, counterValue(t, reg, "draftfiles_sweep_removed_total", map[string]string{"job": "drafts"}))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("store", time.Now(), nil)
		m.RecordStored("body", 10)
		m.RecordPersist(1, 1, 1)
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond, 0, 0)
		m.RecordPanic()
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordStored("body", 2048)

	w := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "draftfiles_attachments_stored_total 1")
	assert.Contains(t, w.Body.String(), "draftfiles_system_uptime_seconds")
}
