package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.RecordEvent("SessionStart")
	m.RecordEvent("SessionStart")
	m.RecordDispatchError("SubagentStop")
	m.RecordSourceFailure("siblings")
	m.RecordDropped()
	m.SetSubscribers(3)
	m.ObserveDispatch("SessionStart", 0.01)
	m.ObserveBundle("smart", 512)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("SessionStart")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchErrorsTotal.WithLabelValues("SubagentStop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RankerSourceFailures.WithLabelValues("siblings")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastDroppedTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BroadcastSubscribers))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEvent("x")
		m.RecordDispatchError("x")
		m.ObserveDispatch("x", 1)
		m.RecordSourceFailure("x")
		m.ObserveBundle("x", 1)
		m.SetSubscribers(1)
		m.RecordDropped()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordEvent("Stop")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), `clnode_events_total{event="Stop"} 1`)
}
