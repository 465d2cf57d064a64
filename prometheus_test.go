package calcmq

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestPrometheusCollector(t *testing.T) {
	m := NewMetrics(0, 0)
	m.EndRequest(m.StartRequest(), true)
	m.EndRequest(m.StartRequest(), true)
	m.EndRequest(m.StartRequest(), false)
	m.RecordTimeout()
	m.RecordDropped()

	c := NewPrometheusCollector(m, "calcmq", "producer")
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	t.Run("requests by outcome", func(t *testing.T) {
		family := gatherFamily(t, reg, "calcmq_requests_total")
		assert.Equal(t, dto.MetricType_COUNTER, family.GetType())

		byOutcome := make(map[string]float64)
		for _, metric := range family.GetMetric() {
			assert.Equal(t, "producer", labelValue(metric, "role"))
			byOutcome[labelValue(metric, "outcome")] = metric.GetCounter().GetValue()
		}
		assert.Equal(t, map[string]float64{"success": 2, "failure": 1}, byOutcome)
	})

	t.Run("event counters", func(t *testing.T) {
		timeouts := gatherFamily(t, reg, "calcmq_timeouts_total")
		assert.Equal(t, 1.0, timeouts.GetMetric()[0].GetCounter().GetValue())

		dropped := gatherFamily(t, reg, "calcmq_dropped_responses_total")
		assert.Equal(t, 1.0, dropped.GetMetric()[0].GetCounter().GetValue())
	})

	t.Run("latency quantiles", func(t *testing.T) {
		family := gatherFamily(t, reg, "calcmq_latency_milliseconds")
		assert.Len(t, family.GetMetric(), 3)
	})

	t.Run("collects every series", func(t *testing.T) {
		assert.Equal(t, 10, testutil.CollectAndCount(c))
	})

	t.Run("scrapes follow the live metrics", func(t *testing.T) {
		m.RecordTimeout()
		timeouts := gatherFamily(t, reg, "calcmq_timeouts_total")
		assert.Equal(t, 2.0, timeouts.GetMetric()[0].GetCounter().GetValue())
	})
}
