package calcmq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports a Metrics snapshot on every scrape
type PrometheusCollector struct {
	metrics *Metrics

	requests     *prometheus.Desc
	timeouts     *prometheus.Desc
	dropped      *prometheus.Desc
	decodeErrors *prometheus.Desc
	pollErrors   *prometheus.Desc
	inFlight     *prometheus.Desc
	latency      *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector for m. role distinguishes a
// producer from a consumer in the exported labels.
func NewPrometheusCollector(m *Metrics, namespace, role string) *PrometheusCollector {
	constLabels := prometheus.Labels{"role": role}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}

	return &PrometheusCollector{
		metrics:      m,
		requests:     desc("requests_total", "Calculation requests by outcome.", "outcome"),
		timeouts:     desc("timeouts_total", "Requests that received no response in time."),
		dropped:      desc("dropped_responses_total", "Responses discarded for carrying another correlation id."),
		decodeErrors: desc("decode_errors_total", "Payloads that could not be decoded."),
		pollErrors:   desc("poll_errors_total", "Failed dequeue attempts."),
		inFlight:     desc("in_flight", "Requests currently being processed or awaited."),
		latency:      desc("latency_milliseconds", "Request latency over the recent sample window.", "quantile"),
	}
}

// Describe implements prometheus.Collector
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.timeouts
	ch <- c.dropped
	ch <- c.decodeErrors
	ch <- c.pollErrors
	ch <- c.inFlight
	ch <- c.latency
}

// Collect implements prometheus.Collector
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.RequestsSuccess), "success")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.RequestsFailed), "failure")
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(s.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(c.pollErrors, prometheus.CounterValue, float64(s.PollErrors))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight))
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.LatencyP50Ms, "0.5")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.LatencyP95Ms, "0.95")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.LatencyP99Ms, "0.99")
}
