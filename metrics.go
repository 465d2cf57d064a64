package calcmq

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultLatencySamples = 1000
	defaultWindowSeconds  = 60.0
)

// MetricsSnapshot is a copy of a Metrics taken at one instant
type MetricsSnapshot struct {
	RequestsTotal   int `json:"requests_total"`
	RequestsSuccess int `json:"requests_success"`
	RequestsFailed  int `json:"requests_failed"`
	Timeouts        int `json:"timeouts"`
	Dropped         int `json:"dropped"`
	DecodeErrors    int `json:"decode_errors"`
	PollErrors      int `json:"poll_errors"`

	InFlight    int `json:"in_flight"`
	MaxInFlight int `json:"max_in_flight"`

	// Latency over the retained samples, in milliseconds
	LatencyAvgMs float64 `json:"latency_avg_ms"`
	LatencyP50Ms float64 `json:"latency_p50_ms"`
	LatencyP95Ms float64 `json:"latency_p95_ms"`
	LatencyP99Ms float64 `json:"latency_p99_ms"`
	LatencyMinMs float64 `json:"latency_min_ms"`
	LatencyMaxMs float64 `json:"latency_max_ms"`

	WindowSeconds float64   `json:"window_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

type requestCounts struct {
	total        int
	success      int
	failed       int
	timeouts     int
	dropped      int
	decodeErrors int
	pollErrors   int
}

// Metrics counts request outcomes for one Producer or Consumer and keeps the
// latencies of the most recent requests. It is safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	windowSeconds float64
	counts        requestCounts
	inFlight      int
	maxInFlight   int

	// samples is a ring buffer; next is the slot the next sample goes to
	samples []float64
	next    int
	size    int
}

// NewMetrics creates a Metrics retaining up to maxLatencySamples latencies.
// Non-positive arguments select the defaults.
func NewMetrics(maxLatencySamples int, windowSeconds float64) *Metrics {
	if maxLatencySamples <= 0 {
		maxLatencySamples = defaultLatencySamples
	}
	if windowSeconds <= 0 {
		windowSeconds = defaultWindowSeconds
	}

	return &Metrics{
		windowSeconds: windowSeconds,
		samples:       make([]float64, maxLatencySamples),
	}
}

// StartRequest marks a request as in flight and returns its start time, to
// be handed back to EndRequest
func (m *Metrics) StartRequest() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts.total++
	m.inFlight++
	m.maxInFlight = max(m.maxInFlight, m.inFlight)

	return time.Now()
}

// EndRequest records the outcome of a request started at start and returns
// its latency in milliseconds
func (m *Metrics) EndRequest(start time.Time, success bool) float64 {
	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight--
	if success {
		m.counts.success++
	} else {
		m.counts.failed++
	}
	m.record(latencyMs)

	return latencyMs
}

// record stores a latency sample, overwriting the oldest one when full.
// Caller holds m.mu.
func (m *Metrics) record(latencyMs float64) {
	m.samples[m.next] = latencyMs
	m.next = (m.next + 1) % len(m.samples)
	if m.size < len(m.samples) {
		m.size++
	}
}

// RecordTimeout counts a producer giving up on a response
func (m *Metrics) RecordTimeout() {
	m.mu.Lock()
	m.counts.timeouts++
	m.mu.Unlock()
}

// RecordDropped counts a response discarded for carrying another request's
// correlation id
func (m *Metrics) RecordDropped() {
	m.mu.Lock()
	m.counts.dropped++
	m.mu.Unlock()
}

// RecordDecodeError counts an undecodable payload
func (m *Metrics) RecordDecodeError() {
	m.mu.Lock()
	m.counts.decodeErrors++
	m.mu.Unlock()
}

// RecordPollError counts a failed dequeue attempt
func (m *Metrics) RecordPollError() {
	m.mu.Lock()
	m.counts.pollErrors++
	m.mu.Unlock()
}

// Snapshot copies the current counters and summarizes the latency samples
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := MetricsSnapshot{
		RequestsTotal:   m.counts.total,
		RequestsSuccess: m.counts.success,
		RequestsFailed:  m.counts.failed,
		Timeouts:        m.counts.timeouts,
		Dropped:         m.counts.dropped,
		DecodeErrors:    m.counts.decodeErrors,
		PollErrors:      m.counts.pollErrors,
		InFlight:        m.inFlight,
		MaxInFlight:     m.maxInFlight,
		WindowSeconds:   m.windowSeconds,
		Timestamp:       time.Now(),
	}
	latencies := append([]float64(nil), m.samples[:m.size]...)
	m.mu.RUnlock()

	if len(latencies) == 0 {
		return s
	}

	sort.Float64s(latencies)

	var sum float64
	for _, v := range latencies {
		sum += v
	}

	s.LatencyMinMs = latencies[0]
	s.LatencyMaxMs = latencies[len(latencies)-1]
	s.LatencyAvgMs = sum / float64(len(latencies))
	s.LatencyP50Ms = percentile(latencies, 50)
	s.LatencyP95Ms = percentile(latencies, 95)
	s.LatencyP99Ms = percentile(latencies, 99)
	return s
}

// percentile picks the p-th percentile of a sorted, non-empty slice
func percentile(sorted []float64, p int) float64 {
	return sorted[len(sorted)*p/100]
}

// Reset zeroes every counter and drops the latency samples
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts = requestCounts{}
	m.inFlight = 0
	m.maxInFlight = 0
	m.next = 0
	m.size = 0
}
