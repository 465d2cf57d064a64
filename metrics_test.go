package calcmq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Creation(t *testing.T) {
	t.Run("default creation", func(t *testing.T) {
		m := NewMetrics(0, 0)
		assert.NotNil(t, m)
		assert.Equal(t, 60.0, m.Snapshot().WindowSeconds)
	})

	t.Run("custom creation", func(t *testing.T) {
		m := NewMetrics(500, 30.0)
		assert.Equal(t, 30.0, m.Snapshot().WindowSeconds)
	})
}

func TestMetrics_RequestTracking(t *testing.T) {
	t.Run("start and end request", func(t *testing.T) {
		m := NewMetrics(1000, 60.0)

		startTime := m.StartRequest()
		assert.False(t, startTime.IsZero())
		assert.Equal(t, 1, m.Snapshot().InFlight)

		time.Sleep(10 * time.Millisecond)

		latency := m.EndRequest(startTime, true)
		assert.Greater(t, latency, 0.0)

		snapshot := m.Snapshot()
		assert.Equal(t, 1, snapshot.RequestsTotal)
		assert.Equal(t, 1, snapshot.RequestsSuccess)
		assert.Equal(t, 0, snapshot.RequestsFailed)
		assert.Equal(t, 0, snapshot.InFlight)
	})

	t.Run("multiple requests", func(t *testing.T) {
		m := NewMetrics(1000, 60.0)

		for i := 0; i < 5; i++ {
			m.EndRequest(m.StartRequest(), i%2 == 0)
		}

		snapshot := m.Snapshot()
		assert.Equal(t, 5, snapshot.RequestsTotal)
		assert.Equal(t, 3, snapshot.RequestsSuccess)
		assert.Equal(t, 2, snapshot.RequestsFailed)
	})

	t.Run("max in flight", func(t *testing.T) {
		m := NewMetrics(1000, 60.0)

		a := m.StartRequest()
		b := m.StartRequest()
		m.EndRequest(a, true)
		m.EndRequest(b, true)

		snapshot := m.Snapshot()
		assert.Equal(t, 0, snapshot.InFlight)
		assert.Equal(t, 2, snapshot.MaxInFlight)
	})
}

func TestMetrics_Events(t *testing.T) {
	m := NewMetrics(0, 0)
	m.RecordTimeout()
	m.RecordDropped()
	m.RecordDropped()
	m.RecordDecodeError()
	m.RecordPollError()

	snapshot := m.Snapshot()
	assert.Equal(t, 1, snapshot.Timeouts)
	assert.Equal(t, 2, snapshot.Dropped)
	assert.Equal(t, 1, snapshot.DecodeErrors)
	assert.Equal(t, 1, snapshot.PollErrors)
}

func TestMetrics_LatencyPercentiles(t *testing.T) {
	t.Run("latency samples are bounded", func(t *testing.T) {
		m := NewMetrics(10, 60.0)

		for i := 0; i < 50; i++ {
			m.EndRequest(m.StartRequest(), true)
		}

		m.mu.RLock()
		size := m.size
		m.mu.RUnlock()
		assert.Equal(t, 10, size)
	})

	t.Run("percentiles are ordered", func(t *testing.T) {
		m := NewMetrics(1000, 60.0)

		m.mu.Lock()
		for _, v := range []float64{100, 10, 90, 20, 80, 30, 70, 40, 60, 50} {
			m.record(v)
		}
		m.mu.Unlock()

		snapshot := m.Snapshot()
		assert.Equal(t, 10.0, snapshot.LatencyMinMs)
		assert.Equal(t, 100.0, snapshot.LatencyMaxMs)
		assert.Equal(t, 55.0, snapshot.LatencyAvgMs)
		assert.Equal(t, 60.0, snapshot.LatencyP50Ms)
		assert.LessOrEqual(t, snapshot.LatencyP50Ms, snapshot.LatencyP95Ms)
		assert.LessOrEqual(t, snapshot.LatencyP95Ms, snapshot.LatencyP99Ms)
	})

	t.Run("oldest samples are overwritten", func(t *testing.T) {
		m := NewMetrics(3, 60.0)

		m.mu.Lock()
		for _, v := range []float64{1000, 1, 2, 3} {
			m.record(v)
		}
		m.mu.Unlock()

		snapshot := m.Snapshot()
		assert.Equal(t, 1.0, snapshot.LatencyMinMs)
		assert.Equal(t, 3.0, snapshot.LatencyMaxMs)
	})

	t.Run("empty metrics", func(t *testing.T) {
		snapshot := NewMetrics(0, 0).Snapshot()
		assert.Equal(t, 0.0, snapshot.LatencyAvgMs)
		assert.Equal(t, 0.0, snapshot.LatencyP99Ms)
	})
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics(0, 0)
	m.EndRequest(m.StartRequest(), false)
	m.RecordTimeout()

	m.Reset()

	snapshot := m.Snapshot()
	assert.Equal(t, 0, snapshot.RequestsTotal)
	assert.Equal(t, 0, snapshot.RequestsFailed)
	assert.Equal(t, 0, snapshot.Timeouts)
	assert.Equal(t, 0.0, snapshot.LatencyMaxMs)
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics(100, 60.0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.EndRequest(m.StartRequest(), j%3 != 0)
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()

	snapshot := m.Snapshot()
	assert.Equal(t, 1000, snapshot.RequestsTotal)
	assert.Equal(t, 1000, snapshot.RequestsSuccess+snapshot.RequestsFailed)
	assert.Equal(t, 0, snapshot.InFlight)
}
