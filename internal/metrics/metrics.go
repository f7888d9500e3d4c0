// Package metrics is a small in-process metrics collector exposed on /metrics.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names recorded by the service
const (
	FirmwareUploads    = "firmware_uploads"
	FirmwareDownloads  = "firmware_downloads"
	IntegrityFailures  = "integrity_failures"
	DevicesRegistered  = "devices_registered"
	JobsTriggered      = "jobs_triggered"
	JobsCancelled      = "jobs_cancelled"
	ActiveJobs         = "active_jobs"
	Subscribers        = "progress_subscribers"
	HTTPRequests       = "http_requests"
	HTTPRequestTimer   = "http_request"
	AuthFailures       = "auth_failures"
	RateLimitedRequest = "rate_limited_requests"
)

type timer struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// Snapshot is a point-in-time copy of every metric
type Snapshot struct {
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Counters      map[string]int64       `json:"counters"`
	Gauges        map[string]int64       `json:"gauges"`
	Timers        map[string]TimerMetric `json:"timers"`
}

// Metrics is the collector. Values are updated with atomics; the maps only grow.
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	gauges    map[string]*int64
	timers    map[string]*timer
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		gauges:    make(map[string]*int64),
		timers:    make(map[string]*timer),
		startTime: time.Now(),
	}
}

func slot(mu *sync.RWMutex, m map[string]*int64, name string) *int64 {
	mu.RLock()
	v, ok := m[name]
	mu.RUnlock()
	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()
	if v, ok = m[name]; !ok {
		v = new(int64)
		m[name] = v
	}
	return v
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	atomic.AddInt64(slot(&m.mu, m.counters, name), 1)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	atomic.StoreInt64(slot(&m.mu, m.gauges, name), value)
}

// RecordTimer records a timing measurement
func (m *Metrics) RecordTimer(name string, d time.Duration) {
	m.mu.RLock()
	t, ok := m.timers[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if t, ok = m.timers[name]; !ok {
			t = &timer{minTimeMs: math.MaxInt64}
			m.timers[name] = t
		}
		m.mu.Unlock()
	}

	ms := d.Milliseconds()
	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.totalTimeMs, ms)

	for {
		cur := atomic.LoadInt64(&t.minTimeMs)
		if ms >= cur || atomic.CompareAndSwapInt64(&t.minTimeMs, cur, ms) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&t.maxTimeMs)
		if ms <= cur || atomic.CompareAndSwapInt64(&t.maxTimeMs, cur, ms) {
			break
		}
	}
}

// Snapshot copies every metric
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		Counters:      make(map[string]int64, len(m.counters)),
		Gauges:        make(map[string]int64, len(m.gauges)),
		Timers:        make(map[string]TimerMetric, len(m.timers)),
	}

	for name, c := range m.counters {
		s.Counters[name] = atomic.LoadInt64(c)
	}
	for name, g := range m.gauges {
		s.Gauges[name] = atomic.LoadInt64(g)
	}
	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		total := atomic.LoadInt64(&t.totalTimeMs)

		var avg float64
		if count > 0 {
			avg = float64(total) / float64(count)
		}
		s.Timers[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: avg,
			MinTimeMs:     atomic.LoadInt64(&t.minTimeMs),
			MaxTimeMs:     atomic.LoadInt64(&t.maxTimeMs),
		}
	}

	return s
}
