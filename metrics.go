package goIdP

import (
	"sync/atomic"
	"time"
)

// MetricID defines a public type used by goIdP APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	MetricAccountLocked MetricID = iota
	MetricAccountUnlocked
	MetricAccountStatusChanged
	MetricAccountLinked
	MetricAccountDeleted
	MetricPasswordVerifySuccess
	MetricPasswordVerifyFailure
	MetricPasswordExpired
	MetricPasswordRehashed
	MetricPasswordSet
	MetricPasswordRevoked
	MetricPasswordResetRequest
	MetricPasswordResetVerify
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricPasswordResetRateLimited
	MetricPasswordResetNotifyFailure
	MetricWebAuthnRegistrationStarted
	MetricWebAuthnRegistrationSuccess
	MetricWebAuthnRegistrationFailure
	MetricWebAuthnAuthenticationStarted
	MetricWebAuthnAuthenticationSuccess
	MetricWebAuthnAuthenticationFailure
	MetricWebAuthnCounterReplay
	MetricWebAuthnCredentialDeleted
	MetricRateLimitHit
	// MetricPasswordVerifyLatency is a latency histogram.
	MetricPasswordVerifyLatency
	// MetricWebAuthnFinishLatency is a latency histogram covering both
	// ceremony finish operations.
	MetricWebAuthnFinishLatency
	metricIDCount
)

// HistogramMetricIDs lists the metrics recorded by [Metrics.Observe].
var HistogramMetricIDs = []MetricID{
	MetricPasswordVerifyLatency,
	MetricWebAuthnFinishLatency,
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and fixed-bucket latency histograms.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot defines a public type used by goIdP APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
}

// NewMetrics returns a Metrics set; it records nothing unless cfg.Enabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. IDs outside
// [HistogramMetricIDs] are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if !isHistogram(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and every histogram when latency is on.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return emptySnapshot()
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(HistogramMetricIDs)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range HistogramMetricIDs {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

// merge adds other into s. Used to aggregate providers.
func (s MetricsSnapshot) merge(other MetricsSnapshot) {
	for id, v := range other.Counters {
		s.Counters[id] += v
	}
	for id, buckets := range other.Histograms {
		dst := s.Histograms[id]
		if dst == nil {
			dst = make([]uint64, len(buckets))
		}
		for i := range buckets {
			if i < len(dst) {
				dst[i] += buckets[i]
			}
		}
		s.Histograms[id] = dst
	}
}

func isHistogram(id MetricID) bool {
	for _, h := range HistogramMetricIDs {
		if h == id {
			return true
		}
	}
	return false
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
