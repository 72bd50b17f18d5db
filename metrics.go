// Package urpc provides the public API for the RDMA-style RPC and
// shared-memory messaging runtime.
package urpc

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a urpc
// endpoint: request/response counters, credit accounting, and task
// engine throughput.
type Metrics struct {
	RequestOps  atomic.Uint64
	ResponseOps atomic.Uint64
	AckOps      atomic.Uint64
	ReadOps     atomic.Uint64 // RDMA READ-style pulls

	RequestBytes  atomic.Uint64
	ResponseBytes atomic.Uint64

	RequestErrors  atomic.Uint64
	ResponseErrors atomic.Uint64
	TaskErrors     atomic.Uint64

	CreditsLeaked atomic.Uint64
	TasksRun      atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRequest records one RPC request send.
func (m *Metrics) RecordRequest(bytes uint64, latencyNs uint64, success bool) {
	m.RequestOps.Add(1)
	if success {
		m.RequestBytes.Add(bytes)
	} else {
		m.RequestErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordResponse records one RPC response delivery.
func (m *Metrics) RecordResponse(bytes uint64, latencyNs uint64, success bool) {
	m.ResponseOps.Add(1)
	if success {
		m.ResponseBytes.Add(bytes)
	} else {
		m.ResponseErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordAck records one ack message.
func (m *Metrics) RecordAck(success bool) {
	m.AckOps.Add(1)
	if !success {
		m.RequestErrors.Add(1)
	}
}

// RecordCreditLeak records n credits recycled into the leaked pool
// rather than returned to idle (see internal/cursor.CreditPool).
func (m *Metrics) RecordCreditLeak(n uint64) {
	m.CreditsLeaked.Add(n)
}

// RecordTaskComplete records one task engine workflow completing,
// successfully or not.
func (m *Metrics) RecordTaskComplete(success bool) {
	m.TasksRun.Add(1)
	if !success {
		m.TaskErrors.Add(1)
	}
}

// RecordQueueDepth records a current queue depth sample.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the endpoint as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time view of Metrics with derived
// statistics computed.
type MetricsSnapshot struct {
	RequestOps  uint64
	ResponseOps uint64
	AckOps      uint64
	ReadOps     uint64

	RequestBytes  uint64
	ResponseBytes uint64

	RequestErrors  uint64
	ResponseErrors uint64
	TaskErrors     uint64

	CreditsLeaked uint64
	TasksRun      uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RequestIOPS   float64
	RequestBandwidth float64
	TotalOps      uint64
	TotalBytes    uint64
	ErrorRate     float64
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RequestOps:     m.RequestOps.Load(),
		ResponseOps:    m.ResponseOps.Load(),
		AckOps:         m.AckOps.Load(),
		ReadOps:        m.ReadOps.Load(),
		RequestBytes:   m.RequestBytes.Load(),
		ResponseBytes:  m.ResponseBytes.Load(),
		RequestErrors:  m.RequestErrors.Load(),
		ResponseErrors: m.ResponseErrors.Load(),
		TaskErrors:     m.TaskErrors.Load(),
		CreditsLeaked:  m.CreditsLeaked.Load(),
		TasksRun:       m.TasksRun.Load(),
		MaxQueueDepth:  m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.RequestOps + snap.ResponseOps + snap.AckOps
	snap.TotalBytes = snap.RequestBytes + snap.ResponseBytes

	if qc := m.QueueDepthCount.Load(); qc > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(qc)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.RequestIOPS = float64(snap.RequestOps) / uptimeSeconds
		snap.RequestBandwidth = float64(snap.RequestBytes) / uptimeSeconds
	}

	totalErrors := snap.RequestErrors + snap.ResponseErrors + snap.TaskErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, useful between test cases.
func (m *Metrics) Reset() {
	m.RequestOps.Store(0)
	m.ResponseOps.Store(0)
	m.AckOps.Store(0)
	m.ReadOps.Store(0)
	m.RequestBytes.Store(0)
	m.ResponseBytes.Store(0)
	m.RequestErrors.Store(0)
	m.ResponseErrors.Store(0)
	m.TaskErrors.Store(0)
	m.CreditsLeaked.Store(0)
	m.TasksRun.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection across the queue, flow
// control, and task engine layers.
type Observer interface {
	ObserveRequest(bytes uint64, latencyNs uint64, success bool)
	ObserveResponse(bytes uint64, latencyNs uint64, success bool)
	ObserveAck(success bool)
	ObserveCreditLeak(n uint64)
	ObserveTaskComplete(success bool)
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRequest(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveResponse(uint64, uint64, bool) {}
func (NoOpObserver) ObserveAck(bool)                      {}
func (NoOpObserver) ObserveCreditLeak(uint64)              {}
func (NoOpObserver) ObserveTaskComplete(bool)              {}
func (NoOpObserver) ObserveQueueDepth(uint32)              {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer recording into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRequest(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordRequest(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveResponse(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordResponse(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveAck(success bool) { o.metrics.RecordAck(success) }

func (o *MetricsObserver) ObserveCreditLeak(n uint64) { o.metrics.RecordCreditLeak(n) }

func (o *MetricsObserver) ObserveTaskComplete(success bool) { o.metrics.RecordTaskComplete(success) }

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) { o.metrics.RecordQueueDepth(depth) }

var (
	_ Observer = NoOpObserver{}
	_ Observer = (*MetricsObserver)(nil)
)
