package urpc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromObserver implements Observer by recording into Prometheus
// collectors registered on Registry.
type PromObserver struct {
	requests  *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	acks      prometheus.Counter
	creditsLk prometheus.Counter
	tasks     *prometheus.CounterVec
	latency   prometheus.Histogram
	queueDep  prometheus.Gauge
}

// NewPromObserver creates and registers the collectors backing a
// PromObserver on reg.
func NewPromObserver(reg prometheus.Registerer) *PromObserver {
	o := &PromObserver{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urpc_requests_total",
			Help: "RPC request/response operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urpc_bytes_total",
			Help: "Bytes transferred by direction.",
		}, []string{"direction"}),
		acks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "urpc_acks_total",
			Help: "Ack messages observed.",
		}),
		creditsLk: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "urpc_credits_leaked_total",
			Help: "Flow-control credits recycled into the leaked pool.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urpc_tasks_total",
			Help: "Task engine workflow completions by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "urpc_operation_latency_seconds",
			Help:    "Request/response latency.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 10, numLatencyBuckets),
		}),
		queueDep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "urpc_queue_depth",
			Help: "Most recently observed queue depth.",
		}),
	}
	reg.MustRegister(o.requests, o.bytes, o.acks, o.creditsLk, o.tasks, o.latency, o.queueDep)
	return o
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func (o *PromObserver) ObserveRequest(bytes, latencyNs uint64, success bool) {
	o.requests.WithLabelValues("request", outcome(success)).Inc()
	o.bytes.WithLabelValues("tx").Add(float64(bytes))
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PromObserver) ObserveResponse(bytes, latencyNs uint64, success bool) {
	o.requests.WithLabelValues("response", outcome(success)).Inc()
	o.bytes.WithLabelValues("rx").Add(float64(bytes))
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PromObserver) ObserveAck(success bool) {
	o.acks.Inc()
	if !success {
		o.requests.WithLabelValues("ack", "error").Inc()
	}
}

func (o *PromObserver) ObserveCreditLeak(n uint64) {
	o.creditsLk.Add(float64(n))
}

func (o *PromObserver) ObserveTaskComplete(success bool) {
	o.tasks.WithLabelValues(outcome(success)).Inc()
}

func (o *PromObserver) ObserveQueueDepth(depth uint32) {
	o.queueDep.Set(float64(depth))
}

var _ Observer = (*PromObserver)(nil)
