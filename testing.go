package urpc

import "sync"

// MockObserver implements Observer, recording every call for assertion
// in tests. It is the testing-domain counterpart to MetricsObserver:
// where MetricsObserver accumulates into Metrics, MockObserver keeps
// raw per-call records so a test can inspect exactly what was observed
// and in what order.
type MockObserver struct {
	mu sync.Mutex

	requests  []observedTransfer
	responses []observedTransfer
	acks      []bool
	creditLeaks []uint64
	taskCompletes []bool
	queueDepths []uint32
}

type observedTransfer struct {
	Bytes     uint64
	LatencyNs uint64
	Success   bool
}

// NewMockObserver creates an empty MockObserver.
func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

func (o *MockObserver) ObserveRequest(bytes, latencyNs uint64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, observedTransfer{bytes, latencyNs, success})
}

func (o *MockObserver) ObserveResponse(bytes, latencyNs uint64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, observedTransfer{bytes, latencyNs, success})
}

func (o *MockObserver) ObserveAck(success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acks = append(o.acks, success)
}

func (o *MockObserver) ObserveCreditLeak(n uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.creditLeaks = append(o.creditLeaks, n)
}

func (o *MockObserver) ObserveTaskComplete(success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taskCompletes = append(o.taskCompletes, success)
}

func (o *MockObserver) ObserveQueueDepth(depth uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queueDepths = append(o.queueDepths, depth)
}

// RequestCount returns how many requests were observed.
func (o *MockObserver) RequestCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

// ResponseCount returns how many responses were observed.
func (o *MockObserver) ResponseCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.responses)
}

// AckCount returns how many acks were observed, and how many of those
// were successful.
func (o *MockObserver) AckCount() (total, successes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	total = len(o.acks)
	for _, ok := range o.acks {
		if ok {
			successes++
		}
	}
	return
}

// TotalCreditsLeaked sums every ObserveCreditLeak call.
func (o *MockObserver) TotalCreditsLeaked() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var total uint64
	for _, n := range o.creditLeaks {
		total += n
	}
	return total
}

// TaskCompleteCount returns how many task completions were observed,
// and how many of those succeeded.
func (o *MockObserver) TaskCompleteCount() (total, successes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	total = len(o.taskCompletes)
	for _, ok := range o.taskCompletes {
		if ok {
			successes++
		}
	}
	return
}

// QueueDepths returns every depth sample observed, in order.
func (o *MockObserver) QueueDepths() []uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]uint32, len(o.queueDepths))
	copy(out, o.queueDepths)
	return out
}

// Reset clears all recorded observations.
func (o *MockObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = nil
	o.responses = nil
	o.acks = nil
	o.creditLeaks = nil
	o.taskCompletes = nil
	o.queueDepths = nil
}

var _ Observer = (*MockObserver)(nil)
