// Package telemetry wires the gateway's Prometheus metrics surface: one
// sink shared across ingress, egress, the card engine, the bus, DLQ,
// idempotency guard, and backpressure limiters.
package telemetry

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Sink is the full telemetry surface every gateway component records
// against. The narrower interfaces other packages declare (card.Sink,
// egress.Metrics, ingress.Metrics, idempotency.ErrorCounter) are satisfied
// structurally by *Sink without an explicit interface assertion.
type Sink struct {
	registry *prometheus.Registry

	ingressReceived   *prometheus.CounterVec
	ingressRejected   *prometheus.CounterVec
	ingressDuplicate  *prometheus.CounterVec
	egressSent        *prometheus.CounterVec
	egressFailed      *prometheus.CounterVec
	egressRetries     *prometheus.CounterVec
	egressLatency     *prometheus.HistogramVec
	cardRendered      *prometheus.CounterVec
	cardDowngraded    *prometheus.CounterVec
	cardWarnings      prometheus.Histogram
	dlqDepth          *prometheus.GaugeVec
	dlqReplayed       *prometheus.CounterVec
	busRedelivered    *prometheus.CounterVec
	busAckFailures    *prometheus.CounterVec
	rateLimitedTotal  *prometheus.CounterVec
	idempotencyHits   *prometheus.CounterVec
	backendErrors     *prometheus.CounterVec
	resourceCPU       prometheus.Gauge
	resourceHeapMB    prometheus.Gauge
	resourceGoroutine prometheus.Gauge

	mu         sync.RWMutex
	lastCPU    float64
}

// NewSink registers every gateway metric against a fresh, private
// Prometheus registry (so multiple Sinks, e.g. one per test, never collide
// on the global default registry), matching the teacher's pattern of one
// flat constructor per metrics family.
func NewSink() *Sink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Sink{
		registry: reg,
		ingressReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ingress_messages_received_total",
			Help: "Total inbound platform messages accepted for processing.",
		}, []string{"tenant", "platform"}),
		ingressRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ingress_messages_rejected_total",
			Help: "Total inbound messages rejected (bad signature, malformed, bot echo).",
		}, []string{"tenant", "platform", "reason"}),
		ingressDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ingress_messages_duplicate_total",
			Help: "Total inbound messages suppressed by the idempotency guard.",
		}, []string{"tenant", "platform"}),
		egressSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_egress_messages_sent_total",
			Help: "Total outbound messages successfully delivered to a platform.",
		}, []string{"tenant", "platform"}),
		egressFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_egress_messages_failed_total",
			Help: "Total outbound messages that exhausted retries and landed in the DLQ.",
		}, []string{"tenant", "platform"}),
		egressRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_egress_retries_total",
			Help: "Total outbound delivery retry attempts.",
		}, []string{"tenant", "platform"}),
		egressLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_egress_send_latency_seconds",
			Help:    "Time spent in a single platform send attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		cardRendered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_card_renders_total",
			Help: "Total card renders by platform and resulting tier.",
		}, []string{"platform", "tier"}),
		cardDowngraded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_card_downgrades_total",
			Help: "Total card renders that required a tier downgrade.",
		}, []string{"platform"}),
		cardWarnings: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_card_render_warnings",
			Help:    "Warning count per card render.",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		dlqDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_dlq_depth",
			Help: "Approximate DLQ entry count by tenant and stage.",
		}, []string{"tenant", "stage"}),
		dlqReplayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_dlq_replayed_total",
			Help: "Total DLQ entries replayed.",
		}, []string{"tenant", "stage"}),
		busRedelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_bus_redeliveries_total",
			Help: "Total JetStream message redeliveries observed by a consumer.",
		}, []string{"subject"}),
		busAckFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_bus_ack_failures_total",
			Help: "Total failures to ack/nak a delivered message.",
		}, []string{"subject"}),
		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total requests rejected by a backpressure limiter.",
		}, []string{"scope"}),
		idempotencyHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_idempotency_duplicate_total",
			Help: "Total ShouldProcess calls that found an existing key.",
		}, []string{"tenant"}),
		backendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_errors_total",
			Help: "Generic backend error counter, labeled by caller-supplied name and tenant.",
		}, []string{"name", "tenant"}),
		resourceCPU: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_process_cpu_percent",
			Help: "Smoothed process CPU usage percentage.",
		}),
		resourceHeapMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_process_heap_mb",
			Help: "Go heap allocation in megabytes.",
		}),
		resourceGoroutine: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_process_goroutines",
			Help: "Current goroutine count.",
		}),
	}
}

// Registry returns the private registry this sink's metrics were
// registered against, for mounting promhttp.HandlerFor in cmd/ binaries.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// IngressReceived records an accepted inbound message.
func (s *Sink) IngressReceived(tenant, platform string) {
	s.ingressReceived.WithLabelValues(tenant, platform).Inc()
}

// IngressRejected records a rejected inbound message with a short reason
// code (bad_signature, malformed, bot_echo, unsupported_type, ...).
func (s *Sink) IngressRejected(tenant, platform, reason string) {
	s.ingressRejected.WithLabelValues(tenant, platform, reason).Inc()
}

// IngressDuplicate records an inbound message suppressed by the idempotency
// guard.
func (s *Sink) IngressDuplicate(tenant, platform string) {
	s.ingressDuplicate.WithLabelValues(tenant, platform).Inc()
}

// EgressSent records a successful outbound delivery.
func (s *Sink) EgressSent(tenant, platform string) {
	s.egressSent.WithLabelValues(tenant, platform).Inc()
}

// EgressFailed records an outbound delivery that exhausted its retries.
func (s *Sink) EgressFailed(tenant, platform string) {
	s.egressFailed.WithLabelValues(tenant, platform).Inc()
}

// EgressRetried records a single retry attempt.
func (s *Sink) EgressRetried(tenant, platform string) {
	s.egressRetries.WithLabelValues(tenant, platform).Inc()
}

// EgressLatency records the duration of one platform send attempt.
func (s *Sink) EgressLatency(platform string, d time.Duration) {
	s.egressLatency.WithLabelValues(platform).Observe(d.Seconds())
}

// CardRendered satisfies card.Sink: records a render by platform/tier and,
// when downgraded, bumps the downgrade counter too.
func (s *Sink) CardRendered(platform, tier string, warningCount int, downgraded bool) {
	s.cardRendered.WithLabelValues(platform, tier).Inc()
	s.cardWarnings.Observe(float64(warningCount))
	if downgraded {
		s.cardDowngraded.WithLabelValues(platform).Inc()
	}
}

// DLQDepthSet records the current (approximate) DLQ size for a tenant/stage.
func (s *Sink) DLQDepthSet(tenant, stage string, depth int) {
	s.dlqDepth.WithLabelValues(tenant, stage).Set(float64(depth))
}

// DLQReplayed records replayed DLQ entries.
func (s *Sink) DLQReplayed(tenant, stage string, count int) {
	s.dlqReplayed.WithLabelValues(tenant, stage).Add(float64(count))
}

// BusRedelivered records a JetStream redelivery for subject.
func (s *Sink) BusRedelivered(subject string) {
	s.busRedelivered.WithLabelValues(subject).Inc()
}

// BusAckFailure records a failed ack/nak call for subject.
func (s *Sink) BusAckFailure(subject string) {
	s.busAckFailures.WithLabelValues(subject).Inc()
}

// RateLimited records a request rejected by a backpressure limiter under
// the given scope (e.g. "tenant:acme", "webchat-token:1.2.3.4").
func (s *Sink) RateLimited(scope string) {
	s.rateLimitedTotal.WithLabelValues(scope).Inc()
}

// IdempotencyDuplicate records a ShouldProcess call that found an existing
// key for tenant.
func (s *Sink) IdempotencyDuplicate(tenant string) {
	s.idempotencyHits.WithLabelValues(tenant).Inc()
}

// IncCounter satisfies idempotency.ErrorCounter: a catch-all for ad hoc
// backend-error counters that don't warrant their own typed method.
func (s *Sink) IncCounter(name string, labels map[string]string) {
	s.backendErrors.WithLabelValues(name, labels["tenant"]).Inc()
}

// ResourceSampler periodically refreshes the process CPU/heap/goroutine
// gauges, grounded on the teacher's SystemMetrics EMA-smoothed sampler.
type ResourceSampler struct {
	sink *Sink
}

// NewResourceSampler binds a sampler to sink.
func NewResourceSampler(sink *Sink) *ResourceSampler {
	return &ResourceSampler{sink: sink}
}

// Sample takes one CPU/memory/goroutine reading and publishes it, smoothing
// CPU with an exponential moving average to avoid spiky single-sample
// readings.
func (r *ResourceSampler) Sample() {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()

	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		const alpha = 0.3
		if r.sink.lastCPU == 0 {
			r.sink.lastCPU = percents[0]
		} else {
			r.sink.lastCPU = alpha*percents[0] + (1-alpha)*r.sink.lastCPU
		}
		r.sink.resourceCPU.Set(r.sink.lastCPU)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r.sink.resourceHeapMB.Set(float64(mem.HeapAlloc) / 1024 / 1024)
	r.sink.resourceGoroutine.Set(float64(runtime.NumGoroutine()))
}

// Run samples every interval until ctx-equivalent stop channel closes.
func (r *ResourceSampler) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Sample()
		}
	}
}
