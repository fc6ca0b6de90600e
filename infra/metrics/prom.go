package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/coopertaxi/dispatchd/core/metrics"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	broadcasts  *prometheus.CounterVec
	sends       *prometheus.CounterVec
	sendLatency *prometheus.HistogramVec
	assignments *prometheus.CounterVec
	batchSize   prometheus.Gauge
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusAddr.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	broadcasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_broadcast_recipients_total",
		Help: "Recipients per broadcast, by delivery outcome",
	}, []string{"outcome"})
	sends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sends_total",
		Help: "Per-recipient delivery attempts after retries",
	}, []string{"delivered"})
	sendLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_send_latency_seconds",
		Help:    "Time from first attempt to delivery outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"delivered"})
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_assignments_total",
		Help: "Accept attempts by outcome",
	}, []string{"outcome"})
	batchSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_batch_size",
		Help: "Batch size used by the last broadcast",
	})

	if err := reg.Register(broadcasts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			broadcasts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(sends); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			sends = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(sendLatency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			sendLatency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(assignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			assignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(batchSize); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			batchSize = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		broadcasts:  broadcasts,
		sends:       sends,
		sendLatency: sendLatency,
		assignments: assignments,
		batchSize:   batchSize,
	}, nil
}

// RecordBroadcast counts per-recipient outcomes and tracks the batch size.
func (s *PromSink) RecordBroadcast(res coremetrics.BroadcastResult) error {
	s.broadcasts.WithLabelValues("sent").Add(float64(res.Sent))
	s.broadcasts.WithLabelValues("failed").Add(float64(res.Failed))
	s.batchSize.Set(float64(res.BatchSize))
	return nil
}

// RecordAssignment counts one accept attempt by outcome.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(ev.Outcome).Inc()
	return nil
}

// RecordSend counts one per-recipient delivery and its latency.
func (s *PromSink) RecordSend(ev coremetrics.SendEvent) error {
	delivered := strconv.FormatBool(ev.Delivered)
	s.sends.WithLabelValues(delivered).Inc()
	s.sendLatency.WithLabelValues(delivered).Observe(ev.Latency.Seconds())
	return nil
}
