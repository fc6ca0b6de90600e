package metrics

import "time"

// BroadcastResult captures one fan-out of a request to the fleet.
type BroadcastResult struct {
	RequestID string
	Sent      int
	Failed    int
	BatchSize int
	Duration  time.Duration
	Time      time.Time
}

// SendEvent captures one per-recipient delivery, after retries.
type SendEvent struct {
	RequestID string
	Identity  string
	Attempts  int
	Delivered bool
	Latency   time.Duration
	Time      time.Time
}

// AssignmentEvent captures the outcome of one accept attempt.
type AssignmentEvent struct {
	RequestID   string
	DriverPhone string
	Outcome     string
	Time        time.Time
}

// MetricsSink records dispatch events for observability purposes.
type MetricsSink interface {
	RecordBroadcast(res BroadcastResult) error
	RecordAssignment(ev AssignmentEvent) error
}

// SendRecorder is an optional sink capability for per-recipient events.
type SendRecorder interface {
	RecordSend(ev SendEvent) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordBroadcast(BroadcastResult) error  { return nil }
func (NopSink) RecordAssignment(AssignmentEvent) error { return nil }
