package metrics

import coremetrics "github.com/coopertaxi/dispatchd/core/metrics"

// MultiSink fans dispatch events out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordBroadcast forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordBroadcast(res coremetrics.BroadcastResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordBroadcast(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordAssignment forwards the record to all sinks.
func (m *MultiSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignment(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordSend forwards per-recipient events to the sinks that support them.
func (m *MultiSink) RecordSend(ev coremetrics.SendEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.SendRecorder); ok {
			if err := rec.RecordSend(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
