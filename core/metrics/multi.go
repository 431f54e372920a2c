package metrics

// MultiSink fans records out to several sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOutcome forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordOutcome(rec OutcomeRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordOutcome(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordRound forwards round statistics to sinks supporting them.
func (m *MultiSink) RecordRound(rec RoundRecord) error {
	for _, s := range m.Sinks {
		if rr, ok := s.(RoundRecorder); ok {
			if err := rr.RecordRound(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordLeaseWait forwards lease latency to sinks supporting it.
func (m *MultiSink) RecordLeaseWait(w LeaseWait) error {
	for _, s := range m.Sinks {
		if lr, ok := s.(LeaseWaitRecorder); ok {
			if err := lr.RecordLeaseWait(w); err != nil {
				return err
			}
		}
	}
	return nil
}
