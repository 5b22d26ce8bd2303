package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards one in every N events for the high-volume names
// it is configured with and every event for all other names.
type SamplingObserver struct {
	inner       Observer
	sampleEvery uint64
	drop        bool
	names       map[string]struct{}
	counter     uint64
}

func NewSamplingObserver(inner Observer, rate float64, names ...string) *SamplingObserver {
	if rate > 1 {
		rate = 1
	}
	if rate < 0 {
		rate = 0
	}
	s := &SamplingObserver{inner: inner}
	switch {
	case rate == 0:
		s.drop = true
	case rate == 1:
		s.sampleEvery = 1
	default:
		s.sampleEvery = uint64(math.Round(1.0 / rate))
		if s.sampleEvery == 0 {
			s.sampleEvery = 1
		}
	}
	if len(names) > 0 {
		s.names = make(map[string]struct{}, len(names))
		for _, n := range names {
			s.names[n] = struct{}{}
		}
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.names != nil {
		if _, ok := s.names[ev.Name]; !ok {
			s.inner.RecordEvent(ev)
			return
		}
	}
	if s.drop {
		return
	}
	if s.sampleEvery <= 1 {
		s.inner.RecordEvent(ev)
		return
	}
	n := atomic.AddUint64(&s.counter, 1)
	if n%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}

// Flush forwards to inner when it buffers output.
func (s *SamplingObserver) Flush() error {
	if f, ok := s.inner.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
