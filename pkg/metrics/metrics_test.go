package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSamplingOnlyAffectsNamedEvents(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.5, EventAudioFrameForwarded)
	for i := 0; i < 10; i++ {
		s.RecordEvent(MetricsEvent{Name: EventAudioFrameForwarded})
		s.RecordEvent(MetricsEvent{Name: EventEntryCommitted})
	}
	if got := mem.Count(EventAudioFrameForwarded); got != 5 {
		t.Fatalf("expected 5 sampled frame events, got %d", got)
	}
	if got := mem.Count(EventEntryCommitted); got != 10 {
		t.Fatalf("expected all commit events, got %d", got)
	}
}

func TestSamplingZeroRateDropsNamed(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0)
	s.RecordEvent(MetricsEvent{Name: EventEntryCommitted})
	if len(mem.Events) != 0 {
		t.Fatalf("expected no events at zero rate")
	}
}

func TestAsyncObserverDelivers(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 4)
	Record(a, EventTranslationOK, 1, nil)
	deadline := time.Now().Add(time.Second)
	for mem.Count(EventTranslationOK) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	a.Close()
	if mem.Count(EventTranslationOK) != 1 {
		t.Fatalf("expected event to be delivered")
	}
	a.RecordEvent(MetricsEvent{Name: EventTranslationOK})
}

func TestJSONLObserverWritesTags(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)
	o.RecordEvent(MetricsEvent{Name: EventRecognizerRestart, Value: 2, Tags: map[string]string{"locale": "en-US"}})
	if buf.Len() != 0 {
		t.Fatalf("expected output to stay buffered until flush")
	}
	if err := o.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"name":"recognizer_restart"`) || !strings.Contains(out, `"locale":"en-US"`) {
		t.Fatalf("unexpected jsonl output: %s", out)
	}
}

func TestRecordNilObserver(t *testing.T) {
	Record(nil, EventEntryCommitted, 1, nil)
	OrNoop(nil).RecordEvent(MetricsEvent{})
}

type flushRecorder struct {
	*MemoryObserver
	flushed bool
}

func (f *flushRecorder) Flush() error {
	f.flushed = true
	return nil
}

func TestAsyncObserverCloseDrainsAndFlushes(t *testing.T) {
	inner := &flushRecorder{MemoryObserver: NewMemoryObserver()}
	a := NewAsyncObserver(inner, 64)
	for i := 0; i < 10; i++ {
		Record(a, EventEntryCommitted, 1, nil)
	}
	a.Close()
	if got := inner.Count(EventEntryCommitted); got != 10 {
		t.Fatalf("delivered %d events before close returned", got)
	}
	if !inner.flushed {
		t.Fatalf("inner observer not flushed")
	}
	a.Close()
}

func TestAsyncObserverConcurrentClose(t *testing.T) {
	a := NewAsyncObserver(NewMemoryObserver(), 8)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				Record(a, EventAudioFrameForwarded, 1, nil)
			}
		}()
	}
	a.Close()
	wg.Wait()
}
