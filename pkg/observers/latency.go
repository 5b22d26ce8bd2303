package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/metrics"
)

// LatencyObserver measures the time from an entry being committed to its
// translation arriving (or failing), keyed by the entry_id tag.
type LatencyObserver struct {
	mu      sync.Mutex
	pending map[string]time.Time
	log     *slog.Logger
	last    time.Duration
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = logging.Discard()
	}
	return &LatencyObserver{
		pending: make(map[string]time.Time),
		log:     log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ""
	if ev.Tags != nil {
		id = ev.Tags["entry_id"]
	}
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventEntryCommitted:
		o.pending[id] = ev.Time
	case metrics.EventTranslationOK, metrics.EventTranslationFailed, metrics.EventTranslationSkipped:
		start, ok := o.pending[id]
		if !ok {
			return
		}
		delete(o.pending, id)
		o.last = durationOf(start, ev.Time)
		o.log.Info("translation_latency",
			"entry_id", id,
			"outcome", ev.Name,
			"latency_ms", o.last.Milliseconds(),
		)
	}
}

// Pending returns how many committed entries are still awaiting a result.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Last returns the most recently measured latency.
func (o *LatencyObserver) Last() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func durationOf(a, b time.Time) time.Duration {
	if a.IsZero() || b.IsZero() || b.Before(a) {
		return 0
	}
	return b.Sub(a)
}
