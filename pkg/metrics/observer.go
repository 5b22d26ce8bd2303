package metrics

import "time"

// Event names recorded by the subtitle pipeline.
const (
	EventEntryCommitted       = "entry_committed"
	EventEntriesTrimmed       = "entries_trimmed"
	EventEntriesExpired       = "entries_expired"
	EventTranslationOK        = "translation_ok"
	EventTranslationFailed    = "translation_failed"
	EventTranslationSkipped   = "translation_skipped"
	EventRecognizerStart      = "recognizer_start"
	EventRecognizerRestart    = "recognizer_restart"
	EventRecognizerRecreate   = "recognizer_recreate"
	EventRecognizerStaleEvent = "recognizer_stale_event"
	EventRecognizerFailed     = "recognizer_failed"
	EventAudioFrameForwarded  = "audio_frame_forwarded"
	EventAudioFrameDropped    = "audio_frame_dropped"
	EventLanguageDetected     = "language_detected"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record emits a named event with value 1 (or the given value) on obs.
// A nil observer is ignored.
func Record(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  tags,
	})
}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}
