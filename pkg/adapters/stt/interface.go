package stt

import (
	"context"

	"github.com/harunnryd/livesub/pkg/frames"
)

// Result is one recognizer update. Text is the full cumulative hypothesis for
// the session so far, not a delta. Err is set when the session failed; Text
// may still carry the last partial hypothesis in that case.
type Result struct {
	Text    string
	IsFinal bool
	Err     error
}

// SessionOptions configures a recognition session.
type SessionOptions struct {
	Locale         string
	OnDevice       bool
	PartialResults bool
	SampleRate     int
	Channels       int
}

// Session is one live recognition request.
type Session interface {
	// Append feeds one audio buffer. Safe to call from the audio goroutine.
	Append(frame frames.AudioFrame) error
	// Results is closed when the session ends for any reason.
	Results() <-chan Result
	// Cancel ends the session; no further results are delivered after it
	// returns except those already buffered.
	Cancel()
}

// Engine is a speech recognizer bound to one locale.
type Engine interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Authorize checks the user or account may use recognition.
	Authorize(ctx context.Context) error
	// IsAvailable reports whether the engine can currently serve locale.
	IsAvailable(locale string) bool
	// CreateSession opens a new live session.
	CreateSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// EngineFactory builds an engine for a locale. Called on start, on locale
// change and on periodic recreation.
type EngineFactory func(locale string) (Engine, error)
