package livesub

import (
	"slices"

	"github.com/harunnryd/livesub/pkg/subtitles"
)

// Snapshot is the observable state of the engine after a step.
type Snapshot struct {
	Entries          []subtitles.Entry `json:"entries"`
	LiveText         string            `json:"live_text"`
	Capturing        bool              `json:"capturing"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	DetectedLanguage string            `json:"detected_language,omitempty"`
	AutoDetect       bool              `json:"auto_detect"`
	Locale           string            `json:"locale"`
	RecognizerState  string            `json:"recognizer_state"`
}

func (s Snapshot) equal(o Snapshot) bool {
	return s.LiveText == o.LiveText &&
		s.Capturing == o.Capturing &&
		s.ErrorMessage == o.ErrorMessage &&
		s.DetectedLanguage == o.DetectedLanguage &&
		s.AutoDetect == o.AutoDetect &&
		s.Locale == o.Locale &&
		s.RecognizerState == o.RecognizerState &&
		slices.Equal(s.Entries, o.Entries)
}

// Snapshot returns the state as of the last completed step. Safe from any
// goroutine.
func (e *Engine) Snapshot() Snapshot {
	p := e.snap.Load()
	if p == nil {
		return Snapshot{}
	}
	s := *p
	s.Entries = slices.Clone(s.Entries)
	return s
}

// Subscribe returns a channel receiving the latest snapshot after every
// change. Slow readers only see the newest one. The channel is closed by
// cancel or by Shutdown.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- e.Snapshot()
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()
	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (e *Engine) publish() {
	next := Snapshot{
		Entries:          e.store.Snapshot(),
		LiveText:         e.seg.Live(),
		Capturing:        e.capturing,
		ErrorMessage:     e.errMsg,
		DetectedLanguage: e.detected,
		AutoDetect:       e.autoDetect,
		Locale:           e.locale,
		RecognizerState:  e.ctrl.State().String(),
	}
	if prev := e.snap.Load(); prev != nil && prev.equal(next) {
		return
	}
	e.snap.Store(&next)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
}
