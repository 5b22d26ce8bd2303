// Package livesub wires recognition, segmentation, the entry store and
// translation into one subtitle engine driven by a single owner loop.
package livesub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/livesub/pkg/adapters/audio"
	"github.com/harunnryd/livesub/pkg/adapters/stt"
	adapter "github.com/harunnryd/livesub/pkg/adapters/translation"
	"github.com/harunnryd/livesub/pkg/capture"
	"github.com/harunnryd/livesub/pkg/clock"
	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/history"
	"github.com/harunnryd/livesub/pkg/languages"
	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/metrics"
	"github.com/harunnryd/livesub/pkg/pipeline"
	"github.com/harunnryd/livesub/pkg/recognition"
	"github.com/harunnryd/livesub/pkg/redact"
	"github.com/harunnryd/livesub/pkg/segment"
	"github.com/harunnryd/livesub/pkg/subtitles"
	"github.com/harunnryd/livesub/pkg/translation"
)

// ErrNoSource is returned by StartCapture when the engine has no audio
// source.
var ErrNoSource = fmt.Errorf("%w: no audio source configured", errorsx.ErrNoSource)

type Options struct {
	Config     Config
	Source     audio.Source
	Factory    stt.EngineFactory
	Translator adapter.Translator
	// History receives translated entries of recorded sessions; optional.
	History  history.Sink
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer metrics.Observer
	// Recognition overrides the controller's restart policy; zero values
	// keep the defaults.
	Recognition recognition.Config
}

// Engine is the subtitle pipeline. Commands may be called from any
// goroutine once Run has started; they execute on the owner loop.
type Engine struct {
	cfg        Config
	loop       *pipeline.Loop
	log        *slog.Logger
	obs        metrics.Observer
	source     audio.Source
	translator adapter.Translator
	history    history.Sink

	ctrl       *recognition.Controller
	seg        *segment.Segmenter
	store      *subtitles.Store
	dispatcher *translation.Dispatcher
	forwarder  *capture.Forwarder

	ctx    context.Context
	cancel context.CancelFunc

	// owner-only
	locale      string
	capturing   bool
	saveSession bool
	autoDetect  bool
	detected    string
	errMsg      string
	handle      *capture.Handle
	expiry      clock.Timer

	snap  atomic.Pointer[Snapshot]
	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

func NewEngine(opts Options) *Engine {
	cfg := opts.Config
	redact.SetEnabled(cfg.Privacy.RedactTranscripts)
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		log:        logging.NewComponentLogger(opts.Logger, "livesub"),
		obs:        metrics.OrNoop(opts.Observer),
		source:     opts.Source,
		translator: opts.Translator,
		history:    opts.History,
		ctx:        ctx,
		cancel:     cancel,
		locale:     cfg.Recognition.Locale,
		autoDetect: cfg.Recognition.AutoDetect,
		subs:       make(map[chan Snapshot]struct{}),
	}
	if e.locale == "" {
		e.locale = DefaultConfig().Recognition.Locale
	}
	e.loop = pipeline.NewLoop(opts.Clock, 0, opts.Logger)
	e.store = subtitles.NewStore(cfg.Subtitles.MaxEntries, cfg.EntryTTL())
	e.seg = segment.New(segment.Config{PauseTimeout: cfg.PauseTimeout()}, e.loop, e.commit, opts.Logger)

	rc := opts.Recognition
	if rc.SampleRate == 0 {
		rc.SampleRate = cfg.Recognition.SampleRate
	}
	e.ctrl = recognition.NewController(recognition.Options{
		Factory:   opts.Factory,
		Poster:    e.loop,
		Scheduler: e.loop,
		OnText:    e.onText,
		OnFatal:   e.onFatal,
		Logger:    opts.Logger,
		Observer:  opts.Observer,
		Config:    rc,
		Context:   ctx,
	})
	e.dispatcher = translation.NewDispatcher(translation.Options{
		Translator: opts.Translator,
		Poster:     e.loop,
		OnResult:   e.onTranslation,
		Logger:     opts.Logger,
		Observer:   opts.Observer,
		Config: translation.Config{
			Timeout:          cfg.TranslationTimeout(),
			BreakerThreshold: cfg.Translation.BreakerThreshold,
			BreakerCooldown:  cfg.BreakerCooldown(),
		},
	})
	e.forwarder = capture.NewForwarder(capture.AppenderFunc(e.ctrl.Append), opts.Logger, opts.Observer)
	e.setSourceLanguage(e.locale)
	e.loop.AfterEach(e.publish)
	e.publish()
	return e
}

// Run processes engine work until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine_started", "locale", e.locale, "max_entries", e.cfg.Subtitles.MaxEntries)
	err := e.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops capture and waits for in-flight translations, or until ctx
// is done. The loop must still be running.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.StopCapture(ctx)
	if errors.Is(err, pipeline.ErrLoopClosed) {
		err = nil
	}
	done := make(chan struct{})
	go func() {
		e.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("shutdown_translations_abandoned")
	}
	e.dispatcher.Close()
	e.cancel()
	e.closeSubscribers()
	return err
}

// StartCapture starts recognition and then the audio source. When
// saveSession is set, translated entries are recorded to history.
func (e *Engine) StartCapture(ctx context.Context, saveSession, useOnDevice bool) error {
	return e.loop.Call(ctx, func() error {
		return e.startCapture(saveSession, useOnDevice)
	})
}

// StopCapture flushes remaining live text and stops recognition and audio.
func (e *Engine) StopCapture(ctx context.Context) error {
	return e.loop.Call(ctx, func() error {
		return e.stopCapture(ctx)
	})
}

// ChangeSourceLanguage switches the recognizer to code and turns off
// auto-detection. Recognition restarts only if capture is on.
func (e *Engine) ChangeSourceLanguage(ctx context.Context, code string, useOnDevice bool) error {
	locale, err := languages.SpeechLocale(code)
	if err != nil {
		return fmt.Errorf("%w: %v", errorsx.ErrEngineUnavailable, err)
	}
	return e.loop.Call(ctx, func() error {
		e.autoDetect = false
		e.detected = ""
		return e.switchLocale(locale, useOnDevice)
	})
}

// EnableAutoDetect makes the engine guess the spoken language from the
// first confident partial text and switch to it.
func (e *Engine) EnableAutoDetect(ctx context.Context) error {
	return e.loop.Call(ctx, func() error {
		e.autoDetect = true
		e.detected = ""
		e.log.Info("auto_detect_enabled")
		return nil
	})
}

// Source returns the audio source the engine captures from.
func (e *Engine) Source() audio.Source { return e.source }

func (e *Engine) startCapture(saveSession, onDevice bool) error {
	if e.capturing {
		return nil
	}
	if e.source == nil {
		e.errMsg = ErrNoSource.Error()
		return ErrNoSource
	}
	e.errMsg = ""
	if err := e.ctrl.Start(e.ctx, e.locale, onDevice); err != nil {
		e.errMsg = err.Error()
		e.log.Error("capture_start_failed", "error", err, "reason", errorsx.Reason(err))
		return err
	}
	in, err := e.source.StartCapture(e.ctx)
	if err != nil {
		e.ctrl.Stop()
		err = errorsx.Wrap(err, errorsx.ReasonAudioSetup)
		e.errMsg = err.Error()
		e.log.Error("audio_start_failed", "source", e.source.Name(), "error", err, "reason", errorsx.Reason(err))
		return err
	}
	e.capturing = true
	e.saveSession = saveSession
	e.store.Clear()
	e.seg.Reset()
	if e.autoDetect {
		e.detected = ""
	}
	e.handle = capture.Start(e.ctx, e.forwarder, in)
	e.expiry = e.loop.Every(subtitles.SweepInterval, e.sweep)
	if saveSession && e.history != nil {
		e.history.StartSession()
	}
	e.log.Info("capture_started",
		"source", e.source.Name(),
		"locale", e.locale,
		"on_device", onDevice,
		"save_session", saveSession,
	)
	return nil
}

func (e *Engine) stopCapture(ctx context.Context) error {
	if !e.capturing {
		return nil
	}
	if e.handle != nil {
		e.handle.Stop()
		e.handle = nil
	}
	e.seg.Flush()
	e.ctrl.Stop()
	e.seg.Reset()
	if e.expiry != nil {
		e.expiry.Stop()
		e.expiry = nil
	}
	err := e.source.StopCapture(ctx)
	if err != nil {
		e.log.Warn("audio_stop_failed", "source", e.source.Name(), "error", err)
	}
	e.capturing = false
	if e.saveSession && e.history != nil {
		e.history.EndSession()
	}
	e.log.Info("capture_stopped", "entries", e.store.Len())
	return err
}

func (e *Engine) switchLocale(locale string, onDevice bool) error {
	if err := e.ctrl.ChangeLocale(e.ctx, locale, onDevice); err != nil {
		e.log.Error("locale_change_failed", "locale", locale, "error", err, "reason", errorsx.Reason(err))
		if !e.capturing {
			e.errMsg = err.Error()
		}
		return err
	}
	e.locale = locale
	e.setSourceLanguage(locale)
	return nil
}

func (e *Engine) setSourceLanguage(locale string) {
	setter, ok := e.translator.(adapter.SourceSetter)
	if !ok {
		return
	}
	setter.SetSourceLanguage(sourceLanguage(locale))
}

func (e *Engine) onText(text string) {
	e.seg.Update(text)
	if text != "" {
		e.maybeDetect(text)
	}
}

func (e *Engine) maybeDetect(text string) {
	if !e.autoDetect || e.detected != "" || !e.capturing {
		return
	}
	det, ok := languages.Detect(text)
	if !ok {
		return
	}
	lang := det.Language
	e.detected = lang.Name
	metrics.Record(e.obs, metrics.EventLanguageDetected, det.Confidence, map[string]string{"language": lang.Code})
	e.log.Info("language_detected", "language", lang.Code, "confidence", det.Confidence)
	if lang.Speech == e.locale {
		return
	}
	onDevice := e.ctrl.OnDevice()
	e.loop.Defer(func() {
		if !e.capturing {
			return
		}
		if err := e.switchLocale(lang.Speech, onDevice); err != nil {
			return
		}
		e.seg.Reset()
	})
}

func (e *Engine) commit(chunks []string, trigger segment.Trigger) {
	for _, text := range chunks {
		if strings.TrimSpace(text) == "" {
			continue
		}
		recent := e.store.Recent(e.cfg.Translation.ContextEntries)
		entry := subtitles.NewEntry(text, e.loop.Now())
		if trimmed := e.store.Append(entry); trimmed > 0 {
			metrics.Record(e.obs, metrics.EventEntriesTrimmed, float64(trimmed), nil)
		}
		metrics.Record(e.obs, metrics.EventEntryCommitted, 1, map[string]string{
			"entry_id": entry.ID.String(),
			"trigger":  string(trigger),
		})
		e.log.Debug("entry_committed",
			"entry_id", entry.ID.String(),
			"trigger", string(trigger),
			"text", redact.Transcript(text),
		)
		e.dispatcher.Dispatch(entry.ID, text, recent)
	}
}

func (e *Engine) onTranslation(res translation.Result) {
	if res.Err != nil {
		return
	}
	if !e.store.UpdateTranslation(res.EntryID, res.Translated) {
		e.log.Debug("translation_discarded", "entry_id", res.EntryID.String())
		return
	}
	if e.saveSession && e.history != nil {
		e.history.RecordEntry(res.Source, res.Translated)
	}
}

func (e *Engine) onFatal(err error) {
	e.errMsg = err.Error()
	e.log.Error("capture_failed", "error", err, "reason", errorsx.Reason(err))
	_ = e.stopCapture(e.ctx)
}

func (e *Engine) sweep() {
	if n := e.store.SweepExpired(e.loop.Now()); n > 0 {
		metrics.Record(e.obs, metrics.EventEntriesExpired, float64(n), nil)
	}
}
