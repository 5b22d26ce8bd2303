// Package recognition keeps one live speech recognition session running for
// as long as capture is on, restarting it after every final result or error
// and recreating the engine periodically.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/harunnryd/livesub/pkg/adapters/stt"
	"github.com/harunnryd/livesub/pkg/clock"
	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/frames"
	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/metrics"
	"github.com/harunnryd/livesub/pkg/redact"
	"github.com/harunnryd/livesub/pkg/resilience"
)

const (
	// DefaultCycleRecreateThreshold is how many sessions one engine serves
	// before it is replaced.
	DefaultCycleRecreateThreshold = 5
	DefaultMaxRestartRetries      = 3
	DefaultRestartBackoff         = 2 * time.Second
)

type Config struct {
	CycleRecreateThreshold int
	MaxRestartRetries      int
	RestartBackoff         time.Duration
	SampleRate             int
	Channels               int
}

func DefaultConfig() Config {
	return Config{
		CycleRecreateThreshold: DefaultCycleRecreateThreshold,
		MaxRestartRetries:      DefaultMaxRestartRetries,
		RestartBackoff:         DefaultRestartBackoff,
		SampleRate:             16000,
		Channels:               1,
	}
}

// Poster delivers a closure to the owner loop.
type Poster interface {
	Post(fn func()) bool
}

// Event is one recognizer result tagged with the epoch of the session that
// produced it. Closed marks the end of that session's result stream.
type Event struct {
	Epoch  uint64
	Result stt.Result
	Closed bool
}

type Options struct {
	Factory   stt.EngineFactory
	Poster    Poster
	Scheduler clock.Scheduler
	// OnText receives every change of the cumulative text; "" marks a
	// session boundary.
	OnText func(text string)
	// OnFatal receives errors that end capture, such as exhausted restarts.
	OnFatal  func(err error)
	Logger   *slog.Logger
	Observer metrics.Observer
	Config   Config
	// Context bounds the lifetime of recognition sessions.
	Context context.Context
}

// Controller owns the recognition session. Every method except Append must be
// called from the owner loop.
type Controller struct {
	factory stt.EngineFactory
	poster  Poster
	sched   clock.Scheduler
	onText  func(string)
	onFatal func(error)
	log     *slog.Logger
	obs     metrics.Observer
	cfg     Config
	policy  resilience.RetryPolicy
	baseCtx context.Context

	engine   stt.Engine
	locale   string
	onDevice bool
	state    State
	epoch    uint64
	cycles   int
	retries  int
	text     string
	retry    clock.Timer

	slot atomic.Pointer[activeSession]
}

type activeSession struct {
	epoch uint64
	sess  stt.Session
}

func NewController(opts Options) *Controller {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.CycleRecreateThreshold <= 0 {
		cfg.CycleRecreateThreshold = def.CycleRecreateThreshold
	}
	if cfg.MaxRestartRetries <= 0 {
		cfg.MaxRestartRetries = def.MaxRestartRetries
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = def.RestartBackoff
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Controller{
		factory: opts.Factory,
		poster:  opts.Poster,
		sched:   opts.Scheduler,
		onText:  opts.OnText,
		onFatal: opts.OnFatal,
		log:     logging.NewComponentLogger(opts.Logger, "recognizer"),
		obs:     metrics.OrNoop(opts.Observer),
		cfg:     cfg,
		policy:  resilience.NewRetryPolicy(cfg.MaxRestartRetries, cfg.RestartBackoff),
		baseCtx: ctx,
	}
	if c.onText == nil {
		c.onText = func(string) {}
	}
	if c.onFatal == nil {
		c.onFatal = func(error) {}
	}
	if c.sched == nil {
		c.sched = clock.Real{}
	}
	return c
}

func (c *Controller) State() State   { return c.state }
func (c *Controller) Epoch() uint64   { return c.epoch }
func (c *Controller) Locale() string  { return c.locale }
func (c *Controller) OnDevice() bool  { return c.onDevice }
func (c *Controller) Text() string    { return c.text }
func (c *Controller) Cycles() int     { return c.cycles }
func (c *Controller) Retries() int    { return c.retries }

// Engine returns the engine serving the current locale, if any.
func (c *Controller) Engine() stt.Engine { return c.engine }

// Active reports whether a session is running or being restarted.
func (c *Controller) Active() bool {
	return c.state == StateActive || c.state == StateRestarting
}

// Start authorizes and opens the first session for locale. A running
// session is stopped first.
func (c *Controller) Start(ctx context.Context, locale string, onDevice bool) error {
	if c.state != StateIdle {
		c.Stop()
	}
	if err := c.setState(StateAuthorizing); err != nil {
		return err
	}
	if c.engine == nil || locale != c.locale {
		eng, err := c.buildEngine(locale)
		if err != nil {
			_ = c.setState(StateIdle)
			return err
		}
		c.engine = eng
	}
	c.locale = locale
	c.onDevice = onDevice
	if err := c.authorize(ctx); err != nil {
		return err
	}
	c.cycles = 0
	c.retries = 0
	if err := c.begin(); err != nil {
		_ = c.setState(StateIdle)
		return err
	}
	metrics.Record(c.obs, metrics.EventRecognizerStart, 1, map[string]string{"locale": locale})
	return nil
}

// Stop ends the session. Results still in flight from it are discarded.
// Safe to call in any state.
func (c *Controller) Stop() {
	c.cancelRetry()
	c.epoch++
	if old := c.slot.Swap(nil); old != nil {
		old.sess.Cancel()
	}
	c.setText("")
	if c.state != StateIdle {
		_ = c.setState(StateIdle)
		c.log.Info("recognizer_stopped", "epoch", c.epoch)
	}
}

// ChangeLocale switches the recognizer to locale. The session restarts only
// if one was active. When no engine can be built for locale the current
// session keeps running. If the new session cannot be opened the controller
// keeps retrying like any other restart and reports through OnFatal once
// retries run out; an authorization failure is reported through OnFatal
// right away.
func (c *Controller) ChangeLocale(ctx context.Context, locale string, onDevice bool) error {
	eng, err := c.buildEngine(locale)
	if err != nil {
		return err
	}
	wasActive := c.Active()
	c.Stop()
	c.engine = eng
	c.locale = locale
	c.onDevice = onDevice
	c.cycles = 0
	c.retries = 0
	c.log.Info("recognizer_locale_changed", "locale", locale, "restart", wasActive)
	if !wasActive {
		return nil
	}
	if err := c.setState(StateAuthorizing); err != nil {
		return err
	}
	if err := c.authorize(ctx); err != nil {
		c.onFatal(err)
		return err
	}
	if err := c.begin(); err != nil {
		_ = c.setState(StateRestarting)
		metrics.Record(c.obs, metrics.EventRecognizerRestart, 1, map[string]string{"cause": "locale_change"})
		c.backoff(err)
		return nil
	}
	metrics.Record(c.obs, metrics.EventRecognizerStart, 1, map[string]string{"locale": locale})
	return nil
}

// authorize moves back to idle when the engine refuses.
func (c *Controller) authorize(ctx context.Context) error {
	err := c.engine.Authorize(ctx)
	if err == nil {
		return nil
	}
	_ = c.setState(StateIdle)
	if !errors.Is(err, errorsx.ErrAuthorization) {
		err = fmt.Errorf("%w: %v", errorsx.ErrAuthorization, err)
	}
	c.log.Error("recognizer_unauthorized", "engine", c.engine.Name(), "error", err)
	return errorsx.Wrap(err, errorsx.ReasonSTTAuthorize)
}

// Append forwards one audio buffer to the current session. It reports false
// when no session is running, in which case the frame is dropped. Safe to
// call from any goroutine.
func (c *Controller) Append(frame frames.AudioFrame) bool {
	a := c.slot.Load()
	if a == nil {
		return false
	}
	if err := a.sess.Append(frame); err != nil {
		return false
	}
	return true
}

// Dispatch handles one recognizer event. Events from any session other than
// the current one are dropped here.
func (c *Controller) Dispatch(ev Event) {
	if ev.Epoch != c.epoch || c.state != StateActive {
		metrics.Record(c.obs, metrics.EventRecognizerStaleEvent, 1, nil)
		c.log.Debug("recognizer_stale_event", "event_epoch", ev.Epoch, "epoch", c.epoch, "state", c.state.String())
		return
	}
	res := ev.Result
	switch {
	case ev.Closed:
		c.log.Warn("recognizer_session_closed", "epoch", ev.Epoch)
		c.setText("")
		c.restart("closed")
	case res.Err != nil:
		if res.Text != "" {
			c.setText(res.Text)
		}
		c.log.Warn("recognizer_error",
			"epoch", ev.Epoch,
			"error", res.Err,
			"reason", errorsx.Reason(res.Err),
			"had_text", res.Text != "",
		)
		c.setText("")
		c.restart("error")
	case res.IsFinal:
		c.setText(res.Text)
		c.log.Info("recognizer_final", "epoch", ev.Epoch, "text", redact.Transcript(res.Text))
		c.setText("")
		c.restart("final")
	default:
		c.setText(res.Text)
	}
}

func (c *Controller) setText(text string) {
	if text == c.text {
		return
	}
	c.text = text
	c.onText(text)
}

func (c *Controller) setState(to State) error {
	if !transitionValid(c.state, to) {
		err := &InvalidTransitionError{From: c.state, To: to}
		c.log.Error("recognizer_invalid_transition", "error", err)
		return err
	}
	c.state = to
	return nil
}

func (c *Controller) buildEngine(locale string) (stt.Engine, error) {
	if c.factory == nil {
		return nil, fmt.Errorf("%w: no engine factory", errorsx.ErrEngineUnavailable)
	}
	eng, err := c.factory(locale)
	if err != nil {
		if !errors.Is(err, errorsx.ErrEngineUnavailable) {
			err = fmt.Errorf("%w: %v", errorsx.ErrEngineUnavailable, err)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonSTTUnavailable)
	}
	if eng == nil {
		return nil, fmt.Errorf("%w: factory returned no engine for %s", errorsx.ErrEngineUnavailable, locale)
	}
	return eng, nil
}

// begin opens a new session and makes it current. Every attempt counts as a
// cycle, failed ones included.
func (c *Controller) begin() error {
	c.cycles++
	if c.cycles > c.cfg.CycleRecreateThreshold {
		eng, err := c.buildEngine(c.locale)
		if err != nil {
			return err
		}
		c.engine = eng
		c.cycles = 1
		metrics.Record(c.obs, metrics.EventRecognizerRecreate, 1, map[string]string{"locale": c.locale})
		c.log.Info("recognizer_recreated", "locale", c.locale)
	}
	if !c.engine.IsAvailable(c.locale) {
		return errorsx.Newf(errorsx.ErrEngineUnavailable, errorsx.ReasonSTTUnavailable, "locale %s", c.locale)
	}
	sess, err := c.engine.CreateSession(c.baseCtx, stt.SessionOptions{
		Locale:         c.locale,
		OnDevice:       c.onDevice,
		PartialResults: true,
		SampleRate:     c.cfg.SampleRate,
		Channels:       c.cfg.Channels,
	})
	if err != nil {
		if !errors.Is(err, errorsx.ErrEngineUnavailable) && !errors.Is(err, errorsx.ErrAuthorization) {
			err = fmt.Errorf("%w: %v", errorsx.ErrTransport, err)
		}
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	c.epoch++
	next := &activeSession{epoch: c.epoch, sess: sess}
	if old := c.slot.Swap(next); old != nil {
		old.sess.Cancel()
	}
	if err := c.setState(StateActive); err != nil {
		return err
	}
	c.log.Info("recognizer_session_started",
		"engine", c.engine.Name(),
		"locale", c.locale,
		"epoch", c.epoch,
		"cycle", c.cycles,
	)
	go c.pump(next)
	return nil
}

func (c *Controller) pump(a *activeSession) {
	for res := range a.sess.Results() {
		ev := Event{Epoch: a.epoch, Result: res}
		if !c.poster.Post(func() { c.Dispatch(ev) }) {
			return
		}
	}
	c.poster.Post(func() { c.Dispatch(Event{Epoch: a.epoch, Closed: true}) })
}

func (c *Controller) restart(cause string) {
	c.epoch++
	if old := c.slot.Swap(nil); old != nil {
		old.sess.Cancel()
	}
	if err := c.setState(StateRestarting); err != nil {
		return
	}
	metrics.Record(c.obs, metrics.EventRecognizerRestart, 1, map[string]string{"cause": cause})
	c.attempt()
}

func (c *Controller) attempt() {
	err := c.begin()
	if err == nil {
		c.retries = 0
		return
	}
	c.backoff(err)
}

// backoff schedules the next attempt after a failed one, or fails the
// controller once the policy is exhausted.
func (c *Controller) backoff(err error) {
	c.retries++
	delay, ok := c.policy.Next(c.retries)
	if !ok {
		c.fail(err)
		return
	}
	c.log.Warn("recognizer_restart_failed",
		"error", err,
		"reason", errorsx.Reason(err),
		"attempt", c.retries,
		"backoff", delay,
	)
	c.retry = c.sched.AfterFunc(delay, func() {
		c.retry = nil
		if c.state != StateRestarting {
			return
		}
		c.attempt()
	})
}

func (c *Controller) fail(cause error) {
	c.epoch++
	_ = c.setState(StateFailed)
	err := errorsx.Newf(errorsx.ErrRestartExhausted, errorsx.ReasonSTTExhausted, "%v", cause)
	metrics.Record(c.obs, metrics.EventRecognizerFailed, 1, nil)
	c.log.Error("recognizer_restart_exhausted", "error", err, "retries", c.retries)
	c.onFatal(err)
}

func (c *Controller) cancelRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}
