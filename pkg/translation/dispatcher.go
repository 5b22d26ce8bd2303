// Package translation fans committed subtitle entries out to a translator,
// one asynchronous request per entry.
package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	adapter "github.com/harunnryd/livesub/pkg/adapters/translation"
	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/metrics"
	"github.com/harunnryd/livesub/pkg/redact"
	"github.com/harunnryd/livesub/pkg/resilience"
)

// ErrCircuitOpen is returned for entries skipped while the translator is
// rate limited.
var ErrCircuitOpen = errors.New("translation: circuit open")

const DefaultTimeout = 10 * time.Second

type Config struct {
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Poster delivers a closure to the owner loop.
type Poster interface {
	Post(fn func()) bool
}

// Result is delivered on the owner loop once a request finishes.
type Result struct {
	EntryID    uuid.UUID
	Source     string
	Translated string
	Err        error
	Elapsed    time.Duration
}

type Options struct {
	Translator adapter.Translator
	Poster     Poster
	// OnResult runs on the owner loop for every finished request.
	OnResult func(Result)
	Logger   *slog.Logger
	Observer metrics.Observer
	Config   Config
}

type Dispatcher struct {
	tr       adapter.Translator
	poster   Poster
	onResult func(Result)
	log      *slog.Logger
	obs      metrics.Observer
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(opts Options) *Dispatcher {
	timeout := opts.Config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		tr:       opts.Translator,
		poster:   opts.Poster,
		onResult: opts.OnResult,
		log:      logging.NewComponentLogger(opts.Logger, "translation"),
		obs:      metrics.OrNoop(opts.Observer),
		timeout:  timeout,
		breaker:  resilience.NewCircuitBreaker(opts.Config.BreakerThreshold, opts.Config.BreakerCooldown),
		ctx:      ctx,
		cancel:   cancel,
	}
	if d.onResult == nil {
		d.onResult = func(Result) {}
	}
	return d
}

// Dispatch starts translating text for entry id without blocking. lines
// holds preceding entries, oldest first, and may be empty.
func (d *Dispatcher) Dispatch(id uuid.UUID, text string, lines []string) {
	if strings.TrimSpace(text) == "" || d.tr == nil {
		metrics.Record(d.obs, metrics.EventTranslationSkipped, 1, map[string]string{"entry_id": id.String()})
		return
	}
	ctxLines := append([]string(nil), lines...)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res := d.run(id, text, ctxLines)
		d.poster.Post(func() { d.onResult(res) })
	}()
}

// Wait blocks until every dispatched request has finished and its result
// has been posted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close abandons in-flight requests.
func (d *Dispatcher) Close() {
	d.cancel()
}

func (d *Dispatcher) run(id uuid.UUID, text string, lines []string) Result {
	start := time.Now()
	res := Result{EntryID: id, Source: text}
	tags := map[string]string{"entry_id": id.String(), "translator": d.tr.Name()}

	if !d.breaker.Allow() {
		res.Err = errorsx.Wrap(ErrCircuitOpen, errorsx.ReasonTranslateCircuitOpen)
		metrics.Record(d.obs, metrics.EventTranslationFailed, 1, tags)
		d.log.Warn("translation_skipped", "entry_id", id.String(), "reason", errorsx.Reason(res.Err))
		return res
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	out, err := d.translate(ctx, text, lines)
	res.Elapsed = time.Since(start)
	if err != nil {
		d.breaker.OnError(err)
		reason := errorsx.ReasonTranslate
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonTranslateRateLimit
		}
		res.Err = errorsx.Wrap(err, reason)
		metrics.Record(d.obs, metrics.EventTranslationFailed, 1, tags)
		d.log.Warn("translation_failed",
			"entry_id", id.String(),
			"text", redact.Transcript(text),
			"error", err,
			"reason", errorsx.Reason(res.Err),
		)
		return res
	}
	d.breaker.OnSuccess()
	res.Translated = out
	metrics.Record(d.obs, metrics.EventTranslationOK, float64(res.Elapsed.Milliseconds()), tags)
	d.log.Debug("translation_ok",
		"entry_id", id.String(),
		"text", redact.Transcript(text),
		"translated", redact.Transcript(out),
		"context_lines", len(lines),
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res
}

func (d *Dispatcher) translate(ctx context.Context, text string, lines []string) (string, error) {
	if len(lines) > 0 {
		if ct, ok := d.tr.(adapter.ContextTranslator); ok {
			resp, err := ct.TranslateWithContext(ctx, text, lines)
			if err != nil {
				return "", fmt.Errorf("%s: %w", ct.Name(), err)
			}
			return SplitContextResponse(resp, lines, text), nil
		}
	}
	out, err := d.tr.Translate(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%s: %w", d.tr.Name(), err)
	}
	return strings.TrimSpace(out), nil
}
