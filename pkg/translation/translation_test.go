package translation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/metrics"
	"github.com/harunnryd/livesub/pkg/pipeline"
	"github.com/harunnryd/livesub/pkg/providers/mock"
	"github.com/harunnryd/livesub/pkg/resilience"
)

func TestSplitContextResponseFallsBackOnLineMismatch(t *testing.T) {
	cases := []struct {
		name  string
		resp  string
		lines []string
		text  string
		want  string
	}{
		{"merged lines", "Bonjour. Comment ça va ? Très bien", []string{"Hello.", "How are you?"}, "Very well", "Bonjour. Comment ça va ? Très bien"},
		{"extra line", "a\nb\nc\nd", []string{"x"}, "y", "a\nb\nc\nd"},
		{"empty response", "  ", []string{"x"}, "y", ""},
		{"no context", " hola ", nil, "hello", "hola"},
	}
	for _, tc := range cases {
		if got := SplitContextResponse(tc.resp, tc.lines, tc.text); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSplitContextResponseStripsContextWhenLinesMatch(t *testing.T) {
	got := SplitContextResponse("Bonjour.\nComment ça va ?\nTrès bien", []string{"Hello.", "How are you?"}, "Very well")
	if got != "Très bien" {
		t.Fatalf("got %q", got)
	}
}

func TestJoinContext(t *testing.T) {
	if got := JoinContext([]string{"a", "b"}, "c"); got != "a\nb\nc" {
		t.Fatalf("got %q", got)
	}
	if got := JoinContext(nil, "c"); got != "c" {
		t.Fatalf("got %q", got)
	}
}

type collected struct {
	results map[uuid.UUID]Result
}

func newDispatcher(tr any, loop *pipeline.Loop, obs metrics.Observer, cfg Config) (*Dispatcher, *collected) {
	c := &collected{results: map[uuid.UUID]Result{}}
	opts := Options{
		Poster:   loop,
		OnResult: func(r Result) { c.results[r.EntryID] = r },
		Observer: obs,
		Config:   cfg,
	}
	switch v := tr.(type) {
	case *mock.Translator:
		opts.Translator = v
	case *mock.ContextTranslator:
		opts.Translator = v
	}
	return NewDispatcher(opts), c
}

func TestFailedEntryDoesNotBlockNextEntry(t *testing.T) {
	tr := mock.NewTranslator(mock.TranslatorConfig{FailOn: map[string]error{"entry x": errors.New("timeout")}})
	loop := pipeline.NewLoop(nil, 16, nil)
	obs := metrics.NewMemoryObserver()
	d, got := newDispatcher(tr, loop, obs, Config{})

	x, y := uuid.New(), uuid.New()
	d.Dispatch(x, "entry x", nil)
	d.Dispatch(y, "entry y", nil)
	d.Wait()
	loop.Drain()

	rx, ry := got.results[x], got.results[y]
	if rx.Err == nil || rx.Translated != "" {
		t.Fatalf("expected x to fail with empty translation, got %+v", rx)
	}
	if !errorsx.HasReason(rx.Err, errorsx.ReasonTranslate) {
		t.Fatalf("expected translation reason, got %s", errorsx.Reason(rx.Err))
	}
	if ry.Err != nil || ry.Translated != "tr:entry y" {
		t.Fatalf("expected y translated independently, got %+v", ry)
	}
	if obs.Count(metrics.EventTranslationFailed) != 1 || obs.Count(metrics.EventTranslationOK) != 1 {
		t.Fatalf("unexpected metrics %d/%d", obs.Count(metrics.EventTranslationFailed), obs.Count(metrics.EventTranslationOK))
	}
	if len(tr.Calls()) != 2 {
		t.Fatalf("expected no retry of the failed entry, got %d calls", len(tr.Calls()))
	}
}

func TestContextRequestUsesWholeResponseOnMismatch(t *testing.T) {
	tr := mock.NewContextTranslator(mock.TranslatorConfig{
		Response: func(text string, lines []string) string { return "one merged line" },
	})
	loop := pipeline.NewLoop(nil, 16, nil)
	d, got := newDispatcher(tr, loop, nil, Config{})
	id := uuid.New()
	d.Dispatch(id, "third", []string{"first", "second"})
	d.Wait()
	loop.Drain()
	if got.results[id].Translated != "one merged line" {
		t.Fatalf("expected whole response, got %q", got.results[id].Translated)
	}
	calls := tr.Calls()
	if len(calls) != 1 || len(calls[0].Context) != 2 {
		t.Fatalf("expected context forwarded, got %+v", calls)
	}
}

func TestContextRequestStripsContextWhenLinesMatch(t *testing.T) {
	tr := mock.NewContextTranslator(mock.TranslatorConfig{})
	loop := pipeline.NewLoop(nil, 16, nil)
	d, got := newDispatcher(tr, loop, nil, Config{})
	id := uuid.New()
	d.Dispatch(id, "third", []string{"first", "second"})
	d.Wait()
	loop.Drain()
	if got.results[id].Translated != "tr:third" {
		t.Fatalf("expected only the entry's line, got %q", got.results[id].Translated)
	}
}

func TestPlainTranslatorIgnoresContext(t *testing.T) {
	tr := mock.NewTranslator(mock.TranslatorConfig{})
	loop := pipeline.NewLoop(nil, 16, nil)
	d, got := newDispatcher(tr, loop, nil, Config{})
	id := uuid.New()
	d.Dispatch(id, "hello", []string{"earlier"})
	d.Wait()
	loop.Drain()
	if got.results[id].Translated != "tr:hello" {
		t.Fatalf("got %q", got.results[id].Translated)
	}
}

func TestBlankTextIsNotSent(t *testing.T) {
	tr := mock.NewTranslator(mock.TranslatorConfig{})
	loop := pipeline.NewLoop(nil, 16, nil)
	d, got := newDispatcher(tr, loop, nil, Config{})
	d.Dispatch(uuid.New(), "   ", nil)
	d.Wait()
	loop.Drain()
	if len(tr.Calls()) != 0 || len(got.results) != 0 {
		t.Fatalf("expected blank text to be skipped")
	}
}

func TestTimeoutLeavesTranslationEmpty(t *testing.T) {
	tr := mock.NewTranslator(mock.TranslatorConfig{Delay: time.Second})
	loop := pipeline.NewLoop(nil, 16, nil)
	d, got := newDispatcher(tr, loop, nil, Config{Timeout: 20 * time.Millisecond})
	id := uuid.New()
	d.Dispatch(id, "slow", nil)
	d.Wait()
	loop.Drain()
	if got.results[id].Err == nil || got.results[id].Translated != "" {
		t.Fatalf("expected timeout error, got %+v", got.results[id])
	}
}

func TestCircuitOpensAfterRateLimits(t *testing.T) {
	rl := resilience.RateLimitError{Provider: "mock"}
	tr := mock.NewTranslator(mock.TranslatorConfig{FailOn: map[string]error{"a": rl, "b": rl}})
	loop := pipeline.NewLoop(nil, 16, nil)
	d, got := newDispatcher(tr, loop, nil, Config{BreakerThreshold: 2, BreakerCooldown: time.Minute})
	for _, text := range []string{"a", "b"} {
		d.Dispatch(uuid.New(), text, nil)
		d.Wait()
	}
	id := uuid.New()
	d.Dispatch(id, "c", nil)
	d.Wait()
	loop.Drain()
	if !errors.Is(got.results[id].Err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", got.results[id].Err)
	}
	if len(tr.Calls()) != 2 {
		t.Fatalf("expected third request not to reach the translator")
	}
}
