package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/livesub/pkg/adapters/translation"
)

type TranslatorConfig struct {
	// Prefix is prepended to every translated line.
	Prefix string
	Delay  time.Duration
	// FailOn maps source text to the error returned for it.
	FailOn map[string]error
	// Response overrides the bundled response of context requests.
	Response func(text string, lines []string) string
}

type TranslateCall struct {
	Text    string
	Context []string
}

// Translator returns its input with a prefix.
type Translator struct {
	cfg   TranslatorConfig
	mu    sync.Mutex
	calls []TranslateCall
}

func NewTranslator(cfg TranslatorConfig) *Translator {
	if cfg.Prefix == "" {
		cfg.Prefix = "tr:"
	}
	return &Translator{cfg: cfg}
}

func (t *Translator) Name() string { return "mock_translator" }

func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	if err := t.enter(ctx, text, nil); err != nil {
		return "", err
	}
	return t.cfg.Prefix + text, nil
}

func (t *Translator) Calls() []TranslateCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TranslateCall(nil), t.calls...)
}

func (t *Translator) enter(ctx context.Context, text string, lines []string) error {
	t.mu.Lock()
	t.calls = append(t.calls, TranslateCall{Text: text, Context: append([]string(nil), lines...)})
	t.mu.Unlock()
	if t.cfg.Delay > 0 {
		select {
		case <-time.After(t.cfg.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err, ok := t.cfg.FailOn[text]; ok {
		return err
	}
	return nil
}

// ContextTranslator also answers bundled requests. By default each line of
// the request is translated on its own line.
type ContextTranslator struct {
	*Translator
}

func NewContextTranslator(cfg TranslatorConfig) *ContextTranslator {
	return &ContextTranslator{Translator: NewTranslator(cfg)}
}

func (t *ContextTranslator) TranslateWithContext(ctx context.Context, text string, lines []string) (string, error) {
	if err := t.enter(ctx, text, lines); err != nil {
		return "", err
	}
	if t.cfg.Response != nil {
		return t.cfg.Response(text, lines), nil
	}
	out := append(append([]string(nil), lines...), text)
	for i, l := range out {
		out[i] = t.cfg.Prefix + l
	}
	return strings.Join(out, "\n"), nil
}

var _ translation.Translator = (*Translator)(nil)
var _ translation.ContextTranslator = (*ContextTranslator)(nil)
