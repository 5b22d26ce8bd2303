// Package openai implements a context-aware translator over chat
// completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	adapter "github.com/harunnryd/livesub/pkg/adapters/translation"
	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/resilience"
	"github.com/harunnryd/livesub/pkg/translation"
)

type Config struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	Source  string `mapstructure:"source"`
	Target  string `mapstructure:"target"`
}

type Translator struct {
	client *goopenai.Client
	model  string
	target string
	logger *slog.Logger

	mu     sync.RWMutex
	source string
}

func New(cfg Config, log *slog.Logger) *Translator {
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT4oMini
	}
	if cfg.Target == "" {
		cfg.Target = "ko"
	}
	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Translator{
		client: goopenai.NewClientWithConfig(oc),
		model:  cfg.Model,
		target: cfg.Target,
		source: cfg.Source,
		logger: logging.NewComponentLogger(log, "openai_translate"),
	}
}

func (t *Translator) Name() string { return "openai" }

func (t *Translator) SetSourceLanguage(code string) {
	t.mu.Lock()
	t.source = code
	t.mu.Unlock()
}

func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	return t.complete(ctx, text, 1)
}

// TranslateWithContext sends the context lines and text as one request. The
// model is asked to answer line for line; the caller splits the response.
func (t *Translator) TranslateWithContext(ctx context.Context, text string, lines []string) (string, error) {
	body := translation.JoinContext(lines, text)
	return t.complete(ctx, body, strings.Count(body, "\n")+1)
}

func (t *Translator) complete(ctx context.Context, body string, lines int) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", nil
	}
	resp, err := t.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: 0,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: t.prompt(lines)},
			{Role: goopenai.ChatMessageRoleUser, Content: body},
		},
	})
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	t.logger.Debug("openai_translation",
		slog.Int("lines", lines),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens))
	return out, nil
}

func (t *Translator) prompt(lines int) string {
	t.mu.RLock()
	source := t.source
	t.mu.RUnlock()
	from := "the spoken language"
	if source != "" {
		from = languageName(source)
	}
	return fmt.Sprintf("You translate live speech subtitles from %s into %s. "+
		"The input has %d line(s). Answer with exactly %d line(s), each the translation of the matching input line. "+
		"Output only the translation.", from, languageName(t.target), lines, lines)
}

func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

func mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return resilience.RateLimitError{Provider: "openai", Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return resilience.RateLimitError{Provider: "openai", Message: reqErr.Error()}
	}
	return fmt.Errorf("openai: %w", err)
}

var _ adapter.ContextTranslator = (*Translator)(nil)
var _ adapter.SourceSetter = (*Translator)(nil)
