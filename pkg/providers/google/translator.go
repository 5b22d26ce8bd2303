// Package google implements a translator over the public gtx endpoint.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/livesub/pkg/adapters/translation"
	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/resilience"
)

const defaultBaseURL = "https://translate.googleapis.com/translate_a/single"

type Config struct {
	Source  string `mapstructure:"source"`
	Target  string `mapstructure:"target"`
	BaseURL string `mapstructure:"base_url"`
	// TimeoutSeconds bounds one HTTP round trip.
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
}

type Translator struct {
	baseURL string
	target  string
	client  *http.Client
	logger  *slog.Logger

	mu     sync.RWMutex
	source string
}

func New(cfg Config, log *slog.Logger) *Translator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Source == "" {
		cfg.Source = "en"
	}
	if cfg.Target == "" {
		cfg.Target = "ko"
	}
	timeout := 10 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	}
	return &Translator{
		baseURL: cfg.BaseURL,
		target:  cfg.Target,
		source:  cfg.Source,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(log, "google_translate"),
	}
}

func (t *Translator) Name() string { return "google_gtx" }

func (t *Translator) SetSourceLanguage(code string) {
	if code == "" {
		return
	}
	t.mu.Lock()
	t.source = code
	t.mu.Unlock()
}

func (t *Translator) Source() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.source
}

// Translate returns the translation of text. Non-200 responses and payloads
// that cannot be parsed yield the source text unchanged.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil
	}
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", t.Source())
	q.Set("tl", t.target)
	q.Set("dt", "t")
	q.Set("q", trimmed)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gtx request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return "", resilience.RateLimitError{
			Provider:   "google",
			Message:    strings.TrimSpace(string(body)),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("gtx_http_status", slog.Int("status", resp.StatusCode))
		return trimmed, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gtx read: %w", err)
	}
	out := parseResponse(body)
	if out == "" {
		t.logger.Warn("gtx_unparsable_response", slog.Int("bytes", len(body)))
		return trimmed, nil
	}
	return out, nil
}

// parseResponse concatenates the translated part of every sentence in a
// gtx payload shaped like [[["translated","source",...],...],...].
func parseResponse(body []byte) string {
	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) == 0 {
		return ""
	}
	var sentences []json.RawMessage
	if err := json.Unmarshal(payload[0], &sentences); err != nil {
		return ""
	}
	var b strings.Builder
	for _, raw := range sentences {
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
			continue
		}
		var translated string
		if err := json.Unmarshal(parts[0], &translated); err != nil {
			continue
		}
		b.WriteString(translated)
	}
	return b.String()
}

var _ translation.Translator = (*Translator)(nil)
var _ translation.SourceSetter = (*Translator)(nil)

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
